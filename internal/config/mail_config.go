package config

import "time"

type MailConfig interface {
	GetIMAPAddr() string
	GetIMAPUser() string
	GetIMAPPassword() string
	GetMailSender() string
	GetMailSubject() string
	GetMailPollInterval() time.Duration
}

type Mail struct{}

var _ MailConfig = Mail{}

func (Mail) GetIMAPAddr() string {
	return GetEnv("IMAP_ADDR", "imap.gmail.com:993")
}

func (Mail) GetIMAPUser() string {
	return GetEnv("IMAP_USER", "")
}

func (Mail) GetIMAPPassword() string {
	return GetEnv("IMAP_PASS", "")
}

func (Mail) GetMailSender() string {
	return GetEnv("MFA_MAIL_SENDER", "clientes@clientesiberdrola.es")
}

// GetMailSubject returns the substring that identifies a verification mail.
func (Mail) GetMailSubject() string {
	return GetEnv("MFA_MAIL_SUBJECT", "código de verificación")
}

func (Mail) GetMailPollInterval() time.Duration {
	return GetEnvDuration("MFA_MAIL_POLL_INTERVAL", 5*time.Second)
}
