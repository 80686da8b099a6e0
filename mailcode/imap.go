package mailcode

import (
	"context"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/pkg/errors"

	"github.com/chargekeep/chargekeep/internal/config"
)

// imapMailbox reads the inbox over IMAP with TLS. The connection lives for
// one Solve call; each MFA challenge dials fresh.
type imapMailbox struct {
	client *client.Client
}

// DialIMAP connects and authenticates against the configured IMAP server.
func DialIMAP(ctx context.Context, cfg config.MailConfig) (Mailbox, error) {
	c, err := client.DialTLS(cfg.GetIMAPAddr(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "[DialIMAP] dial")
	}
	if err := c.Login(cfg.GetIMAPUser(), cfg.GetIMAPPassword()); err != nil {
		c.Logout()
		return nil, errors.Wrap(err, "[DialIMAP] login")
	}
	return &imapMailbox{client: c}, nil
}

func (m *imapMailbox) Recent(ctx context.Context, limit int) ([]Message, error) {
	mbox, err := m.client.Select("INBOX", true)
	if err != nil {
		return nil, errors.Wrap(err, "[imapMailbox.Recent] select inbox")
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	from := mbox.Messages
	var to uint32 = 1
	if from > uint32(limit) {
		to = from - uint32(limit) + 1
	}
	seqset := new(imap.SeqSet)
	seqset.AddRange(to, from)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, section.FetchItem()}

	ch := make(chan *imap.Message, limit)
	done := make(chan error, 1)
	go func() {
		done <- m.client.Fetch(seqset, items, ch)
	}()

	var messages []Message
	for msg := range ch {
		messages = append(messages, toMessage(msg, section))
	}
	if err := <-done; err != nil {
		return nil, errors.Wrap(err, "[imapMailbox.Recent] fetch")
	}

	// Most recent first.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (m *imapMailbox) Close() error {
	return m.client.Logout()
}

func toMessage(msg *imap.Message, section *imap.BodySectionName) Message {
	out := Message{Received: msg.InternalDate}
	if env := msg.Envelope; env != nil {
		out.Subject = env.Subject
		if !env.Date.IsZero() {
			out.Received = env.Date
		}
		if len(env.From) > 0 {
			out.From = env.From[0].Address()
		}
	}
	if r := msg.GetBody(section); r != nil {
		if body, err := io.ReadAll(r); err == nil {
			out.Body = string(body)
		}
	}
	if out.Received.IsZero() {
		out.Received = time.Now()
	}
	return out
}
