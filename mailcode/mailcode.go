// Package mailcode resolves out-of-band MFA challenges by watching a mailbox
// for the provider's verification mail and extracting the six-digit code.
package mailcode

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/chargekeep/chargekeep/internal/config"
)

// ErrTimeout is returned when no matching mail arrives before the deadline.
// The caller must treat it as a failed MFA attempt, not retry indefinitely.
var ErrTimeout = errors.New("no verification code arrived before the deadline")

// Message is one mail as seen by the solver.
type Message struct {
	From     string
	Subject  string
	Received time.Time
	Body     string
}

// Mailbox lists recent messages, most recent first.
type Mailbox interface {
	Recent(ctx context.Context, limit int) ([]Message, error)
	Close() error
}

// recentLimit bounds how many messages a single poll inspects.
const recentLimit = 10

// The code sits in a <strong> cell of the HTML mail; the later patterns are
// progressively looser fallbacks.
var codePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?is)<strong>\s*(\d{6})\s*</strong>`),
	regexp.MustCompile(`(?is)c[oó]digo[^<]*<[^>]*>\s*(\d{6})`),
	regexp.MustCompile(`\b(\d{6})\b`),
}

// Reader polls the mailbox for a challenge code.
type Reader struct {
	cfg    config.MailConfig
	logger zerolog.Logger
	dial   func(ctx context.Context) (Mailbox, error)
}

// ReaderOption configures a Reader.
type ReaderOption func(*Reader)

// WithMailboxDialer replaces the IMAP dialer (for tests).
func WithMailboxDialer(dial func(ctx context.Context) (Mailbox, error)) ReaderOption {
	return func(r *Reader) {
		r.dial = dial
	}
}

func NewReader(cfg config.MailConfig, logger zerolog.Logger, options ...ReaderOption) *Reader {
	r := &Reader{
		cfg:    cfg,
		logger: logger.With().Str("component", "mailcode").Logger(),
	}
	r.dial = func(ctx context.Context) (Mailbox, error) {
		return DialIMAP(ctx, cfg)
	}
	for _, opt := range options {
		opt(r)
	}
	return r
}

// Solve polls the mailbox until a verification mail received at or after
// requestedAt shows up, and returns its code. Mails older than requestedAt
// are ignored even when they match the sender and subject; a stale code
// belongs to a previous challenge and would be rejected by the provider
// anyway. Returns ErrTimeout once deadline passes.
func (r *Reader) Solve(ctx context.Context, requestedAt, deadline time.Time) (string, error) {
	mbox, err := r.dial(ctx)
	if err != nil {
		return "", errors.Wrap(err, "[Reader.Solve] dial mailbox")
	}
	defer mbox.Close()

	interval := r.cfg.GetMailPollInterval()
	if interval <= 0 {
		interval = 5 * time.Second
	}

	for {
		code, err := r.scan(ctx, mbox, requestedAt)
		if err != nil {
			return "", err
		}
		if code != "" {
			r.logger.Info().Msg("verification code found")
			return code, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", ErrTimeout
		}

		// The final sleep is shortened to the deadline so a code arriving in
		// the last partial interval still gets one scan.
		wait := interval
		if remaining < wait {
			wait = remaining
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", errors.Wrap(ctx.Err(), "[Reader.Solve] cancelled")
		case <-timer.C:
		}
	}
}

func (r *Reader) scan(ctx context.Context, mbox Mailbox, requestedAt time.Time) (string, error) {
	messages, err := mbox.Recent(ctx, recentLimit)
	if err != nil {
		return "", errors.Wrap(err, "[Reader.scan] list recent mail")
	}

	sender := strings.ToLower(r.cfg.GetMailSender())
	subject := strings.ToLower(r.cfg.GetMailSubject())

	for _, msg := range messages {
		if !strings.Contains(strings.ToLower(msg.From), sender) {
			continue
		}
		if !strings.Contains(strings.ToLower(msg.Subject), subject) {
			continue
		}
		if msg.Received.Before(requestedAt) {
			continue
		}
		if code := ExtractCode(msg.Body); code != "" {
			return code, nil
		}
	}
	return "", nil
}

// ExtractCode pulls a six-digit code out of a mail body.
func ExtractCode(body string) string {
	for _, pattern := range codePatterns {
		if m := pattern.FindStringSubmatch(body); m != nil {
			return m[1]
		}
	}
	return ""
}
