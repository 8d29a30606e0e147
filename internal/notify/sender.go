// Package notify tells operators outside Telegram that a support message
// arrived.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/rs/zerolog"

	"github.com/deep2look/bot/internal/config"
)

type Alert struct {
	UserID    int64
	UserLabel string
	NodeText  string
	Body      string
}

type Sender interface {
	NotifySupport(ctx context.Context, a Alert) error
}

type NoneSender struct{}

func (NoneSender) NotifySupport(context.Context, Alert) error { return nil }

type LogSender struct {
	log zerolog.Logger
}

func (s LogSender) NotifySupport(ctx context.Context, a Alert) error {
	_ = ctx
	s.log.Info().
		Int64("user_id", a.UserID).
		Str("user", a.UserLabel).
		Str("topic", a.NodeText).
		Int("length", len(a.Body)).
		Msg("support message received")
	return nil
}

type SMTPSender struct {
	host     string
	port     int
	from     string
	to       []string
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSender(cfg config.Config, log zerolog.Logger) Sender {
	switch cfg.NotifySender {
	case "smtp":
		if cfg.NotifyFrom == "" || len(cfg.NotifyTo) == 0 {
			log.Warn().Msg("smtp notifications need NOTIFY_FROM and NOTIFY_TO; falling back to log")
			return LogSender{log: log}
		}
		return SMTPSender{
			host:     cfg.SMTPHost,
			port:     cfg.SMTPPort,
			from:     cfg.NotifyFrom,
			to:       cfg.NotifyTo,
			sendMail: smtp.SendMail,
		}
	case "none":
		return NoneSender{}
	default:
		return LogSender{log: log}
	}
}

func (s SMTPSender) NotifySupport(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := buildAlert(s.from, s.to, a, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("build alert: %w", err)
	}
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	return s.sendMail(addr, nil, s.from, s.to, raw)
}

func buildAlert(from string, to []string, a Alert, now time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	rcpt := make([]*mail.Address, 0, len(to))
	for _, addr := range to {
		rcpt = append(rcpt, &mail.Address{Address: strings.TrimSpace(addr)})
	}
	h.SetAddressList("To", rcpt)
	h.SetSubject(fmt.Sprintf("Support message from %s", a.UserLabel))
	h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(w, "From: %s (id %d)\r\n", a.UserLabel, a.UserID)
	if a.NodeText != "" {
		fmt.Fprintf(w, "Topic: %s\r\n", a.NodeText)
	}
	fmt.Fprintf(w, "\r\n%s\r\n", a.Body)
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
