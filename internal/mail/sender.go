package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"

	"github.com/msomdec/daily-report/internal/config"
)

const resetSubject = "Reset your password"

// Sender sends password reset mail over SMTP.
type Sender struct {
	cfg      config.MailConfig
	resetURL string
}

func NewSender(cfg config.MailConfig, resetURL string) *Sender {
	return &Sender{cfg: cfg, resetURL: resetURL}
}

func (s *Sender) SendPasswordReset(ctx context.Context, email, token string) error {
	link, err := ResetLink(s.resetURL, token)
	if err != nil {
		return err
	}

	text := fmt.Sprintf("Someone asked to reset the password for this account.\r\n\r\n"+
		"Open the link below to choose a new password:\r\n%s\r\n\r\n"+
		"If this wasn't you, you can ignore this message.\r\n", link)

	return s.Send(ctx, email, resetSubject, text)
}

// Send delivers a plain-text message to a single recipient.
func (s *Sender) Send(ctx context.Context, to, subject, text string) error {
	if s.cfg.Host == "" || s.cfg.From == "" {
		return errors.New("smtp is not configured")
	}
	if strings.ContainsAny(to, "\r\n") || strings.ContainsAny(subject, "\r\n") {
		return errors.New("invalid header value")
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", s.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", to)
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
	msg.WriteString(text)

	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	if !s.cfg.Secure {
		if ok, _ := client.Extension("STARTTLS"); ok {
			if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
				return fmt.Errorf("starttls: %w", err)
			}
		}
	}

	if s.cfg.Username != "" {
		auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write([]byte(msg.String())); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close body: %w", err)
	}
	return client.Quit()
}

func (s *Sender) dial(ctx context.Context) (*smtp.Client, error) {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))

	var (
		conn net.Conn
		err  error
	)
	if s.cfg.Secure {
		d := &tls.Dialer{Config: &tls.Config{ServerName: s.cfg.Host}}
		conn, err = d.DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		conn, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial smtp: %w", err)
	}

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("smtp handshake: %w", err)
	}
	return client, nil
}
