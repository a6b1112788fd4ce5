// Package mail delivers password reset links.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
)

// ResetLink appends the reset ticket to base as the "token" query parameter.
func ResetLink(base, token string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse reset url: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// LogSender writes reset links to the logger instead of sending mail.
// It is meant for local development.
type LogSender struct {
	resetURL string
	logger   *slog.Logger
}

func NewLogSender(resetURL string, logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{resetURL: resetURL, logger: logger}
}

func (s *LogSender) SendPasswordReset(ctx context.Context, email, token string) error {
	link, err := ResetLink(s.resetURL, token)
	if err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "password reset link", "email", email, "link", link)
	return nil
}
