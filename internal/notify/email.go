package notify

import (
	"fmt"
	"log/slog"
	"net/smtp"
	"strconv"

	"github.com/soudan-ai/soudan/internal/model"
)

// MailerConfig holds SMTP configuration for mention emails.
type MailerConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	BaseURL  string
}

// Mailer sends mention notification emails over SMTP. A nil *Mailer is valid
// and disables email delivery.
type Mailer struct {
	cfg    MailerConfig
	server string
	auth   smtp.Auth
	logger *slog.Logger

	// send is swappable in tests; defaults to smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewMailer creates a mailer, or nil when no SMTP host is configured.
func NewMailer(cfg MailerConfig, logger *slog.Logger) *Mailer {
	if cfg.Host == "" {
		return nil
	}
	var auth smtp.Auth
	if cfg.Username != "" {
		auth = smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
	}
	return &Mailer{
		cfg:    cfg,
		server: cfg.Host + ":" + strconv.Itoa(cfg.Port),
		auth:   auth,
		logger: logger,
		send:   smtp.SendMail,
	}
}

// SendMentionEmails emails each mentioned user after the notification batch
// has committed. Delivery is best-effort: failures are logged, never returned,
// since the in-app notification already exists.
func (m *Mailer) SendMentionEmails(actor model.User, mentioned []model.User, questionID string, questionTitle string) {
	if m == nil {
		return
	}
	for _, u := range mentioned {
		subject := fmt.Sprintf("%s mentioned you on soudan", actor.Username)
		body := fmt.Sprintf(
			"%s mentioned you in %q.\n\nView the question: %s/questions/%s\n",
			actor.Username, questionTitle, m.cfg.BaseURL, questionID,
		)
		msg := []byte(
			"To: " + u.Email + "\r\n" +
				"From: " + m.cfg.From + "\r\n" +
				"Subject: " + subject + "\r\n" +
				"Content-Type: text/plain; charset=UTF-8\r\n" +
				"\r\n" +
				body,
		)
		if err := m.send(m.server, m.auth, m.cfg.From, []string{u.Email}, msg); err != nil {
			m.logger.Warn("notify: mention email failed", "to", u.Email, "error", err)
		}
	}
}
