// Package email sends batched failure digests over SMTP.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"fmt"
	"html/template"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/config"
	"github.com/jon4hz/jellyfetch/internal/engine"
	mail "github.com/xhit/go-simple-mail/v2"
)

// maxPending bounds the events kept between two flushes.
const maxPending = 500

//go:embed templates/*.html
var templatesFS embed.FS

var templates = template.Must(template.New("").Funcs(template.FuncMap{
	"datetime": func(t time.Time) string { return t.Format("2006-01-02 15:04") },
}).ParseFS(templatesFS, "templates/*.html"))

// Digest is the data of one digest email.
type Digest struct {
	Events  []engine.Event
	Dropped int
	SentAt  time.Time
}

// NotificationService collects failure events and mails them as one digest.
type NotificationService struct {
	config *config.EmailConfig

	mu      sync.Mutex
	pending []engine.Event
	dropped int

	send func(to, subject, body string) error
}

// New creates a new email notification service.
func New(cfg *config.EmailConfig) *NotificationService {
	n := &NotificationService{config: cfg}
	n.send = n.sendEmail
	return n
}

// Notify queues failure events for the next digest.
func (n *NotificationService) Notify(_ context.Context, ev engine.Event) error {
	if !ev.Failure || !n.config.Enabled {
		return nil
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.pending) >= maxPending {
		n.dropped++
		return nil
	}
	n.pending = append(n.pending, ev)
	return nil
}

// Flush mails every queued event. Nothing is sent when the queue is empty.
// Events are requeued when sending fails.
func (n *NotificationService) Flush(_ context.Context) error {
	n.mu.Lock()
	events, dropped := n.pending, n.dropped
	n.pending, n.dropped = nil, 0
	n.mu.Unlock()

	if len(events) == 0 {
		return nil
	}
	if n.config.To == "" {
		log.Warn("Email recipient is empty, discarding digest", "events", len(events))
		return nil
	}

	subject := fmt.Sprintf("[Jellyfetch] %d items need attention", len(events))
	body, err := generateEmailBody(Digest{Events: events, Dropped: dropped, SentAt: time.Now()})
	if err != nil {
		return fmt.Errorf("failed to generate email body: %w", err)
	}

	if err := n.send(n.config.To, subject, body); err != nil {
		n.requeue(events, dropped)
		return err
	}
	log.Info("Sent failure digest", "to", n.config.To, "events", len(events))
	return nil
}

func (n *NotificationService) requeue(events []engine.Event, dropped int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	merged := append(events, n.pending...)
	if over := len(merged) - maxPending; over > 0 {
		merged = merged[:maxPending]
		dropped += over
	}
	n.pending = merged
	n.dropped += dropped
}

// generateEmailBody creates the HTML email body.
func generateEmailBody(d Digest) (string, error) {
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, "digest.html", d); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// sendEmail sends an email using go-simple-mail library.
func (n *NotificationService) sendEmail(to, subject, body string) error {
	server := mail.NewSMTPClient()
	server.Host = n.config.SMTPHost
	server.Port = n.config.SMTPPort
	server.Username = n.config.Username
	server.Password = n.config.Password

	switch {
	case n.config.UseSSL:
		server.Encryption = mail.EncryptionSSLTLS
	case n.config.UseTLS:
		server.Encryption = mail.EncryptionSTARTTLS
	default:
		server.Encryption = mail.EncryptionNone
	}

	if n.config.InsecureSkipVerify {
		server.TLSConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec
	}

	server.KeepAlive = false
	server.ConnectTimeout = 10 * time.Second
	server.SendTimeout = 10 * time.Second

	smtpClient, err := server.Connect()
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer func() {
		if closeErr := smtpClient.Close(); closeErr != nil {
			log.Warn("Failed to close SMTP client", "error", closeErr)
		}
	}()

	email := mail.NewMSG()
	fromName := n.config.FromName
	if fromName == "" {
		fromName = "Jellyfetch"
	}
	email.SetFrom(fmt.Sprintf("%s <%s>", fromName, n.config.FromEmail))
	email.AddTo(to)
	email.SetSubject(subject)
	email.SetBody(mail.TextHTML, body)

	if email.Error != nil {
		return fmt.Errorf("failed to create email: %w", email.Error)
	}
	if err := email.Send(smtpClient); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	log.Debug("Email sent successfully", "to", to, "subject", subject)
	return nil
}
