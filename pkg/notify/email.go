package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/harvestly/warden/pkg/model"
)

// EmailChannel sends alerts over SMTP.
type EmailChannel struct {
	host       string
	port       int
	username   string
	password   string
	from       string
	recipients []string

	// sendMail is swappable for tests.
	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// EmailOptions configures an SMTP channel.
type EmailOptions struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	Recipients []string
}

// NewEmailChannel creates an SMTP channel.
func NewEmailChannel(opts EmailOptions) (*EmailChannel, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("%w: email requires an smtp host", ErrChannelConfig)
	}
	if len(opts.Recipients) == 0 {
		return nil, fmt.Errorf("%w: email requires at least one recipient", ErrChannelConfig)
	}
	if opts.Port <= 0 {
		opts.Port = 587
	}
	if opts.From == "" {
		opts.From = opts.Username
	}
	return &EmailChannel{
		host:       opts.Host,
		port:       opts.Port,
		username:   opts.Username,
		password:   opts.Password,
		from:       opts.From,
		recipients: opts.Recipients,
		sendMail:   smtp.SendMail,
	}, nil
}

func (e *EmailChannel) Name() string { return "email" }

func (e *EmailChannel) Send(ctx context.Context, alert model.Alert) error {
	// smtp.SendMail has no context hook; run it aside and honor ctx here so
	// a stuck server cannot stall the fanout join.
	errCh := make(chan error, 1)
	go func() {
		errCh <- e.send(alert)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return fmt.Errorf("send email alert: %w", ctx.Err())
	}
}

func (e *EmailChannel) send(alert model.Alert) error {
	var auth smtp.Auth
	if e.username != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.host)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(e.recipients, ", "))
	fmt.Fprintf(&b, "Subject: [%s] %s\r\n", strings.ToUpper(string(alert.Level)), alert.Title)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	fmt.Fprintf(&b, "%s\r\n\r\nSource: %s\r\nRaised: %s\r\n",
		alert.Message, alert.Source, alert.CreatedAt.Format("2006-01-02 15:04:05 UTC"))
	for k, v := range alert.Metadata {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}

	addr := fmt.Sprintf("%s:%d", e.host, e.port)
	if err := e.sendMail(addr, auth, e.from, e.recipients, []byte(b.String())); err != nil {
		return fmt.Errorf("send email alert: %w", err)
	}
	return nil
}
