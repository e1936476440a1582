package delivery

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/smtp"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/gomail.v2"
)

const (
	implicitTLSPort    = 465
	defaultSMTPPort    = 587
	defaultSMTPTimeout = 30 * time.Second
	defaultFromName    = "Lead Generation"
)

// SMTPConfig holds SMTP server settings.
type SMTPConfig struct {
	Host      string
	Port      int
	Username  string
	Password  string
	FromEmail string
	FromName  string
	Timeout   time.Duration
}

// Configured reports whether every required setting is present.
func (c SMTPConfig) Configured() bool {
	return c.Host != "" && c.Username != "" && c.Password != "" && c.FromEmail != ""
}

// SMTPTransport sends mail through an SMTP relay with gomail. The session
// upgrades to STARTTLS when the server offers it, and uses implicit TLS on
// port 465.
type SMTPTransport struct {
	cfg  SMTPConfig
	dial func(ctx context.Context) (gomail.SendCloser, error)
}

// NewSMTPTransport creates an SMTPTransport. Sends fail with
// ErrTransportNotConfigured until cfg is complete.
func NewSMTPTransport(cfg SMTPConfig) *SMTPTransport {
	if cfg.Port == 0 {
		cfg.Port = defaultSMTPPort
	}
	if cfg.FromName == "" {
		cfg.FromName = defaultFromName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultSMTPTimeout
	}
	t := &SMTPTransport{cfg: cfg}
	t.dial = t.dialSession
	return t
}

// Send delivers env, bounded by the configured timeout and ctx. The
// connection carries the same deadline and is closed when ctx ends, so a
// send that is given up on cannot keep running.
func (t *SMTPTransport) Send(ctx context.Context, env Envelope) error {
	if !t.cfg.Configured() {
		return ErrTransportNotConfigured
	}
	if env.To == "" {
		return eris.New("smtp: missing recipient")
	}

	msg := t.buildMessage(env)

	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- t.deliver(ctx, msg)
	}()

	select {
	case err := <-done:
		if err != nil {
			return eris.Wrapf(err, "smtp: send to %s", env.To)
		}
		zap.L().Debug("smtp: sent", zap.String("to", env.To), zap.String("subject", env.Subject))
		return nil
	case <-ctx.Done():
		return eris.Wrapf(ctx.Err(), "smtp: send to %s", env.To)
	}
}

func (t *SMTPTransport) buildMessage(env Envelope) *gomail.Message {
	m := gomail.NewMessage()
	m.SetAddressHeader("From", t.cfg.FromEmail, t.cfg.FromName)
	if env.ToName != "" {
		m.SetAddressHeader("To", env.To, env.ToName)
	} else {
		m.SetHeader("To", env.To)
	}
	m.SetHeader("Subject", env.Subject)
	m.SetBody("text/plain", env.Text)
	if env.HTML != "" {
		m.AddAlternative("text/html", env.HTML)
	}
	return m
}

func (t *SMTPTransport) deliver(ctx context.Context, m *gomail.Message) error {
	s, err := t.dial(ctx)
	if err != nil {
		return eris.Wrap(err, "smtp: dial")
	}
	defer s.Close() //nolint:errcheck
	return gomail.Send(s, m)
}

// dialSession opens an authenticated SMTP session tied to ctx.
func (t *SMTPTransport) dialSession(ctx context.Context) (gomail.SendCloser, error) {
	addr := net.JoinHostPort(t.cfg.Host, strconv.Itoa(t.cfg.Port))
	tlsCfg := &tls.Config{ServerName: t.cfg.Host, MinVersion: tls.VersionTLS12}
	nd := &net.Dialer{Timeout: t.cfg.Timeout}

	var conn net.Conn
	var err error
	if t.cfg.Port == implicitTLSPort {
		conn, err = (&tls.Dialer{NetDialer: nd, Config: tlsCfg}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = nd.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(t.cfg.Timeout)
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	c, err := smtp.NewClient(conn, t.cfg.Host)
	if err != nil {
		stop()
		_ = conn.Close()
		return nil, err
	}
	sess := &smtpSession{c: c, stop: stop}

	if t.cfg.Port != implicitTLSPort {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(tlsCfg); err != nil {
				sess.abort()
				return nil, eris.Wrap(err, "starttls")
			}
		}
	}
	if ok, _ := c.Extension("AUTH"); ok {
		if err := c.Auth(smtp.PlainAuth("", t.cfg.Username, t.cfg.Password, t.cfg.Host)); err != nil {
			sess.abort()
			return nil, eris.Wrap(err, "auth")
		}
	}
	return sess, nil
}

type smtpSession struct {
	c    *smtp.Client
	stop func() bool
}

func (s *smtpSession) Send(from string, to []string, msg io.WriterTo) error {
	if err := s.c.Mail(from); err != nil {
		return err
	}
	for _, addr := range to {
		if err := s.c.Rcpt(addr); err != nil {
			return err
		}
	}
	w, err := s.c.Data()
	if err != nil {
		return err
	}
	if _, err := msg.WriteTo(w); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (s *smtpSession) Close() error {
	s.stop()
	return s.c.Quit()
}

func (s *smtpSession) abort() {
	s.stop()
	_ = s.c.Close()
}
