package delivery

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type fakeSender struct {
	from   string
	to     []string
	raw    bytes.Buffer
	closed bool
	err    error
	block  chan struct{}
}

func (f *fakeSender) Send(from string, to []string, msg io.WriterTo) error {
	if f.block != nil {
		<-f.block
	}
	if f.err != nil {
		return f.err
	}
	f.from = from
	f.to = to
	_, err := msg.WriteTo(&f.raw)
	return err
}

func (f *fakeSender) Close() error {
	f.closed = true
	return nil
}

func configuredSMTP() SMTPConfig {
	return SMTPConfig{
		Host:      "smtp.example.com",
		Username:  "user",
		Password:  "secret",
		FromEmail: "outreach@example.com",
		FromName:  "Outreach Team",
	}
}

func newFakeTransport(cfg SMTPConfig, s *fakeSender) *SMTPTransport {
	tr := NewSMTPTransport(cfg)
	tr.dial = func(context.Context) (gomail.SendCloser, error) { return s, nil }
	return tr
}

func TestSMTPTransport_NotConfigured(t *testing.T) {
	tr := NewSMTPTransport(SMTPConfig{Host: "smtp.example.com"})
	err := tr.Send(context.Background(), Envelope{To: "a@b.com", Subject: "s", Text: "b"})
	assert.ErrorIs(t, err, ErrTransportNotConfigured)
}

func TestSMTPTransport_Defaults(t *testing.T) {
	tr := NewSMTPTransport(SMTPConfig{})
	assert.Equal(t, defaultSMTPPort, tr.cfg.Port)
	assert.Equal(t, defaultFromName, tr.cfg.FromName)
	assert.Equal(t, defaultSMTPTimeout, tr.cfg.Timeout)
}

func TestSMTPTransport_SendsAlternativeParts(t *testing.T) {
	s := &fakeSender{}
	tr := newFakeTransport(configuredSMTP(), s)

	err := tr.Send(context.Background(), Envelope{
		To:      "info@acme.example",
		ToName:  "Dr. Smith",
		Subject: "Question for Acme Dental",
		Text:    "Hi Dr. Smith",
		HTML:    "<p>Hi Dr. Smith</p>",
	})
	require.NoError(t, err)

	assert.Equal(t, "outreach@example.com", s.from)
	assert.Equal(t, []string{"info@acme.example"}, s.to)
	assert.True(t, s.closed)

	raw := s.raw.String()
	assert.Contains(t, raw, `From: "Outreach Team" <outreach@example.com>`)
	assert.Contains(t, raw, "Subject: Question for Acme Dental")
	assert.Contains(t, raw, "multipart/alternative")
	assert.Contains(t, raw, "text/plain")
	assert.Contains(t, raw, "text/html")
}

func TestSMTPTransport_SendError(t *testing.T) {
	s := &fakeSender{err: errors.New("535 auth failed")}
	tr := newFakeTransport(configuredSMTP(), s)

	err := tr.Send(context.Background(), Envelope{To: "info@acme.example", Subject: "s", Text: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "535 auth failed")
}

func TestSMTPTransport_DialError(t *testing.T) {
	tr := NewSMTPTransport(configuredSMTP())
	tr.dial = func(context.Context) (gomail.SendCloser, error) { return nil, errors.New("connection refused") }

	err := tr.Send(context.Background(), Envelope{To: "info@acme.example", Subject: "s", Text: "b"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial")
}

func TestSMTPTransport_Timeout(t *testing.T) {
	s := &fakeSender{block: make(chan struct{})}
	defer close(s.block)

	cfg := configuredSMTP()
	cfg.Timeout = 20 * time.Millisecond
	tr := newFakeTransport(cfg, s)

	err := tr.Send(context.Background(), Envelope{To: "info@acme.example", Subject: "s", Text: "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSMTPTransport_MissingRecipient(t *testing.T) {
	tr := newFakeTransport(configuredSMTP(), &fakeSender{})
	err := tr.Send(context.Background(), Envelope{Subject: "s", Text: "b"})
	require.Error(t, err)
}

func listenerTransport(t *testing.T, ln net.Listener, timeout time.Duration) *SMTPTransport {
	t.Helper()
	cfg := configuredSMTP()
	addr := ln.Addr().(*net.TCPAddr)
	cfg.Host = "127.0.0.1"
	cfg.Port = addr.Port
	cfg.Timeout = timeout
	return NewSMTPTransport(cfg)
}

// serveSMTP answers one session with a minimal plain-text dialogue and
// returns the DATA payload.
func serveSMTP(t *testing.T, ln net.Listener) <-chan string {
	t.Helper()
	out := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(out)
			return
		}
		defer conn.Close() //nolint:errcheck
		tp := textproto.NewConn(conn)
		_ = tp.PrintfLine("220 localhost ESMTP")
		for {
			line, err := tp.ReadLine()
			if err != nil {
				close(out)
				return
			}
			cmd := strings.ToUpper(strings.Fields(line)[0])
			switch cmd {
			case "EHLO", "HELO":
				_ = tp.PrintfLine("250 localhost")
			case "MAIL", "RCPT":
				_ = tp.PrintfLine("250 OK")
			case "DATA":
				_ = tp.PrintfLine("354 go ahead")
				body, _ := tp.ReadDotBytes()
				out <- string(body)
				_ = tp.PrintfLine("250 queued")
			case "QUIT":
				_ = tp.PrintfLine("221 bye")
				return
			default:
				_ = tp.PrintfLine("502 unsupported")
			}
		}
	}()
	return out
}

func TestSMTPTransport_SessionDelivers(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close() //nolint:errcheck

	got := serveSMTP(t, ln)
	tr := listenerTransport(t, ln, 2*time.Second)

	err = tr.Send(context.Background(), Envelope{To: "info@acme.example", Subject: "Hello Acme", Text: "plain body"})
	require.NoError(t, err)

	select {
	case body := <-got:
		assert.Contains(t, body, "Subject: Hello Acme")
		assert.Contains(t, body, "plain body")
	case <-time.After(2 * time.Second):
		t.Fatal("server never received DATA")
	}
}

func TestSMTPTransport_SilentServerClosedAfterTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close() //nolint:errcheck

	closed := make(chan struct{})
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close() //nolint:errcheck
		// Never greet; wait for the client to hang up.
		_, _ = io.Copy(io.Discard, conn)
		close(closed)
	}()

	tr := listenerTransport(t, ln, 100*time.Millisecond)
	err = tr.Send(context.Background(), Envelope{To: "info@acme.example", Subject: "s", Text: "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("client connection outlived the send timeout")
	}
}
