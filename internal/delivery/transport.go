package delivery

import (
	"context"

	"github.com/rotisserie/eris"
)

// ErrTransportNotConfigured is returned by transports missing credentials.
var ErrTransportNotConfigured = eris.New("delivery: email transport not configured")

// Envelope is one outgoing email.
type Envelope struct {
	To      string
	ToName  string
	Subject string
	Text    string
	HTML    string
}

// Transport hands an email to a mail system. A nil error means the message
// was accepted for delivery.
type Transport interface {
	Send(ctx context.Context, env Envelope) error
}
