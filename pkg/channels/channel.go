// Package channels contains the ingress surfaces of the daemon. Every
// channel normalizes its transport into an InboundMessage and hands it to a
// single dispatch function; the reply text goes back out the same transport.
package channels

import (
	"context"
)

// InboundMessage is the normalized ingress payload from any channel.
type InboundMessage struct {
	Channel  string
	SenderID string
	Content  string
	Metadata map[string]interface{}
}

// DispatchFunc routes an inbound channel message into the interaction layer
// and returns the text to render back to the sender.
type DispatchFunc func(ctx context.Context, msg InboundMessage) (string, error)

// Channel is a channel runtime abstraction (shell, telegram, ...).
type Channel interface {
	Name() string
	Start(ctx context.Context, dispatch DispatchFunc) error
	Stop(ctx context.Context) error
}
