package notify

import (
	"context"

	"github.com/google/uuid"
)

// Sender delivers a message to an external channel and returns the
// platform's message reference.
type Sender interface {
	Send(ctx context.Context, channelRef, content string) (string, error)
}

// NoopSender accepts every send without calling any external API. Used for
// dry-run mode and tests; it still returns a unique message reference so the
// send log stays populated.
type NoopSender struct{}

func (NoopSender) Send(ctx context.Context, channelRef, content string) (string, error) {
	return uuid.NewString(), nil
}
