// Package bus carries realtime messages between processes. Every process
// forwards what it receives into its own hub.
package bus

import (
	"context"

	"github.com/MusicMeister52/hunter2-sub000/internal/realtime"
)

type Bus interface {
	Publish(ctx context.Context, msg realtime.Message) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error
	Close() error
}
