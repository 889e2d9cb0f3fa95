package services

import (
	"context"

	"github.com/MusicMeister52/hunter2-sub000/internal/platform/logger"
	"github.com/MusicMeister52/hunter2-sub000/internal/realtime"
	"github.com/MusicMeister52/hunter2-sub000/internal/realtime/bus"
)

// Emitter hands a message to every process's hub.
type Emitter interface {
	Emit(ctx context.Context, msg realtime.Message)
}

// HubEmitter publishes straight into the local hub (single process).
type HubEmitter struct{ Hub *realtime.Hub }

func (e *HubEmitter) Emit(ctx context.Context, msg realtime.Message) {
	if e == nil || e.Hub == nil {
		return
	}
	e.Hub.Publish(msg)
}

// BusEmitter publishes through the bus; each process's forwarder feeds its hub.
type BusEmitter struct {
	Bus bus.Bus
	Log *logger.Logger
}

func (e *BusEmitter) Emit(ctx context.Context, msg realtime.Message) {
	if e == nil || e.Bus == nil {
		return
	}
	if err := e.Bus.Publish(ctx, msg); err != nil && e.Log != nil {
		e.Log.Warn("realtime publish failed", "group", msg.Group, "type", msg.Type, "error", err)
	}
}

// NewEmitter picks the bus when one is configured.
func NewEmitter(log *logger.Logger, hub *realtime.Hub, b bus.Bus) Emitter {
	if b != nil {
		return &BusEmitter{Bus: b, Log: log.With("component", "BusEmitter")}
	}
	return &HubEmitter{Hub: hub}
}
