package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Adapter delivers an event on one channel. Send errors are logged by the
// gateway and never propagate to the event's producer.
type Adapter interface {
	Name() string
	Send(ctx context.Context, event Event) error
}

const defaultSendTimeout = 10 * time.Second

// Gateway routes bus events to the adapters registered for each channel.
// Delivery happens off the emitter's goroutine; a slow adapter delays nobody
// but its own send, and one adapter's failure never suppresses another's.
type Gateway struct {
	mu          sync.RWMutex
	adapters    map[string][]Adapter
	sendTimeout time.Duration
	inflight    sync.WaitGroup
}

func NewGateway(bus *Bus) *Gateway {
	g := &Gateway{
		adapters:    make(map[string][]Adapter),
		sendTimeout: defaultSendTimeout,
	}
	bus.Subscribe(func(event Event) {
		g.inflight.Add(1)
		go func() {
			defer g.inflight.Done()
			g.Dispatch(context.Background(), event)
		}()
	})
	return g
}

// Register appends an adapter to a channel. Multiple adapters per channel
// all receive every event addressed to it.
func (g *Gateway) Register(channel string, adapter Adapter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.adapters[channel] = append(g.adapters[channel], adapter)
	zap.L().Info("notification adapter registered",
		zap.String("channel", channel),
		zap.String("adapter", adapter.Name()),
	)
}

// Dispatch fans the event out to every adapter on its channels and waits for
// all sends. Each send gets its own timeout; errors are logged per adapter.
func (g *Gateway) Dispatch(ctx context.Context, event Event) {
	g.mu.RLock()
	var targets []Adapter
	for _, channel := range event.Channels {
		targets = append(targets, g.adapters[channel]...)
	}
	g.mu.RUnlock()

	var wg sync.WaitGroup
	for _, adapter := range targets {
		adapter := adapter
		wg.Add(1)
		go func() {
			defer wg.Done()
			sendCtx, cancel := context.WithTimeout(ctx, g.sendTimeout)
			defer cancel()
			if err := adapter.Send(sendCtx, event); err != nil {
				zap.L().Error("notification send failed",
					zap.String("adapter", adapter.Name()),
					zap.String("event_type", event.Type),
					zap.String("user_id", event.UserID),
					zap.Error(err),
				)
			}
		}()
	}
	wg.Wait()
}

// Drain waits for asynchronous dispatches in flight. Used on shutdown and in
// tests.
func (g *Gateway) Drain() {
	g.inflight.Wait()
}
