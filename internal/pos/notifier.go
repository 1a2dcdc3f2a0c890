package pos

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Level is the severity of a cashier-facing notification.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Notification is a one-shot message for the cashier.
type Notification struct {
	Level   Level  `json:"level"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// Notifier delivers notifications.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// Collector buffers the notifications raised while serving one request.
type Collector struct {
	mu    sync.Mutex
	items []Notification
}

func (c *Collector) Notify(_ context.Context, n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, n)
}

// Drain returns and forgets the buffered notifications.
func (c *Collector) Drain() []Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.items
	c.items = nil
	if out == nil {
		return []Notification{}
	}
	return out
}

// LogNotifier writes notifications to the request logger.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, n Notification) {
	logger := zerolog.Ctx(ctx)
	var ev *zerolog.Event
	switch n.Level {
	case LevelError:
		ev = logger.Warn()
	case LevelWarning:
		ev = logger.Info()
	default:
		ev = logger.Debug()
	}
	ev.Str("notify_level", string(n.Level)).Str("code", n.Code).Msg(n.Message)
}

// Fanout delivers to every notifier in order.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, n Notification) {
	for _, nt := range f {
		if nt != nil {
			nt.Notify(ctx, n)
		}
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) {}
