package session

import (
	"context"
	"time"

	"github.com/c360/chatsession/filter"
)

// Command describes a command a module understands, for help listings.
type Command struct {
	Name        string
	Usage       string
	Description string
}

// Module configures a Session for one feature: the commands it sends and
// the filters that receive the answers.
type Module interface {
	Name() string
	Commands() []Command
	Filters() []*filter.Filter
}

// AttachHook is implemented by modules that need the session they serve,
// e.g. to publish values. Attach runs inside New, before Filters.
type AttachHook interface {
	Attach(s *Session)
}

// ReadyHook is implemented by modules that act once the session has
// subscribed to its peer.
type ReadyHook interface {
	OnReady(ctx context.Context, s *Session) error
}

// TickHook is implemented by modules that take part in the watchdog tick.
type TickHook interface {
	OnTick(ctx context.Context, s *Session, now time.Time)
}
