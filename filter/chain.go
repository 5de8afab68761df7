package filter

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/c360/chatsession/message"
)

// Chain is an ordered set of filters. Dispatch runs the handler of every
// matching filter; a match never stops the filters after it.
type Chain struct {
	mu      sync.RWMutex
	filters []*Filter
	sender  string
	logger  *slog.Logger
}

// Option configures a Chain.
type Option func(*Chain)

// WithLogger sets the logger used to report handler panics.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewChain creates an empty chain.
func NewChain(opts ...Option) *Chain {
	c := &Chain{logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Add appends f unless the same filter is already registered.
// Returns false for duplicates and for filters without a handler.
func (c *Chain) Add(f *Filter) bool {
	if f == nil || f.Handler == nil {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, existing := range c.filters {
		if existing == f {
			return false
		}
	}
	if f.Sender == "" && c.sender != "" {
		f.Sender = c.sender
	}
	c.filters = append(c.filters, f)
	return true
}

// AddAll adds each filter in order and returns how many were added.
func (c *Chain) AddAll(filters ...*Filter) int {
	added := 0
	for _, f := range filters {
		if c.Add(f) {
			added++
		}
	}
	return added
}

// Remove unregisters f.
func (c *Chain) Remove(f *Filter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, existing := range c.filters {
		if existing == f {
			c.filters = append(c.filters[:i:i], c.filters[i+1:]...)
			return true
		}
	}
	return false
}

// BindSender sets the sender of every filter that has none. Filters added
// later are bound too. Filters with an explicit sender keep it.
func (c *Chain) BindSender(sender string) {
	sender = message.BareID(sender)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sender = sender
	for _, f := range c.filters {
		if f.Sender == "" {
			f.Sender = sender
		}
	}
}

// Sender returns the bound sender, if any.
func (c *Chain) Sender() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sender
}

// Matching returns the filters that match env, in registration order.
func (c *Chain) Matching(env *message.Envelope) []*Filter {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var matched []*Filter
	for _, f := range c.filters {
		if f.Matches(env) {
			matched = append(matched, f)
		}
	}
	return matched
}

// HasMatch reports whether any filter matches env.
func (c *Chain) HasMatch(env *message.Envelope) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, f := range c.filters {
		if f.Matches(env) {
			return true
		}
	}
	return false
}

// Dispatch invokes the handler of every matching filter and returns how many
// ran. Handlers run outside the chain lock and may add filters. A panicking
// handler is logged and does not stop the others.
func (c *Chain) Dispatch(env *message.Envelope) int {
	matched := c.Matching(env)
	for _, f := range matched {
		c.invoke(f, env)
	}
	return len(matched)
}

func (c *Chain) invoke(f *Filter, env *message.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("filter handler panicked",
				"filter", f.String(),
				"type", env.Type.String(),
				"tag", env.Tag,
				"error", fmt.Sprint(r))
		}
	}()
	f.Handler(env)
}

// Len returns the number of registered filters.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.filters)
}
