package domain

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Call carries per-request options through an orchestration call chain.
type Call struct {
	RequestID string
	Session   *Session

	mu     sync.Mutex
	logged map[string]struct{}
}

// NewCall returns a Call with a fresh request id.
func NewCall(session *Session) *Call {
	return &Call{RequestID: uuid.NewString(), Session: session}
}

// MarkLogged records that the failure identified by key has been logged and
// reports whether this is the first time.
func (c *Call) MarkLogged(key string) bool {
	if c == nil {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.logged == nil {
		c.logged = make(map[string]struct{})
	}
	if _, ok := c.logged[key]; ok {
		return false
	}
	c.logged[key] = struct{}{}
	return true
}

type callKey struct{}

// WithCall attaches c to ctx.
func WithCall(ctx context.Context, c *Call) context.Context {
	return context.WithValue(ctx, callKey{}, c)
}

// CallFrom returns the Call attached to ctx, or nil.
func CallFrom(ctx context.Context) *Call {
	c, _ := ctx.Value(callKey{}).(*Call)
	return c
}

// SessionFrom returns the caller session attached to ctx, or nil.
func SessionFrom(ctx context.Context) *Session {
	if c := CallFrom(ctx); c != nil {
		return c.Session
	}
	return nil
}
