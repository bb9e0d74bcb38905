package session

import (
	"context"
	"errors"
	"fmt"
)

// Handle is the per-request view of the current session. It is not safe for
// concurrent use; the session it wraps is.
type Handle struct {
	store   Store
	id      string
	current *Session
	resumed bool
}

// NewHandle returns a handle for the session identified by id. An empty id
// means the client presented no session.
func NewHandle(store Store, id string) *Handle {
	return &Handle{store: store, id: id}
}

// Resume loads the presented session. It returns nil without error when the
// client presented none or it no longer exists.
func (h *Handle) Resume(ctx context.Context) (*Session, error) {
	if h.current != nil || h.resumed {
		return h.current, nil
	}
	h.resumed = true
	if h.id == "" {
		return nil, nil
	}
	sess, err := h.store.Get(ctx, h.id)
	if errors.Is(err, ErrNotFound) {
		h.id = ""
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resuming session: %w", err)
	}
	h.current = sess
	return sess, nil
}

// Current returns the started session, or nil.
func (h *Handle) Current() *Session {
	return h.current
}

// IsStarted reports whether a session is active for this request.
func (h *Handle) IsStarted() bool {
	return h.current != nil
}

// ID returns the identifier of the active session, or "".
func (h *Handle) ID() string {
	if h.current == nil {
		return ""
	}
	return h.current.id
}

// Start returns the active session, resuming or creating one as needed.
func (h *Handle) Start(ctx context.Context) (*Session, error) {
	if sess, err := h.Resume(ctx); err != nil || sess != nil {
		return sess, err
	}
	sess, err := h.store.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("starting session: %w", err)
	}
	h.current = sess
	h.id = sess.id
	return sess, nil
}

// Destroy removes the active session. The handle can start a new one afterwards.
func (h *Handle) Destroy(ctx context.Context, reason string) error {
	if h.current == nil {
		return nil
	}
	id := h.current.id
	h.current = nil
	h.id = ""
	if err := h.store.Destroy(ctx, id, reason); err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("destroying session: %w", err)
	}
	return nil
}
