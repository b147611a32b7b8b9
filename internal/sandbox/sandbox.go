// Package sandbox hands out isolated execution contexts to agents.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUnknownSandbox = errors.New("sandbox: unknown handle")
	ErrOwnerActive    = errors.New("sandbox: owner already holds a sandbox")
)

// Handle identifies one acquired execution context.
type Handle struct {
	ID         string    `json:"id"`
	Owner      string    `json:"owner"`
	Mode       string    `json:"mode"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Provider acquires and releases execution contexts.
type Provider interface {
	Acquire(ctx context.Context, owner string) (Handle, error)
	Release(ctx context.Context, h Handle) error
}

// Local is an in-process provider. In "mock" mode handle IDs are derived
// from the owner so tests can predict them.
type Local struct {
	mode   string
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	active map[string]Handle
	owners map[string]string
}

// NewLocal creates a provider for mode "local" or "mock".
func NewLocal(mode string, logger *slog.Logger) *Local {
	if mode == "" {
		mode = "local"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Local{
		mode:   mode,
		logger: logger,
		now:    time.Now,
		active: make(map[string]Handle),
		owners: make(map[string]string),
	}
}

func (l *Local) Acquire(ctx context.Context, owner string) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return Handle{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.owners[owner]; busy {
		return Handle{}, fmt.Errorf("%w: %s", ErrOwnerActive, owner)
	}
	id := "sandbox_" + uuid.NewString()
	if l.mode == "mock" {
		id = "mock_sandbox_" + owner
	}
	h := Handle{ID: id, Owner: owner, Mode: l.mode, AcquiredAt: l.now()}
	l.active[id] = h
	l.owners[owner] = id
	l.logger.Debug("sandbox acquired", "sandbox_id", id, "owner", owner)
	return h, nil
}

func (l *Local) Release(_ context.Context, h Handle) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.active[h.ID]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSandbox, h.ID)
	}
	delete(l.active, h.ID)
	delete(l.owners, h.Owner)
	l.logger.Debug("sandbox released", "sandbox_id", h.ID, "owner", h.Owner)
	return nil
}

// Active lists held sandboxes ordered by acquisition time.
func (l *Local) Active() []Handle {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Handle, 0, len(l.active))
	for _, h := range l.active {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AcquiredAt.Equal(out[j].AcquiredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].AcquiredAt.Before(out[j].AcquiredAt)
	})
	return out
}

// CleanupAll releases every held sandbox and reports how many were freed.
func (l *Local) CleanupAll(ctx context.Context) int {
	handles := l.Active()
	for _, h := range handles {
		if err := l.Release(ctx, h); err != nil {
			l.logger.Warn("sandbox cleanup", "sandbox_id", h.ID, "error", err)
		}
	}
	return len(handles)
}
