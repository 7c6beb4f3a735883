package window

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bryanchriswhite/OverlayRecorder/internal/logger"
)

var (
	// ErrAttachRejected is returned when the compositor refuses a surface.
	ErrAttachRejected = errors.New("surface attach rejected")
	// ErrNotAttached is returned when updating a surface that is not live.
	ErrNotAttached = errors.New("surface not attached")
)

// Handle is an opaque reference to a live registered surface.
type Handle struct {
	id         ID
	native     NativeWindow
	seq        uint64
	attachedAt time.Time
}

// ID returns the logical surface identity
func (h *Handle) ID() ID { return h.id }

// Native returns the compositor window reference
func (h *Handle) Native() NativeWindow { return h.native }

// Seq returns a registry-wide attach sequence number, unique per handle
func (h *Handle) Seq() uint64 { return h.seq }

// AttachedAt returns when the surface was registered
func (h *Handle) AttachedAt() time.Time { return h.attachedAt }

// slot serializes every operation on a single surface id. The lock is a
// one-slot channel: blocked senders are admitted in arrival order.
// handle and desc are written with both the slot lock and Registry.mu held.
type slot struct {
	lock    chan struct{}
	handle  *Handle
	desc    Descriptor
	waiters int
}

// Registry is the single shared record of surfaces registered with the
// compositor. Attach and Detach are idempotent, and all operations on the
// same id are strictly ordered.
type Registry struct {
	compositor Compositor
	mu         sync.Mutex
	slots      map[ID]*slot
	seq        atomic.Uint64
}

// NewRegistry creates a registry on top of a compositor backend
func NewRegistry(compositor Compositor) *Registry {
	return &Registry{
		compositor: compositor,
		slots:      make(map[ID]*slot),
	}
}

// Compositor returns the backend the registry drives
func (r *Registry) Compositor() Compositor {
	return r.compositor
}

func (r *Registry) acquire(ctx context.Context, id ID) (*slot, error) {
	r.mu.Lock()
	s, ok := r.slots[id]
	if !ok {
		s = &slot{lock: make(chan struct{}, 1)}
		r.slots[id] = s
	}
	s.waiters++
	r.mu.Unlock()

	select {
	case s.lock <- struct{}{}:
		return s, nil
	case <-ctx.Done():
		r.mu.Lock()
		s.waiters--
		r.gcLocked(id, s)
		r.mu.Unlock()
		return nil, ctx.Err()
	}
}

func (r *Registry) release(id ID, s *slot) {
	<-s.lock
	r.mu.Lock()
	s.waiters--
	r.gcLocked(id, s)
	r.mu.Unlock()
}

func (r *Registry) gcLocked(id ID, s *slot) {
	if s.waiters == 0 && s.handle == nil && r.slots[id] == s {
		delete(r.slots, id)
	}
}

// Attach registers the surface id with descriptor d. If id already has a
// live handle it is returned unchanged and d is ignored.
func (r *Registry) Attach(ctx context.Context, id ID, d Descriptor) (*Handle, error) {
	s, err := r.acquire(ctx, id)
	if err != nil {
		return nil, err
	}
	defer r.release(id, s)

	log := logger.WithComponent("window")

	if s.handle != nil {
		log.Debug().Str("surface", string(id)).Msg("Attach ignored, surface already live")
		return s.handle, nil
	}

	native, err := r.compositor.Add(id, d.Clone())
	if err != nil {
		log.Warn().Err(err).Str("surface", string(id)).Msg("Compositor rejected surface")
		return nil, fmt.Errorf("%w: %s: %v", ErrAttachRejected, id, err)
	}

	h := &Handle{
		id:         id,
		native:     native,
		seq:        r.seq.Add(1),
		attachedAt: time.Now(),
	}
	r.mu.Lock()
	s.handle = h
	s.desc = d.Clone()
	r.mu.Unlock()

	log.Debug().
		Str("surface", string(id)).
		Uint32("native", uint32(native)).
		Msg("Surface attached")
	return h, nil
}

// Detach unregisters id. Detaching an absent id is a no-op. The stored
// handle is cleared even when the compositor reports a removal error.
func (r *Registry) Detach(ctx context.Context, id ID) error {
	s, err := r.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer r.release(id, s)

	if s.handle == nil {
		return nil
	}

	h := s.handle
	r.mu.Lock()
	s.handle = nil
	s.desc = Descriptor{}
	r.mu.Unlock()

	if err := r.compositor.Remove(h.native); err != nil {
		logger.WithComponent("window").Warn().
			Err(err).
			Str("surface", string(id)).
			Msg("Compositor failed to remove surface")
		return fmt.Errorf("remove %s: %w", id, err)
	}

	logger.WithComponent("window").Debug().Str("surface", string(id)).Msg("Surface detached")
	return nil
}

// Update applies mutate to the live descriptor of id and pushes the result
// to the compositor.
func (r *Registry) Update(ctx context.Context, id ID, mutate func(*Descriptor)) error {
	s, err := r.acquire(ctx, id)
	if err != nil {
		return err
	}
	defer r.release(id, s)

	if s.handle == nil {
		return fmt.Errorf("%w: %s", ErrNotAttached, id)
	}

	next := s.desc.Clone()
	mutate(&next)
	if err := r.compositor.Update(s.handle.native, next.Clone()); err != nil {
		return fmt.Errorf("update %s: %w", id, err)
	}
	r.mu.Lock()
	s.desc = next
	r.mu.Unlock()
	return nil
}

// Lookup returns the live handle for id, if any
func (r *Registry) Lookup(id ID) (*Handle, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok || s.handle == nil {
		return nil, false
	}
	return s.handle, true
}

// Descriptor returns a copy of the last applied descriptor for id
func (r *Registry) Descriptor(id ID) (Descriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.slots[id]
	if !ok || s.handle == nil {
		return Descriptor{}, false
	}
	return s.desc.Clone(), true
}

// Live returns the ids of all attached surfaces, sorted
func (r *Registry) Live() []ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]ID, 0, len(r.slots))
	for id, s := range r.slots {
		if s.handle != nil {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Count returns the number of attached surfaces
func (r *Registry) Count() int {
	return len(r.Live())
}
