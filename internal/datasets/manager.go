// Package datasets caches loaded sales datasets and period aggregations behind
// short-lived handles. Entries live in process memory only.
package datasets

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vinodismyname/mcpsales/config"
	"github.com/vinodismyname/mcpsales/internal/insights"
	"github.com/vinodismyname/mcpsales/internal/sales"
)

// Kind distinguishes single-file datasets from multi-file aggregations.
type Kind string

const (
	KindSales   Kind = "sales"
	KindPeriods Kind = "periods"
)

// Handle is a cached analysis input with TTL metadata.
type Handle struct {
	ID       string
	Kind     Kind
	Sources  []string
	LoadedAt time.Time

	// Dataset is set for KindSales; Segmentation is filled on first use.
	Dataset      sales.Dataset
	Segmentation *insights.Segmentation
	// Aggregation is set for KindPeriods.
	Aggregation *insights.Aggregation

	// expiresAt holds unix nanos outside mu so TTL refresh never waits on a reader.
	expiresAt atomic.Int64
	mu        sync.RWMutex
}

// ExpiresAt reports the current idle deadline.
func (h *Handle) ExpiresAt() time.Time { return time.Unix(0, h.expiresAt.Load()) }

func (h *Handle) touch(deadline time.Time) { h.expiresAt.Store(deadline.UnixNano()) }

// Gate coordinates capacity for cached handles (backed by runtime.Controller).
type Gate interface {
	AcquireDataset(ctx context.Context) error
	ReleaseDataset()
}

var (
	// ErrHandleNotFound indicates an unknown or expired handle ID.
	ErrHandleNotFound = errors.New("datasets: handle not found")
	// ErrWrongKind indicates a handle of the other Kind than the operation needs.
	ErrWrongKind = errors.New("datasets: wrong handle kind")
)

// Manager owns the handle cache and its background eviction.
type Manager struct {
	mu           sync.RWMutex
	handles      map[string]*Handle
	ttl          time.Duration
	cleanupEvery time.Duration
	clock        func() time.Time
	gate         Gate
	stopCh       chan struct{}
	stopOnce     sync.Once
	cleanupWG    sync.WaitGroup
}

// NewManager constructs a manager with a TTL-bearing handle cache.
// Pass ttl or cleanupEvery <= 0 to use defaults from config.
// Gate can be nil for tests; clock defaults to time.Now when nil.
func NewManager(ttl, cleanupEvery time.Duration, gate Gate, clock func() time.Time) *Manager {
	if ttl <= 0 {
		ttl = config.DefaultDatasetIdleTTL
	}
	if cleanupEvery <= 0 {
		cleanupEvery = config.DefaultDatasetCleanupPeriod
	}
	if clock == nil {
		clock = time.Now
	}
	return &Manager{
		handles:      make(map[string]*Handle),
		ttl:          ttl,
		cleanupEvery: cleanupEvery,
		clock:        clock,
		gate:         gate,
		stopCh:       make(chan struct{}),
	}
}

// Start launches periodic eviction of expired handles.
func (m *Manager) Start() {
	m.cleanupWG.Add(1)
	ticker := time.NewTicker(m.cleanupEvery)
	go func() {
		defer m.cleanupWG.Done()
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
				m.EvictExpired()
			}
		}
	}()
}

// Close stops background cleanup and drops all handles.
func (m *Manager) Close(ctx context.Context) error {
	m.stopOnce.Do(func() { close(m.stopCh) })
	done := make(chan struct{})
	go func() { m.cleanupWG.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	m.mu.Lock()
	n := len(m.handles)
	m.handles = make(map[string]*Handle)
	m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.release()
	}
	return nil
}

// PutDataset caches a decoded single-file dataset and returns its handle ID.
func (m *Manager) PutDataset(ctx context.Context, ds sales.Dataset, sources ...string) (string, error) {
	return m.put(ctx, &Handle{Kind: KindSales, Sources: sources, Dataset: ds})
}

// PutAggregation caches a period aggregation and returns its handle ID.
func (m *Manager) PutAggregation(ctx context.Context, agg insights.Aggregation, sources ...string) (string, error) {
	return m.put(ctx, &Handle{Kind: KindPeriods, Sources: sources, Aggregation: &agg})
}

func (m *Manager) put(ctx context.Context, h *Handle) (string, error) {
	if err := m.acquire(ctx); err != nil {
		return "", fmt.Errorf("datasets: capacity: %w", err)
	}
	h.ID = uuid.NewString()
	h.LoadedAt = m.clock()
	h.touch(h.LoadedAt.Add(m.ttl))

	m.mu.Lock()
	m.handles[h.ID] = h
	m.mu.Unlock()
	return h.ID, nil
}

// Get returns the handle when present and refreshes its TTL.
func (m *Manager) Get(id string) (*Handle, bool) {
	m.mu.RLock()
	h, ok := m.handles[id]
	m.mu.RUnlock()
	if !ok {
		return nil, false
	}
	// Refresh TTL on access (idle timeout semantics)
	h.touch(m.clock().Add(m.ttl))
	return h, true
}

// WithRead obtains a shared read lock for the handle and executes fn.
func (m *Manager) WithRead(id string, fn func(*Handle) error) error {
	h, ok := m.Get(id)
	if !ok {
		return ErrHandleNotFound
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	return fn(h)
}

// WithWrite obtains an exclusive lock for the handle and executes fn.
func (m *Manager) WithWrite(id string, fn func(*Handle) error) error {
	h, ok := m.Get(id)
	if !ok {
		return ErrHandleNotFound
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return fn(h)
}

// Segmentation returns the cached segmentation of a sales handle, computing it with s
// on first use.
func (m *Manager) Segmentation(ctx context.Context, id string, s *insights.Segmenter) (insights.Segmentation, error) {
	var out insights.Segmentation
	var cached bool
	err := m.WithRead(id, func(h *Handle) error {
		if h.Kind != KindSales {
			return fmt.Errorf("%w: handle %s holds %s, not sales", ErrWrongKind, id, h.Kind)
		}
		if h.Segmentation != nil {
			out, cached = *h.Segmentation, true
		}
		return nil
	})
	if err != nil || cached {
		return out, err
	}
	err = m.WithWrite(id, func(h *Handle) error {
		if h.Segmentation != nil {
			out = *h.Segmentation
			return nil
		}
		seg, err := s.Segment(ctx, h.Dataset)
		if err != nil {
			return err
		}
		h.Segmentation = &seg
		out = seg
		return nil
	})
	return out, err
}

// Remove drops a handle by ID, releasing capacity via the gate.
func (m *Manager) Remove(id string) error {
	if !m.removeIf(id, func(*Handle) bool { return true }) {
		return ErrHandleNotFound
	}
	return nil
}

// removeIf deletes the handle when keep-or-drop is decided under the map lock.
func (m *Manager) removeIf(id string, drop func(*Handle) bool) bool {
	m.mu.Lock()
	h, ok := m.handles[id]
	ok = ok && drop(h)
	if ok {
		delete(m.handles, id)
	}
	m.mu.Unlock()
	if ok {
		m.release()
	}
	return ok
}

// EvictExpired drops handles past their TTL.
func (m *Manager) EvictExpired() {
	now := m.clock()
	var expired []string

	m.mu.RLock()
	for id, h := range m.handles {
		if h.Expired(now) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	for _, id := range expired {
		// A Get between the scan and here may have refreshed the deadline.
		m.removeIf(id, func(h *Handle) bool { return h.Expired(now) })
	}
}

// Count returns the current number of cached handles.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handles)
}

func (m *Manager) acquire(ctx context.Context) error {
	if m.gate == nil {
		return nil
	}
	return m.gate.AcquireDataset(ctx)
}

func (m *Manager) release() {
	if m.gate == nil {
		return
	}
	m.gate.ReleaseDataset()
}

// Expired reports whether the handle has reached its TTL.
func (h *Handle) Expired(now time.Time) bool {
	return now.UnixNano() > h.expiresAt.Load()
}
