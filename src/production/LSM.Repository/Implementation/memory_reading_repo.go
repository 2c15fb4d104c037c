package implementation

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lsmerrors "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Errors"
	lsmmodels "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Models"
	interfaces "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Repository/Interfaces"
)

type memoryEntry struct {
	reading   lsmmodels.Reading
	expiresAt time.Time
}

// MemoryReadingRepository keeps the window in process memory, ordered by timestamp.
// Entries past their deadline are dropped on every append.
type MemoryReadingRepository struct {
	mu      sync.RWMutex
	entries []memoryEntry
	window  time.Duration
	now     interfaces.Clock
}

var _ interfaces.ReadingRepository = (*MemoryReadingRepository)(nil)

func NewMemoryReadingRepository(window time.Duration) *MemoryReadingRepository {
	return &MemoryReadingRepository{
		window: window,
		now:    time.Now,
	}
}

// WithClock replaces the time source
func (r *MemoryReadingRepository) WithClock(now interfaces.Clock) *MemoryReadingRepository {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
	return r
}

func (r *MemoryReadingRepository) Append(ctx context.Context, reading lsmmodels.Reading) (lsmmodels.Reading, error) {
	if err := ctx.Err(); err != nil {
		return lsmmodels.Reading{}, lsmerrors.WrapPersistence("append", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	stored := reading.Clone()
	stored.ID = uuid.NewString()
	if stored.Timestamp.IsZero() {
		stored.Timestamp = now
	} else {
		stored.Timestamp = stored.Timestamp.UTC()
	}
	if stored.SchemaVersion == 0 {
		stored.SchemaVersion = lsmmodels.SchemaVersion()
	}

	r.evictExpiredLocked(now)

	// keep timestamp order, equal timestamps stay in insertion order
	i := sort.Search(len(r.entries), func(i int) bool {
		return r.entries[i].reading.Timestamp.After(stored.Timestamp)
	})
	r.entries = append(r.entries, memoryEntry{})
	copy(r.entries[i+1:], r.entries[i:])
	r.entries[i] = memoryEntry{reading: stored, expiresAt: now.Add(r.window)}

	return stored.Clone(), nil
}

func (r *MemoryReadingRepository) Latest(ctx context.Context) (lsmmodels.Reading, error) {
	if err := ctx.Err(); err != nil {
		return lsmmodels.Reading{}, lsmerrors.WrapPersistence("latest", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now().UTC()
	for i := len(r.entries) - 1; i >= 0; i-- {
		if r.inWindow(r.entries[i], now) {
			return r.entries[i].reading.Clone(), nil
		}
	}
	return lsmmodels.Reading{}, lsmerrors.ErrNotFound
}

func (r *MemoryReadingRepository) WindowAll(ctx context.Context) ([]lsmmodels.Reading, error) {
	if err := ctx.Err(); err != nil {
		return nil, lsmerrors.WrapPersistence("window", err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	now := r.now().UTC()
	readings := make([]lsmmodels.Reading, 0, len(r.entries))
	for _, e := range r.entries {
		if r.inWindow(e, now) {
			readings = append(readings, e.reading.Clone())
		}
	}
	return readings, nil
}

func (r *MemoryReadingRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, lsmerrors.WrapPersistence("delete", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.entries[:0]
	var deleted int64
	for _, e := range r.entries {
		if e.reading.Timestamp.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	clearTail(r.entries, len(kept))
	r.entries = kept
	return deleted, nil
}

func (r *MemoryReadingRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Size returns the number of physically stored entries, expired ones included
func (r *MemoryReadingRepository) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func (r *MemoryReadingRepository) inWindow(e memoryEntry, now time.Time) bool {
	return !e.reading.Timestamp.Before(now.Add(-r.window)) && e.expiresAt.After(now)
}

func (r *MemoryReadingRepository) evictExpiredLocked(now time.Time) {
	kept := r.entries[:0]
	for _, e := range r.entries {
		if e.expiresAt.After(now) {
			kept = append(kept, e)
		}
	}
	clearTail(r.entries, len(kept))
	r.entries = kept
}

// clearTail zeroes entries past n so dropped readings can be collected
func clearTail(entries []memoryEntry, n int) {
	for i := n; i < len(entries); i++ {
		entries[i] = memoryEntry{}
	}
}
