package interfaces

import (
	"context"
	"time"

	lsmmodels "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Models"
)

// ReadingRepository is the time-windowed reading store. Reads only ever return readings
// whose timestamp is inside the retention window, whether or not expired entries have
// been physically removed yet.
type ReadingRepository interface {
	// Append assigns the identifier and, when zero, the timestamp, persists the reading
	// with its expiry deadline and returns the stored record.
	Append(ctx context.Context, reading lsmmodels.Reading) (lsmmodels.Reading, error)

	// Latest returns the newest windowed reading or ErrNotFound.
	Latest(ctx context.Context) (lsmmodels.Reading, error)

	// WindowAll returns every windowed reading, oldest first.
	WindowAll(ctx context.Context) ([]lsmmodels.Reading, error)

	// DeleteBefore removes every reading with a timestamp strictly before cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping checks that the backing store is reachable.
	Ping(ctx context.Context) error
}

// Clock returns the current time. Repositories take one so tests can move time.
type Clock func() time.Time
