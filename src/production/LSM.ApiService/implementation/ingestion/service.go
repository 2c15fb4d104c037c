package ingestion

import (
	"context"

	lsmerrors "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Errors"
	logger "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Logger"
	metrics "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Metrics"
	lsmmodels "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Models"
	interfaces "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Repository/Interfaces"
)

// Broadcaster receives every reading once it is stored
type Broadcaster interface {
	BroadcastSnapshot(r lsmmodels.Reading) int
}

// Options controls the ingestion policy
type Options struct {
	// AllowEmpty stores payloads without any recognized field as all-null readings
	AllowEmpty bool
}

// Service validates, stores and then publishes incoming readings
type Service struct {
	repo    interfaces.ReadingRepository
	hub     Broadcaster
	opts    Options
	logger  *logger.Logger
	metrics *metrics.Metrics
}

// NewService creates a new ingestion service
func NewService(repo interfaces.ReadingRepository, hub Broadcaster, opts Options, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:    repo,
		hub:     hub,
		opts:    opts,
		logger:  log.WithComponent("ingestion"),
		metrics: m,
	}
}

// Ingest turns a decoded JSON payload into a stored reading and broadcasts it.
// A reading is broadcast only after it was stored, and never when storing failed.
// Appends run concurrently; the hub serializes the broadcasts that follow them.
func (s *Service) Ingest(ctx context.Context, raw map[string]interface{}) (lsmmodels.Reading, error) {
	fields, err := lsmmodels.DecodeFields(raw)
	if err != nil {
		s.metrics.IngestResult(metrics.ResultInvalid)
		return lsmmodels.Reading{}, err
	}
	if len(fields) == 0 && !s.opts.AllowEmpty {
		s.metrics.IngestResult(metrics.ResultInvalid)
		return lsmmodels.Reading{}, lsmerrors.NewValidation("", "no recognized sensor field")
	}

	// a started write is not abandoned when the client goes away
	stored, err := s.repo.Append(context.WithoutCancel(ctx), lsmmodels.NewReading(fields))
	if err != nil {
		s.metrics.IngestResult(metrics.ResultError)
		s.logger.ErrorWithError(err, "Failed to store reading")
		return lsmmodels.Reading{}, lsmerrors.WrapPersistence("append", err)
	}
	s.metrics.IngestResult(metrics.ResultOK)

	delivered := s.hub.BroadcastSnapshot(stored)
	s.logger.Logger.Debug().
		Str("reading_id", stored.ID).
		Int("fields", len(stored.Fields)).
		Int("subscribers", delivered).
		Msg("Reading stored")

	return stored, nil
}
