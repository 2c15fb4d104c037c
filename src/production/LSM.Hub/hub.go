// Package hub fans stored readings out to live subscribers.
//
// Each subscriber owns a bounded queue. Broadcasts never wait on a subscriber: a
// subscriber whose queue is full is evicted and must reconnect.
package hub

import (
	"sync"
	"time"

	"github.com/google/uuid"
	logger "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Logger"
	metrics "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Metrics"
	lsmmodels "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Models"
)

// Eviction reasons
const (
	ReasonLeft     = "left"
	ReasonOverflow = "overflow"
	ReasonShutdown = "shutdown"
)

const DefaultQueueSize = 64

// Subscriber is one live consumer registered with the hub
type Subscriber struct {
	ID       string
	JoinedAt time.Time

	queue     chan lsmmodels.Reading
	done      chan struct{}
	closeOnce sync.Once
}

// Updates delivers readings in broadcast order
func (s *Subscriber) Updates() <-chan lsmmodels.Reading {
	return s.queue
}

// Done is closed once the subscriber has been removed from the hub
func (s *Subscriber) Done() <-chan struct{} {
	return s.done
}

func (s *Subscriber) close() bool {
	closed := false
	s.closeOnce.Do(func() {
		close(s.done)
		closed = true
	})
	return closed
}

// Hub is the registry of live subscribers
type Hub struct {
	// membership
	mu          sync.RWMutex
	subscribers map[string]*Subscriber
	closed      bool

	// serializes broadcasts so all subscribers observe one order
	broadcastMu sync.Mutex

	queueSize int
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func New(queueSize int, log *logger.Logger, m *metrics.Metrics) *Hub {
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		queueSize:   queueSize,
		logger:      log.WithComponent("hub"),
		metrics:     m,
	}
}

// Join registers a new subscriber. After Close the returned subscriber is already done.
func (h *Hub) Join() *Subscriber {
	sub := &Subscriber{
		ID:       uuid.NewString(),
		JoinedAt: time.Now(),
		queue:    make(chan lsmmodels.Reading, h.queueSize),
		done:     make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		sub.close()
		return sub
	}
	h.subscribers[sub.ID] = sub
	count := len(h.subscribers)
	h.mu.Unlock()

	h.metrics.Subscribers(count)
	h.logger.Logger.Debug().Str("subscriber", sub.ID).Int("subscribers", count).Msg("Subscriber joined")
	return sub
}

// Leave removes a subscriber. Calling it more than once is harmless.
func (h *Hub) Leave(sub *Subscriber) {
	h.remove(sub, ReasonLeft)
}

// BroadcastSnapshot queues r to every current subscriber and returns how many
// received it. Subscribers with a full queue are evicted.
func (h *Hub) BroadcastSnapshot(r lsmmodels.Reading) int {
	h.broadcastMu.Lock()
	defer h.broadcastMu.Unlock()

	h.mu.RLock()
	snapshot := make([]*Subscriber, 0, len(h.subscribers))
	for _, sub := range h.subscribers {
		snapshot = append(snapshot, sub)
	}
	h.mu.RUnlock()

	r = r.Clone()
	delivered := 0
	for _, sub := range snapshot {
		select {
		case <-sub.done:
			continue
		default:
		}

		select {
		case sub.queue <- r:
			delivered++
		default:
			h.logger.Logger.Warn().Str("subscriber", sub.ID).Int("queue_size", h.queueSize).Msg("Subscriber queue full, evicting")
			h.remove(sub, ReasonOverflow)
		}
	}

	h.metrics.Broadcast(delivered)
	return delivered
}

// Count returns the number of registered subscribers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Close evicts every subscriber and rejects later joins
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	subs := h.subscribers
	h.subscribers = make(map[string]*Subscriber)
	h.mu.Unlock()

	for _, sub := range subs {
		if sub.close() {
			h.metrics.Evicted(ReasonShutdown)
		}
	}
	h.metrics.Subscribers(0)
	h.logger.Logger.Info().Int("evicted", len(subs)).Msg("Hub closed")
}

func (h *Hub) remove(sub *Subscriber, reason string) {
	if sub == nil {
		return
	}

	h.mu.Lock()
	if current, ok := h.subscribers[sub.ID]; ok && current == sub {
		delete(h.subscribers, sub.ID)
	}
	count := len(h.subscribers)
	h.mu.Unlock()

	if !sub.close() {
		return
	}
	h.metrics.Evicted(reason)
	h.metrics.Subscribers(count)
	h.logger.Logger.Debug().Str("subscriber", sub.ID).Str("reason", reason).Int("subscribers", count).Msg("Subscriber removed")
}
