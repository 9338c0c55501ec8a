// Package recordsvc persists session notifications as match events and
// records team eliminations.
package recordsvc

import (
	"context"
	"encoding/json"
	"github.com/gobuffalo/nulls"
	"github.com/google/uuid"
	"github.com/lefinal/royale-server/errors"
	"github.com/lefinal/royale-server/event"
	"github.com/lefinal/royale-server/service"
	"github.com/lefinal/royale-server/store"
	"go.uber.org/zap"
	"time"
)

const (
	// queueSize is the capacity of the queue between the coordinator loop and
	// recording.
	queueSize = 1024
	// maxBatchSize is the number of match events after which a batch is written
	// without waiting for flushInterval.
	maxBatchSize = 64
	// flushInterval is the interval in which collected match events are written.
	flushInterval = time.Second
	// storeTimeout is the timeout for each store operation.
	storeTimeout = 5 * time.Second
)

// Store persists match events and eliminations.
type Store interface {
	RecordMatchEvents(ctx context.Context, events []store.MatchEvent) error
	RecordElimination(ctx context.Context, e store.Elimination) (bool, error)
}

// Session is the coordinator as used by the service.
type Session interface {
	ID() string
	AddListener(notifier event.Notifier)
}

type recordService struct {
	logger    *zap.Logger
	store     Store
	sessionID string
	queue     chan event.Notification
	// now returns the current time. Replaced in tests.
	now func() time.Time
}

// New creates the record service and registers it as listener at the given
// Session.
func New(logger *zap.Logger, store Store, s Session) service.Service {
	svc := &recordService{
		logger:    logger,
		store:     store,
		sessionID: s.ID(),
		queue:     make(chan event.Notification, queueSize),
		now:       time.Now,
	}
	s.AddListener(event.NotifierFunc(svc.enqueue))
	return svc
}

func (s *recordService) enqueue(n event.Notification) {
	select {
	case s.queue <- n:
	default:
		s.logger.Warn("dropping notification for recording because of full queue",
			zap.String("type", string(n.Type)),
			zap.Uint64("tick", n.Tick))
	}
}

// Run the service until the given context.Context is done. Pending match
// events are written before returning.
func (s *recordService) Run(ctx context.Context) error {
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()
	batch := make([]store.MatchEvent, 0, maxBatchSize)
	for {
		select {
		case <-ctx.Done():
			s.drain(&batch)
			s.flush(batch)
			return nil
		case <-ticker.C:
			s.flush(batch)
			batch = make([]store.MatchEvent, 0, maxBatchSize)
		case n := <-s.queue:
			batch = s.handle(batch, n)
			if len(batch) >= maxBatchSize {
				s.flush(batch)
				batch = make([]store.MatchEvent, 0, maxBatchSize)
			}
		}
	}
}

// drain handles all queued notifications without blocking.
func (s *recordService) drain(batch *[]store.MatchEvent) {
	for {
		select {
		case n := <-s.queue:
			*batch = s.handle(*batch, n)
		default:
			return
		}
	}
}

// handle appends the match event for the notification and records
// eliminations.
func (s *recordService) handle(batch []store.MatchEvent, n event.Notification) []store.MatchEvent {
	matchEvent, err := s.matchEventFromNotification(n)
	if err != nil {
		errors.Log(s.logger, errors.Wrap(err, "match event from notification", nil))
	} else {
		batch = append(batch, matchEvent)
	}
	if eliminated, ok := n.Payload.(event.TeamEliminatedEvent); ok {
		s.recordElimination(n.Tick, eliminated)
	}
	return batch
}

func (s *recordService) matchEventFromNotification(n event.Notification) (store.MatchEvent, error) {
	payload, err := json.Marshal(n.Payload)
	if err != nil {
		return store.MatchEvent{}, errors.NewJSONError(err, "marshal notification payload", false)
	}
	return store.MatchEvent{
		ID:         uuid.New(),
		SessionID:  s.sessionID,
		Tick:       n.Tick,
		Type:       string(n.Type),
		Actor:      actorOf(n),
		Payload:    payload,
		RecordedAt: s.now(),
	}, nil
}

// actorOf returns the user the notification is about.
func actorOf(n event.Notification) nulls.String {
	switch payload := n.Payload.(type) {
	case event.PlayerDownedEvent:
		return nulls.NewString(payload.PlayerID)
	case event.BledOutEvent:
		return nulls.NewString(payload.PlayerID)
	case event.ReviveEvent:
		return nulls.NewString(payload.PlayerID)
	case event.ReadyChangedEvent:
		return nulls.NewString(payload.UserID)
	}
	return nulls.String{}
}

func (s *recordService) recordElimination(tick uint64, e event.TeamEliminatedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	inserted, err := s.store.RecordElimination(ctx, store.Elimination{
		SessionID:    s.sessionID,
		TeamID:       e.TeamID,
		Tick:         tick,
		Members:      e.Members,
		EliminatedAt: s.now(),
	})
	if err != nil {
		errors.Log(s.logger, errors.Wrap(err, "record elimination", errors.Details{"team_id": e.TeamID}))
		return
	}
	if !inserted {
		s.logger.Debug("team elimination already recorded", zap.Int("team_id", e.TeamID))
		return
	}
	s.logger.Info("team elimination recorded", zap.Int("team_id", e.TeamID), zap.Uint64("tick", tick))
}

func (s *recordService) flush(batch []store.MatchEvent) {
	if len(batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	err := s.store.RecordMatchEvents(ctx, batch)
	if err != nil {
		errors.Log(s.logger, errors.Wrap(err, "record match events", errors.Details{"count": len(batch)}))
		return
	}
	s.logger.Debug("match events recorded", zap.Int("count", len(batch)))
}
