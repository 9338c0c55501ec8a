// Package sessionsvc bridges the MQTT operator channel and the session
// coordinator. Operator commands are submitted to the coordinator and all
// notifications are published per type.
package sessionsvc

import (
	"context"
	"fmt"
	"github.com/lefinal/royale-server/errors"
	"github.com/lefinal/royale-server/event"
	"github.com/lefinal/royale-server/portal"
	"github.com/lefinal/royale-server/service"
	"github.com/lefinal/royale-server/session"
	"github.com/lefinal/royale-server/team"
	"go.uber.org/zap"
)

// notificationBufferSize is the capacity of the queue between the coordinator
// loop and publishing.
const notificationBufferSize = 256

// Topics for operator commands and session information.
var (
	topicSetTeamMode  = portal.Join("session", "team-mode", "set")
	topicDownPlayer   = portal.Join("session", "down-player")
	topicDamage       = portal.Join("session", "damage")
	topicStatsRequest = portal.Join("session", "stats", "get")
	topicStats        = portal.Join("session", "stats")
	topicError        = portal.Join("session", "error")
)

// NotificationTopic is the topic notifications of the given type are published
// to.
func NotificationTopic(t event.Type) portal.Topic {
	return portal.Join("session", "notification", string(t))
}

// Session is the coordinator as used by the service.
type Session interface {
	ID() string
	AddListener(notifier event.Notifier)
	Submit(ctx context.Context, cmd session.Command) error
	Stats() session.Stats
}

// StatsEvent is published to the stats topic on request.
type StatsEvent struct {
	SessionID string        `json:"session_id"`
	Stats     session.Stats `json:"stats"`
}

type sessionService struct {
	logger  *zap.Logger
	portal  portal.Portal
	session Session
	// notifications queues notifications from the coordinator loop.
	notifications chan event.Notification
}

// New creates the session service and registers it as listener at the given
// Session. Notifications are queued until Run is called.
func New(logger *zap.Logger, portal portal.Portal, s Session) service.Service {
	svc := &sessionService{
		logger:        logger,
		portal:        portal,
		session:       s,
		notifications: make(chan event.Notification, notificationBufferSize),
	}
	s.AddListener(event.NotifierFunc(svc.enqueueNotification))
	return svc
}

// enqueueNotification queues the notification without blocking the
// coordinator loop.
func (s *sessionService) enqueueNotification(n event.Notification) {
	select {
	case s.notifications <- n:
	default:
		s.logger.Warn("dropping notification because of full queue",
			zap.String("type", string(n.Type)),
			zap.Uint64("tick", n.Tick))
	}
}

// Run the service until the given context.Context is done.
func (s *sessionService) Run(ctx context.Context) error {
	setTeamMode := portal.Subscribe[event.SetTeamModeEvent](ctx, s.portal, topicSetTeamMode)
	defer setTeamMode.Unsubscribe()
	downPlayer := portal.Subscribe[event.DownPlayerEvent](ctx, s.portal, topicDownPlayer)
	defer downPlayer.Unsubscribe()
	damage := portal.Subscribe[event.DamageReportEvent](ctx, s.portal, topicDamage)
	defer damage.Unsubscribe()
	statsRequest := portal.Subscribe[event.EmptyEvent](ctx, s.portal, topicStatsRequest)
	defer statsRequest.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, more := <-setTeamMode.Receive:
			if !more {
				return nil
			}
			s.handleSetTeamMode(ctx, e.Payload)
		case e, more := <-downPlayer.Receive:
			if !more {
				return nil
			}
			s.handleDownPlayer(ctx, e.Payload)
		case e, more := <-damage.Receive:
			if !more {
				return nil
			}
			s.handleDamage(ctx, e.Payload)
		case _, more := <-statsRequest.Receive:
			if !more {
				return nil
			}
			s.portal.Publish(ctx, topicStats, StatsEvent{
				SessionID: s.session.ID(),
				Stats:     s.session.Stats(),
			})
		case n := <-s.notifications:
			s.portal.Publish(ctx, NotificationTopic(n.Type), n)
		}
	}
}

func (s *sessionService) handleSetTeamMode(ctx context.Context, e event.SetTeamModeEvent) {
	mode := team.Mode(e.Mode)
	if !mode.Valid() {
		s.reject(ctx, errors.NewBadRequestErr(errors.KindInvalidTeamMode, fmt.Sprintf("invalid team mode %d", e.Mode),
			errors.Details{"mode": e.Mode}))
		return
	}
	s.submit(ctx, session.SetTeamMode{By: team.NoUser, Mode: mode})
}

func (s *sessionService) handleDownPlayer(ctx context.Context, e event.DownPlayerEvent) {
	if e.PlayerID == "" {
		s.reject(ctx, errors.NewBadRequestErr(errors.KindUnknownPlayer, "missing player id", nil))
		return
	}
	s.submit(ctx, session.DownPlayer{User: team.UserID(e.PlayerID)})
}

func (s *sessionService) handleDamage(ctx context.Context, e event.DamageReportEvent) {
	if e.TargetID == "" {
		s.reject(ctx, errors.NewBadRequestErr(errors.KindUnknownPlayer, "missing target id", nil))
		return
	}
	if e.Amount <= 0 {
		s.reject(ctx, errors.NewBadRequestErr(errors.KindInvalidDamage, "damage amount must be positive",
			errors.Details{"amount": e.Amount}))
		return
	}
	s.submit(ctx, session.Damage{
		Target: team.UserID(e.TargetID),
		Source: team.UserID(e.SourceID),
		Amount: e.Amount,
	})
}

func (s *sessionService) submit(ctx context.Context, cmd session.Command) {
	err := s.session.Submit(ctx, cmd)
	if err != nil {
		errors.Log(s.logger, errors.Wrap(err, "submit operator command", errors.Details{"cmd": fmt.Sprintf("%T", cmd)}))
	}
}

// reject logs the error and publishes it to the error topic.
func (s *sessionService) reject(ctx context.Context, err error) {
	errors.Log(s.logger, err)
	s.portal.Publish(ctx, topicError, event.ErrorEventPayloadFromError(err))
}
