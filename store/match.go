package store

import (
	"context"
	"encoding/json"
	"github.com/doug-martin/goqu/v9"
	"github.com/gobuffalo/nulls"
	"github.com/google/uuid"
	"github.com/lefinal/royale-server/errors"
	"time"
)

// MatchEvent is a recorded notification of a session.
type MatchEvent struct {
	// ID is the unique id of the event.
	ID uuid.UUID
	// SessionID is the id of the session the event occurred in.
	SessionID string
	// Tick is the session tick the event occurred in.
	Tick uint64
	// Type is the notification type.
	Type string
	// Actor is the user the event is about, if any.
	Actor nulls.String
	// Payload is the JSON encoded notification payload.
	Payload json.RawMessage
	// RecordedAt is when the event was recorded.
	RecordedAt time.Time
}

// Elimination is a recorded team elimination. Each team is only eliminated once
// per session.
type Elimination struct {
	SessionID string
	TeamID    int
	Tick      uint64
	// Members are the user ids of the team at the time of elimination.
	Members      []string
	EliminatedAt time.Time
}

// recordMatchEventsQuery builds the insert query for the given events.
func (m *Mall) recordMatchEventsQuery(events []MatchEvent) (string, error) {
	rows := make([]interface{}, 0, len(events))
	for _, e := range events {
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		if e.RecordedAt.IsZero() {
			e.RecordedAt = time.Now()
		}
		payload := "null"
		if len(e.Payload) > 0 {
			payload = string(e.Payload)
		}
		rows = append(rows, goqu.Record{
			"id":          e.ID.String(),
			"session_id":  e.SessionID,
			"tick":        e.Tick,
			"type":        e.Type,
			"actor":       e.Actor,
			"payload":     payload,
			"recorded_at": e.RecordedAt,
		})
	}
	q, _, err := m.dialect.Insert(goqu.T("match_events")).Rows(rows...).ToSQL()
	if err != nil {
		return "", errors.NewQueryToSQLError(err, errors.Details{"events": len(events)})
	}
	return q, nil
}

// RecordMatchEvents records the given events in a single transaction. Missing
// ids and timestamps are assigned.
func (m *Mall) RecordMatchEvents(ctx context.Context, events []MatchEvent) error {
	if len(events) == 0 {
		return nil
	}
	q, err := m.recordMatchEventsQuery(events)
	if err != nil {
		return err
	}
	tx, err := m.db.Begin(ctx)
	if err != nil {
		return errors.NewDBTxBeginError(err)
	}
	_, err = tx.Exec(ctx, q)
	if err != nil {
		m.rollbackTx(ctx, tx, "exec record query failed")
		return errors.NewExecQueryError(err, "exec record query", q)
	}
	err = tx.Commit(ctx)
	if err != nil {
		m.rollbackTx(ctx, tx, "commit failed")
		return errors.NewDBTxCommitError(err)
	}
	return nil
}

// MatchEventsBySession retrieves all events of the given session ordered by
// tick.
func (m *Mall) MatchEventsBySession(ctx context.Context, sessionID string) ([]MatchEvent, error) {
	q, _, err := m.dialect.From(goqu.T("match_events")).
		Select(goqu.C("id"),
			goqu.C("session_id"),
			goqu.C("tick"),
			goqu.C("type"),
			goqu.C("actor"),
			goqu.C("payload"),
			goqu.C("recorded_at")).
		Where(goqu.C("session_id").Eq(sessionID)).
		Order(goqu.C("tick").Asc(), goqu.C("recorded_at").Asc()).ToSQL()
	if err != nil {
		return nil, errors.NewQueryToSQLError(err, errors.Details{"session_id": sessionID})
	}
	rows, err := m.db.Query(ctx, q)
	if err != nil {
		return nil, errors.NewExecQueryError(err, "query db", q)
	}
	defer rows.Close()
	events := make([]MatchEvent, 0)
	for rows.Next() {
		var e MatchEvent
		var id string
		var tick int64
		var payload []byte
		err = rows.Scan(&id, &e.SessionID, &tick, &e.Type, &e.Actor, &payload, &e.RecordedAt)
		if err != nil {
			return nil, errors.NewScanDBRowError(err, "scan row", q)
		}
		e.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, errors.NewInternalErrorFromErr(err, "parse event id", errors.Details{"id": id})
		}
		e.Tick = uint64(tick)
		e.Payload = payload
		events = append(events, e)
	}
	return events, nil
}

// recordEliminationQuery builds the insert query for the given Elimination.
// Already recorded eliminations are ignored.
func (m *Mall) recordEliminationQuery(e Elimination) (string, error) {
	members, err := json.Marshal(e.Members)
	if err != nil {
		return "", errors.NewJSONError(err, "marshal members", false)
	}
	if e.EliminatedAt.IsZero() {
		e.EliminatedAt = time.Now()
	}
	q, _, err := m.dialect.Insert(goqu.T("eliminations")).Rows(goqu.Record{
		"session_id":    e.SessionID,
		"team_id":       e.TeamID,
		"tick":          e.Tick,
		"members":       string(members),
		"eliminated_at": e.EliminatedAt,
	}).OnConflict(goqu.DoNothing()).ToSQL()
	if err != nil {
		return "", errors.NewQueryToSQLError(err, errors.Details{"session_id": e.SessionID, "team_id": e.TeamID})
	}
	return q, nil
}

// RecordElimination records the given Elimination. It returns false if the
// team was already recorded as eliminated for the session.
func (m *Mall) RecordElimination(ctx context.Context, e Elimination) (bool, error) {
	q, err := m.recordEliminationQuery(e)
	if err != nil {
		return false, err
	}
	result, err := m.db.Exec(ctx, q)
	if err != nil {
		return false, errors.NewExecQueryError(err, "exec record query", q)
	}
	return result.RowsAffected() == 1, nil
}

// EliminationsBySession retrieves all eliminations of the given session ordered
// by tick.
func (m *Mall) EliminationsBySession(ctx context.Context, sessionID string) ([]Elimination, error) {
	q, _, err := m.dialect.From(goqu.T("eliminations")).
		Select(goqu.C("session_id"),
			goqu.C("team_id"),
			goqu.C("tick"),
			goqu.C("members"),
			goqu.C("eliminated_at")).
		Where(goqu.C("session_id").Eq(sessionID)).
		Order(goqu.C("tick").Asc(), goqu.C("team_id").Asc()).ToSQL()
	if err != nil {
		return nil, errors.NewQueryToSQLError(err, errors.Details{"session_id": sessionID})
	}
	rows, err := m.db.Query(ctx, q)
	if err != nil {
		return nil, errors.NewExecQueryError(err, "query db", q)
	}
	defer rows.Close()
	eliminations := make([]Elimination, 0)
	for rows.Next() {
		var e Elimination
		var tick int64
		var members []byte
		err = rows.Scan(&e.SessionID, &e.TeamID, &tick, &members, &e.EliminatedAt)
		if err != nil {
			return nil, errors.NewScanDBRowError(err, "scan row", q)
		}
		e.Tick = uint64(tick)
		err = json.Unmarshal(members, &e.Members)
		if err != nil {
			return nil, errors.NewJSONError(err, "unmarshal members", false)
		}
		eliminations = append(eliminations, e)
	}
	return eliminations, nil
}
