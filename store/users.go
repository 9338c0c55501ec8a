package store

import (
	"context"
	"github.com/doug-martin/goqu/v9"
	"github.com/gobuffalo/nulls"
	"github.com/lefinal/royale-server/errors"
	"time"
)

// User is a container for information regarding a known user.
type User struct {
	// ID is the stable id of the user.
	ID string
	// DisplayName is the last known human-readable name.
	DisplayName nulls.String
	// CreatedAt is when the user first said hello.
	CreatedAt time.Time
	// LastSeen is the last time the User was seen.
	LastSeen time.Time
}

// userByIDQuery builds the query for retrieving the User with the given id.
func (m *Mall) userByIDQuery(userID string) (string, error) {
	q, _, err := m.dialect.From(goqu.T("users")).
		Select(goqu.C("id"),
			goqu.C("display_name"),
			goqu.C("created_at"),
			goqu.C("last_seen")).
		Where(goqu.C("id").Eq(userID)).ToSQL()
	if err != nil {
		return "", errors.NewQueryToSQLError(err, errors.Details{"user_id": userID})
	}
	return q, nil
}

// UserByID retrieves a User by its id.
func (m *Mall) UserByID(ctx context.Context, userID string) (User, error) {
	q, err := m.userByIDQuery(userID)
	if err != nil {
		return User{}, err
	}
	rows, err := m.db.Query(ctx, q)
	if err != nil {
		return User{}, errors.NewExecQueryError(err, "query db", q)
	}
	defer rows.Close()
	if !rows.Next() {
		return User{}, errors.NewResourceNotFoundError("user not found", errors.Details{"user_id": userID})
	}
	var user User
	err = rows.Scan(&user.ID, &user.DisplayName, &user.CreatedAt, &user.LastSeen)
	if err != nil {
		return User{}, errors.NewScanDBRowError(err, "scan row", q)
	}
	return user, nil
}

// registerUserQuery builds the upsert query for RegisterUser. The display name
// is only overwritten when not empty.
func (m *Mall) registerUserQuery(userID string, displayName string, now time.Time) (string, error) {
	record := goqu.Record{
		"id":         userID,
		"created_at": now,
		"last_seen":  now,
	}
	update := goqu.Record{
		"last_seen": now,
	}
	if displayName != "" {
		record["display_name"] = displayName
		update["display_name"] = displayName
	}
	q, _, err := m.dialect.Insert(goqu.T("users")).
		Rows(record).
		OnConflict(goqu.DoUpdate("id", update)).
		Returning(goqu.C("id"),
			goqu.C("display_name"),
			goqu.C("created_at"),
			goqu.C("last_seen")).ToSQL()
	if err != nil {
		return "", errors.NewQueryToSQLError(err, errors.Details{"user_id": userID})
	}
	return q, nil
}

// RegisterUser retrieves the User with the given id. If none was found, a new
// one is created. In any case, the last seen timestamp is set to the current
// time. The display name is only updated if not empty. The second return value
// describes whether the user was created.
func (m *Mall) RegisterUser(ctx context.Context, userID string, displayName string) (User, bool, error) {
	if userID == "" {
		return User{}, false, errors.NewBadRequestErr(errors.KindUnknownUser, "missing user id", nil)
	}
	q, err := m.registerUserQuery(userID, displayName, time.Now())
	if err != nil {
		return User{}, false, err
	}
	rows, err := m.db.Query(ctx, q)
	if err != nil {
		return User{}, false, errors.NewExecQueryError(err, "exec register query", q)
	}
	defer rows.Close()
	if !rows.Next() {
		return User{}, false, errors.NewInternalError("missing user although should be registered",
			errors.Details{"user_id": userID})
	}
	var user User
	err = rows.Scan(&user.ID, &user.DisplayName, &user.CreatedAt, &user.LastSeen)
	if err != nil {
		return User{}, false, errors.NewScanDBRowError(err, "scan registered user", q)
	}
	return user, user.CreatedAt.Equal(user.LastSeen), nil
}

// UpdateUserLastSeen updates the last seen timestamp for the user with the
// given id.
func (m *Mall) UpdateUserLastSeen(ctx context.Context, userID string) error {
	q, _, err := m.dialect.Update(goqu.T("users")).Set(goqu.Record{
		"last_seen": time.Now(),
	}).Where(goqu.C("id").Eq(userID)).ToSQL()
	if err != nil {
		return errors.NewQueryToSQLError(err, errors.Details{"user_id": userID})
	}
	result, err := m.db.Exec(ctx, q)
	if err != nil {
		return errors.NewExecQueryError(err, "exec query", q)
	}
	if result.RowsAffected() != 1 {
		return errors.NewResourceNotFoundError("user not found", errors.Details{"user_id": userID})
	}
	return nil
}
