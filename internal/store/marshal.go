package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// marshalIDs converts an id list to a JSON array TEXT for use with json_each.
// A nil or empty list becomes "[]" so NOT IN filters match everything.
func marshalIDs(ids []string) (string, error) {
	if len(ids) == 0 {
		return "[]", nil
	}
	data, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("marshal ids: %w", err)
	}
	return string(data), nil
}

// nullString maps "" to SQL NULL so the comments CHECK constraint can count
// which parent column is set.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// followStatusFor returns the status a new edge to followingID starts in.
// Unknown users are treated as public.
func followStatusFor(ctx context.Context, q queryer, followingID string) (FollowStatus, error) {
	var private bool
	err := q.QueryRowContext(ctx, `SELECT is_private FROM users WHERE id = ?`, followingID).Scan(&private)
	if errors.Is(err, sql.ErrNoRows) {
		return FollowAccepted, nil
	}
	if err != nil {
		return "", fmt.Errorf("follow status for %s: %w", followingID, err)
	}
	if private {
		return FollowPending, nil
	}
	return FollowAccepted, nil
}
