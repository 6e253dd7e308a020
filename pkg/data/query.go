package data

import (
	"database/sql"

	"github.com/pkg/errors"
)

const (
	runQueryLimitDefault = 50

	selectRunsSQL = `SELECT id, created, duration_ms, users, scored, missing
		FROM run
		ORDER BY id DESC
		LIMIT ?
	`

	selectRunScoresSQL = `SELECT s.run_id, s.user_id, s.misinfo_score, s.matched, s.followed
		FROM score s
		WHERE s.run_id = ?
		ORDER BY s.user_id
	`

	selectRunMissingSQL = `SELECT user_id
		FROM missing_user
		WHERE run_id = ?
		ORDER BY user_id
	`
)

// Run is a summary of one recorded scoring run.
type Run struct {
	ID         int64  `json:"id"`
	Created    string `json:"created"`
	DurationMS int64  `json:"duration_ms"`
	Users      int    `json:"users"`
	Scored     int    `json:"scored"`
	Missing    int    `json:"missing"`
}

// RunScore is one recorded per-user result. Score is nil when the run
// produced an undefined score for the user.
type RunScore struct {
	RunID    int64    `json:"run_id"`
	User     string   `json:"user"`
	Score    *float64 `json:"misinfo_score,omitempty"`
	Matched  int      `json:"matched"`
	Followed int      `json:"followed"`
}

// GetRuns lists recorded runs, most recent first.
func GetRuns(db *sql.DB, limit int) ([]*Run, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}
	if limit < 1 {
		limit = runQueryLimitDefault
	}

	rows, err := db.Query(selectRunsSQL, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query runs")
	}
	defer rows.Close()

	list := make([]*Run, 0)
	for rows.Next() {
		r := &Run{}
		if err := rows.Scan(&r.ID, &r.Created, &r.DurationMS, &r.Users, &r.Scored, &r.Missing); err != nil {
			return nil, errors.Wrap(err, "failed to scan run row")
		}
		list = append(list, r)
	}

	return list, rows.Err()
}

// GetRunScores returns all per-user results recorded for a run.
func GetRunScores(db *sql.DB, runID int64) ([]*RunScore, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectRunScoresSQL, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query scores for run: %d", runID)
	}
	defer rows.Close()

	list := make([]*RunScore, 0)
	for rows.Next() {
		s := &RunScore{}
		var val sql.NullFloat64
		if err := rows.Scan(&s.RunID, &s.User, &val, &s.Matched, &s.Followed); err != nil {
			return nil, errors.Wrap(err, "failed to scan score row")
		}
		if val.Valid {
			v := val.Float64
			s.Score = &v
		}
		list = append(list, s)
	}

	return list, rows.Err()
}

// GetRunMissing returns the users recorded as missing for a run.
func GetRunMissing(db *sql.DB, runID int64) ([]string, error) {
	if db == nil {
		return nil, errDBNotInitialized
	}

	rows, err := db.Query(selectRunMissingSQL, runID)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to query missing users for run: %d", runID)
	}
	defer rows.Close()

	list := make([]string, 0)
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, errors.Wrap(err, "failed to scan missing user row")
		}
		list = append(list, u)
	}

	return list, rows.Err()
}
