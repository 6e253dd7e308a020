package data

import (
	"database/sql"
	"time"

	"github.com/misobs/mectl/pkg/exposure"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	insertRunSQL = `INSERT INTO run (created, duration_ms, users, scored, missing)
		VALUES (?, ?, ?, ?, ?)
	`

	insertScoreSQL = `INSERT INTO score (run_id, user_id, misinfo_score, matched, followed)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (run_id, user_id) DO NOTHING
	`

	insertMissingSQL = `INSERT INTO missing_user (run_id, user_id)
		VALUES (?, ?)
		ON CONFLICT (run_id, user_id) DO NOTHING
	`
)

// SaveRun records a completed scoring run and all of its per-user
// results in a single transaction. Undefined scores are stored as NULL.
func SaveRun(db *sql.DB, report *exposure.Report, duration time.Duration) (int64, error) {
	if db == nil {
		return 0, errDBNotInitialized
	}
	if report == nil {
		return 0, errors.New("report is required")
	}

	scoreStmt, err := db.Prepare(insertScoreSQL)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prepare score insert statement")
	}
	defer scoreStmt.Close()

	missingStmt, err := db.Prepare(insertMissingSQL)
	if err != nil {
		return 0, errors.Wrap(err, "failed to prepare missing user insert statement")
	}
	defer missingStmt.Close()

	tx, err := db.Begin()
	if err != nil {
		return 0, errors.Wrap(err, "failed to begin transaction")
	}

	created := time.Now().UTC().Format(time.RFC3339)
	res, err := tx.Exec(insertRunSQL, created, duration.Milliseconds(),
		len(report.Scores)+len(report.Missing), len(report.Scores), len(report.Missing))
	if err != nil {
		rollbackTransaction(tx)
		return 0, errors.Wrap(err, "failed to insert run")
	}

	runID, err := res.LastInsertId()
	if err != nil {
		rollbackTransaction(tx)
		return 0, errors.Wrap(err, "failed to get run ID")
	}

	for i, s := range report.Scores {
		val := sql.NullFloat64{}
		if s.Defined() {
			val = sql.NullFloat64{Float64: s.Value, Valid: true}
		}
		if _, err = tx.Stmt(scoreStmt).Exec(runID, s.User, val, s.Matched, s.Followed); err != nil {
			rollbackTransaction(tx)
			return 0, errors.Wrapf(err, "error inserting score[%d]: %s", i, s.User)
		}
	}

	for i, u := range report.Missing {
		if _, err = tx.Stmt(missingStmt).Exec(runID, u); err != nil {
			rollbackTransaction(tx)
			return 0, errors.Wrapf(err, "error inserting missing user[%d]: %s", i, u)
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, errors.Wrap(err, "failed to commit transaction")
	}

	log.Debugf("saved run %d (%d scores, %d missing)", runID, len(report.Scores), len(report.Missing))

	return runID, nil
}

func rollbackTransaction(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil {
		log.Errorf("error rolling back transaction: %s", err)
	}
}
