package falsity

import (
	"fmt"
	"os"

	"github.com/gocarina/gocsv"
	log "github.com/sirupsen/logrus"
)

const (
	// DataFileName is the default name of the falsity score table
	// in the app home directory.
	DataFileName = "falsity_scores.csv"
)

// Record is a single row of the falsity score table. The table maps
// public figure accounts on the platform to the fraction of their
// fact-checked statements rated false.
type Record struct {
	Account string  `csv:"elite_account"`
	PFScore float64 `csv:"pf_score"`
	ID      string  `csv:"elite_id_str"`
	Falsity float64 `csv:"falsity"`
}

// Table is an immutable falsity score lookup keyed by account ID.
// Safe for concurrent readers once loaded.
type Table struct {
	scores map[string]float64
}

// DataLoadError indicates the falsity table could not be loaded.
type DataLoadError struct {
	Path string
	Err  error
}

func (e *DataLoadError) Error() string {
	return fmt.Sprintf("loading falsity table %s: %v", e.Path, e.Err)
}

func (e *DataLoadError) Unwrap() error {
	return e.Err
}

// Load reads the falsity score table from a CSV file. Duplicate account
// IDs keep the first record seen.
func Load(path string) (*Table, error) {
	if path == "" {
		return nil, &DataLoadError{Path: path, Err: fmt.Errorf("path not specified")}
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &DataLoadError{Path: path, Err: err}
	}
	defer f.Close()

	var records []*Record
	if err := gocsv.UnmarshalFile(f, &records); err != nil {
		return nil, &DataLoadError{Path: path, Err: err}
	}

	if len(records) == 0 {
		return nil, &DataLoadError{Path: path, Err: fmt.Errorf("no records found")}
	}

	scores := make(map[string]float64, len(records))
	for _, r := range records {
		if r.ID == "" {
			return nil, &DataLoadError{Path: path, Err: fmt.Errorf("record for account %q has no ID", r.Account)}
		}
		if _, ok := scores[r.ID]; ok {
			log.Debugf("duplicate falsity record for ID %s, keeping first", r.ID)
			continue
		}
		scores[r.ID] = r.Falsity
	}

	log.Debugf("loaded %d falsity records from %s", len(scores), path)

	return &Table{scores: scores}, nil
}

// Score returns the falsity score for an account ID.
func (t *Table) Score(id string) (float64, bool) {
	s, ok := t.scores[id]
	return s, ok
}

// Len returns the number of distinct account IDs in the table.
func (t *Table) Len() int {
	return len(t.scores)
}
