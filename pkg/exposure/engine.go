package exposure

import (
	"context"
	"encoding/json"
	"math"
	"os"
	"sort"
	"strings"
	"unicode"

	"github.com/misobs/mectl/pkg/falsity"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	// UpdateEveryDefault is the default progress reporting interval
	// in processed users.
	UpdateEveryDefault = 25
)

// Edge is a single observed follow relationship as reported by the
// platform: the queried user follows the account identified by
// FollowedID. The engine consumes only the first two fields, the name
// and handle are carried for the on-disk cache.
type Edge struct {
	User             string
	FollowedID       string
	FollowedName     string
	FollowedUsername string
}

// Fetcher produces the full follow list for a single user. Pagination
// and rate limit backoff against the remote platform are the fetcher's
// responsibility, not the engine's.
type Fetcher interface {
	Following(ctx context.Context, userID string) ([]Edge, error)
}

// Score is the computed exposure for one queried user. Value is NaN
// when the user follows at least one account but none of them appear
// in the falsity table. The mean of an empty set is undefined, not zero.
type Score struct {
	User     string  `json:"user"`
	Value    float64 `json:"misinfo_score"`
	Matched  int     `json:"matched"`
	Followed int     `json:"followed"`
}

// Defined reports whether the score value is a real number.
func (s Score) Defined() bool {
	return !math.IsNaN(s.Value)
}

// MarshalJSON encodes an undefined score as null, NaN is not
// representable in JSON.
func (s Score) MarshalJSON() ([]byte, error) {
	var v *float64
	if s.Defined() {
		v = &s.Value
	}
	return json.Marshal(struct {
		User     string   `json:"user"`
		Value    *float64 `json:"misinfo_score"`
		Matched  int      `json:"matched"`
		Followed int      `json:"followed"`
	}{
		User:     s.User,
		Value:    v,
		Matched:  s.Matched,
		Followed: s.Followed,
	})
}

// Report is the outcome of one scoring run. Missing holds the queried
// users for whom the platform returned no follow edges at all, commonly
// suspended or deleted accounts. Missing is nil when no users are
// missing, which is distinct from an empty slice.
type Report struct {
	Scores  []Score  `json:"scores"`
	Missing []string `json:"missing,omitempty"`
}

// Options control engine behavior that does not affect the scores.
type Options struct {
	// Verbose enables progress reporting.
	Verbose bool

	// UpdateEvery is the progress reporting interval in processed
	// users, defaults to UpdateEveryDefault.
	UpdateEvery int

	// CacheDir, when set, enables per-user persistence of fetched
	// follow edges. Users with an existing cache file are skipped
	// and the aggregation is computed from the cached files.
	CacheDir string
}

// Engine computes misinformation exposure scores: the mean falsity
// score of the public figure accounts each queried user follows.
//
// An engine is built for single-caller use. The falsity table is
// immutable and safe to share across engines, a cache directory is not.
type Engine struct {
	table   *falsity.Table
	fetcher Fetcher
	opts    Options
}

// New creates an engine. Both the falsity table and the fetcher are
// required.
func New(table *falsity.Table, fetcher Fetcher, opts Options) (*Engine, error) {
	if table == nil {
		return nil, ErrNoTable
	}
	if fetcher == nil {
		return nil, ErrNoFetcher
	}
	if opts.UpdateEvery < 1 {
		opts.UpdateEvery = UpdateEveryDefault
	}
	return &Engine{
		table:   table,
		fetcher: fetcher,
		opts:    opts,
	}, nil
}

// ComputeScores fetches the follow list for every unique user in the
// input and scores each user against the falsity table. Every unique
// input ID is accounted for exactly once: it either has a row in
// Report.Scores or appears in Report.Missing.
func (e *Engine) ComputeScores(ctx context.Context, users []string) (*Report, error) {
	if err := validateUserIDs(users); err != nil {
		return nil, err
	}

	unique := dedupe(users)

	if e.opts.Verbose {
		log.Infof("beginning to pull follow lists for %d users", len(unique))
		log.Infof("will report progress every %d users", e.opts.UpdateEvery)
	}

	edges, err := e.fetchAll(ctx, unique)
	if err != nil {
		return nil, err
	}

	// Group edges by queried user into a followed-ID set. Duplicate
	// edges to the same account collapse here.
	followed := make(map[string]map[string]struct{})
	for _, edge := range edges {
		set, ok := followed[edge.User]
		if !ok {
			set = make(map[string]struct{})
			followed[edge.User] = set
		}
		set[edge.FollowedID] = struct{}{}
	}

	report := &Report{
		Scores: make([]Score, 0, len(followed)),
	}

	for _, user := range unique {
		set, ok := followed[user]
		if !ok {
			continue
		}
		report.Scores = append(report.Scores, e.score(user, set))
	}

	for _, user := range unique {
		if _, ok := followed[user]; !ok {
			report.Missing = append(report.Missing, user)
		}
	}

	if len(report.Missing) > 0 {
		log.Warnf("exposure scores missing for %d users", len(report.Missing))
		for _, user := range report.Missing {
			log.Warnf("no follow edges found for user: %s", user)
		}
	}

	return report, nil
}

// score computes the mean falsity score over the user's followed-ID
// set. IDs absent from the table contribute nothing to the mean.
func (e *Engine) score(user string, followedIDs map[string]struct{}) Score {
	sum := 0.0
	matched := 0
	for id := range followedIDs {
		if f, ok := e.table.Score(id); ok {
			sum += f
			matched++
		}
	}

	value := math.NaN()
	if matched > 0 {
		value = sum / float64(matched)
	}

	return Score{
		User:     user,
		Value:    value,
		Matched:  matched,
		Followed: len(followedIDs),
	}
}

// fetchAll pulls follow edges for each user sequentially, honoring the
// remote platform's rate limits through the fetcher. When caching is
// enabled, already-cached users are skipped and the returned edges are
// re-read from the cache directory.
func (e *Engine) fetchAll(ctx context.Context, users []string) ([]Edge, error) {
	var cache *edgeCache
	if e.opts.CacheDir != "" {
		c, err := newEdgeCache(e.opts.CacheDir)
		if err != nil {
			return nil, err
		}
		cache = c
		if e.opts.Verbose {
			log.Infof("follow edges will be cached in: %s", e.opts.CacheDir)
		}
	}

	edges := make([]Edge, 0)
	for i, user := range users {
		if cache != nil && cache.has(user) {
			log.Warnf("cached data for user %s already exists, skipping fetch (delete %s to refetch)",
				user, cache.path(user))
		} else if err := e.fetchUser(ctx, cache, user, &edges); err != nil {
			return nil, err
		}

		if e.opts.Verbose && (i+1)%e.opts.UpdateEvery == 0 {
			log.Infof("%d users processed", i+1)
		}
	}

	if cache != nil {
		return cache.readAll()
	}

	return edges, nil
}

// fetchUser pulls one user's follow list into either the cache file or
// the in-memory edge list. The cache file is created before the fetch
// begins, so an interrupted run leaves it on disk and the error names
// it as possibly incomplete. A plain fetch failure removes the file
// again, a rerun must not mistake it for complete data.
func (e *Engine) fetchUser(ctx context.Context, cache *edgeCache, user string, edges *[]Edge) error {
	if cache == nil {
		list, err := e.fetcher.Following(ctx, user)
		if err != nil {
			return errors.Wrapf(err, "failed to fetch follow list for user: %s", user)
		}
		*edges = append(*edges, list...)
		return nil
	}

	f, err := cache.create(user)
	if err != nil {
		return err
	}

	list, err := e.fetcher.Following(ctx, user)
	if err != nil {
		f.Close()
		if ctx.Err() != nil {
			return &InterruptedError{Path: cache.path(user), Err: err}
		}
		os.Remove(cache.path(user))
		return errors.Wrapf(err, "failed to fetch follow list for user: %s", user)
	}

	werr := writeEdges(f, list)
	if cerr := f.Close(); werr == nil {
		werr = cerr
	}
	if werr != nil {
		if ctx.Err() != nil {
			return &InterruptedError{Path: cache.path(user), Err: werr}
		}
		return werr
	}

	return nil
}

// validateUserIDs checks that every element is a plausible platform
// user ID: a non-empty string of digits. The returned error enumerates
// every offending element with its original index.
func validateUserIDs(users []string) error {
	var invalid []InvalidID
	for i, u := range users {
		if !isNumericID(u) {
			invalid = append(invalid, InvalidID{Index: i, Value: u})
		}
	}
	if len(invalid) > 0 {
		return &ValidationError{Invalid: invalid}
	}
	return nil
}

func isNumericID(s string) bool {
	if strings.TrimSpace(s) == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// dedupe returns the unique user IDs in sorted order. Processing order
// carries no meaning, sorting just keeps runs deterministic.
func dedupe(users []string) []string {
	seen := make(map[string]struct{}, len(users))
	unique := make([]string, 0, len(users))
	for _, u := range users {
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		unique = append(unique, u)
	}
	sort.Strings(unique)
	return unique
}
