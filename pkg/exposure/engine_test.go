package exposure

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/misobs/mectl/pkg/falsity"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testTableCSV = `elite_account,pf_score,elite_id_str,falsity
accountA,0.1,111,0.2
accountB,0.9,222,0.8
accountD,0.5,444,0.5
`

func newTestTable(t *testing.T) *falsity.Table {
	t.Helper()
	path := filepath.Join(t.TempDir(), "falsity_scores.csv")
	require.NoError(t, os.WriteFile(path, []byte(testTableCSV), 0600))
	table, err := falsity.Load(path)
	require.NoError(t, err)
	return table
}

// fakeFetcher serves canned follow lists and counts calls per user.
type fakeFetcher struct {
	edges map[string][]Edge
	calls map[string]int
	err   error
}

func newFakeFetcher(edges map[string][]Edge) *fakeFetcher {
	return &fakeFetcher{edges: edges, calls: make(map[string]int)}
}

func (f *fakeFetcher) Following(_ context.Context, userID string) ([]Edge, error) {
	f.calls[userID]++
	if f.err != nil {
		return nil, f.err
	}
	return f.edges[userID], nil
}

func edge(user, followedID string) Edge {
	return Edge{User: user, FollowedID: followedID, FollowedName: "name", FollowedUsername: "handle"}
}

func TestNew_Preconditions(t *testing.T) {
	table := newTestTable(t)
	fetcher := newFakeFetcher(nil)

	_, err := New(nil, fetcher, Options{})
	assert.ErrorIs(t, err, ErrNoTable)

	_, err = New(table, nil, Options{})
	assert.ErrorIs(t, err, ErrNoFetcher)

	e, err := New(table, fetcher, Options{})
	require.NoError(t, err)
	assert.Equal(t, UpdateEveryDefault, e.opts.UpdateEvery)
}

func TestComputeScores_Scenario(t *testing.T) {
	// U1 follows A (0.2), B (0.8), and C which is not in the table.
	// U2 follows only C. U3 has no follow edges at all.
	fetcher := newFakeFetcher(map[string][]Edge{
		"1": {edge("1", "111"), edge("1", "222"), edge("1", "333")},
		"2": {edge("2", "333")},
		"3": {},
	})

	e, err := New(newTestTable(t), fetcher, Options{})
	require.NoError(t, err)

	report, err := e.ComputeScores(context.Background(), []string{"1", "2", "3"})
	require.NoError(t, err)

	require.Len(t, report.Scores, 2)

	u1 := report.Scores[0]
	assert.Equal(t, "1", u1.User)
	assert.True(t, u1.Defined())
	assert.InDelta(t, 0.5, u1.Value, 1e-9)
	assert.Equal(t, 2, u1.Matched)
	assert.Equal(t, 3, u1.Followed)

	// U2 has edges but none match the table: a real result row with an
	// undefined score, not a missing user.
	u2 := report.Scores[1]
	assert.Equal(t, "2", u2.User)
	assert.False(t, u2.Defined())
	assert.Equal(t, 0, u2.Matched)
	assert.Equal(t, 1, u2.Followed)

	assert.Equal(t, []string{"3"}, report.Missing)
}

func TestComputeScores_EveryInputAccountedOnce(t *testing.T) {
	fetcher := newFakeFetcher(map[string][]Edge{
		"10": {edge("10", "111")},
		"30": {edge("30", "222")},
	})

	e, err := New(newTestTable(t), fetcher, Options{})
	require.NoError(t, err)

	input := []string{"10", "20", "30", "40"}
	report, err := e.ComputeScores(context.Background(), input)
	require.NoError(t, err)

	seen := make(map[string]int)
	for _, s := range report.Scores {
		seen[s.User]++
	}
	for _, u := range report.Missing {
		seen[u]++
	}

	assert.Len(t, seen, len(input))
	for _, u := range input {
		assert.Equal(t, 1, seen[u], "user %s must appear exactly once", u)
	}
}

func TestComputeScores_Deduplication(t *testing.T) {
	fetcher := newFakeFetcher(map[string][]Edge{
		"1": {edge("1", "111")},
	})

	e, err := New(newTestTable(t), fetcher, Options{})
	require.NoError(t, err)

	once, err := e.ComputeScores(context.Background(), []string{"1"})
	require.NoError(t, err)

	twice, err := e.ComputeScores(context.Background(), []string{"1", "1", "1"})
	require.NoError(t, err)

	assert.Equal(t, once, twice)
}

func TestComputeScores_DuplicateEdgesCollapse(t *testing.T) {
	// Three edges to the same followed account plus one to another:
	// the mean is over the distinct followed set {A, B}, not skewed
	// toward the duplicated account.
	fetcher := newFakeFetcher(map[string][]Edge{
		"1": {edge("1", "111"), edge("1", "111"), edge("1", "111"), edge("1", "222")},
	})

	e, err := New(newTestTable(t), fetcher, Options{})
	require.NoError(t, err)

	report, err := e.ComputeScores(context.Background(), []string{"1"})
	require.NoError(t, err)

	require.Len(t, report.Scores, 1)
	assert.InDelta(t, 0.5, report.Scores[0].Value, 1e-9)
	assert.Equal(t, 2, report.Scores[0].Followed)
}

func TestComputeScores_Validation(t *testing.T) {
	e, err := New(newTestTable(t), newFakeFetcher(nil), Options{})
	require.NoError(t, err)

	_, err = e.ComputeScores(context.Background(), []string{"111", "not-a-number", "222", "", "12x"})
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Invalid, 3)

	assert.Equal(t, InvalidID{Index: 1, Value: "not-a-number"}, verr.Invalid[0])
	assert.Equal(t, InvalidID{Index: 3, Value: ""}, verr.Invalid[1])
	assert.Equal(t, InvalidID{Index: 4, Value: "12x"}, verr.Invalid[2])

	// The message enumerates every offending element with its index.
	msg := verr.Error()
	assert.Contains(t, msg, `"not-a-number" | list index: 1`)
	assert.Contains(t, msg, `"" | list index: 3`)
	assert.Contains(t, msg, `"12x" | list index: 4`)
}

func TestComputeScores_MissingNilSentinel(t *testing.T) {
	fetcher := newFakeFetcher(map[string][]Edge{
		"1": {edge("1", "111")},
	})

	e, err := New(newTestTable(t), fetcher, Options{})
	require.NoError(t, err)

	report, err := e.ComputeScores(context.Background(), []string{"1"})
	require.NoError(t, err)

	// nil means "no missing users", distinct from an empty slice.
	assert.Nil(t, report.Missing)
}

func TestComputeScores_FetchError(t *testing.T) {
	fetcher := newFakeFetcher(nil)
	fetcher.err = errors.New("boom")

	e, err := New(newTestTable(t), fetcher, Options{})
	require.NoError(t, err)

	_, err = e.ComputeScores(context.Background(), []string{"1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch follow list for user: 1")
}

// cancellingFetcher cancels its context before failing, simulating a
// run stopped by an interrupt signal mid-fetch.
type cancellingFetcher struct {
	cancel context.CancelFunc
}

func (f *cancellingFetcher) Following(ctx context.Context, _ string) ([]Edge, error) {
	f.cancel()
	return nil, ctx.Err()
}

func TestComputeScores_InterruptFlagsIncompleteCacheFile(t *testing.T) {
	cacheDir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e, err := New(newTestTable(t), &cancellingFetcher{cancel: cancel}, Options{CacheDir: cacheDir})
	require.NoError(t, err)

	_, err = e.ComputeScores(ctx, []string{"1"})
	require.Error(t, err)

	var ierr *InterruptedError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, filepath.Join(cacheDir, "1_data.txt"), ierr.Path)
	// The possibly-incomplete file stays on disk for the caller to
	// inspect or delete.
	assert.FileExists(t, ierr.Path)
}

func TestComputeScores_FetchErrorRemovesCacheFile(t *testing.T) {
	cacheDir := t.TempDir()
	fetcher := newFakeFetcher(nil)
	fetcher.err = errors.New("boom")

	e, err := New(newTestTable(t), fetcher, Options{CacheDir: cacheDir})
	require.NoError(t, err)

	_, err = e.ComputeScores(context.Background(), []string{"1"})
	require.Error(t, err)

	// A plain fetch failure is not an interrupt: no file is flagged
	// and none is left behind to shadow a later refetch.
	var ierr *InterruptedError
	assert.False(t, errors.As(err, &ierr))
	assert.NoFileExists(t, filepath.Join(cacheDir, "1_data.txt"))
}

func TestComputeScores_CachedRunMatchesUncached(t *testing.T) {
	edges := map[string][]Edge{
		"1": {edge("1", "111"), edge("1", "222")},
		"2": {edge("2", "444")},
	}
	users := []string{"1", "2"}

	plain, err := New(newTestTable(t), newFakeFetcher(edges), Options{})
	require.NoError(t, err)
	want, err := plain.ComputeScores(context.Background(), users)
	require.NoError(t, err)

	cacheDir := t.TempDir()
	fetcher := newFakeFetcher(edges)
	cached, err := New(newTestTable(t), fetcher, Options{CacheDir: cacheDir})
	require.NoError(t, err)

	first, err := cached.ComputeScores(context.Background(), users)
	require.NoError(t, err)
	assert.Equal(t, want, first)

	// Second run skips every fetch and aggregates from the cache files.
	second, err := cached.ComputeScores(context.Background(), users)
	require.NoError(t, err)
	assert.Equal(t, want, second)
	assert.Equal(t, 1, fetcher.calls["1"])
	assert.Equal(t, 1, fetcher.calls["2"])
}

func TestComputeScores_ProgressDoesNotAffectOutput(t *testing.T) {
	edges := map[string][]Edge{
		"1": {edge("1", "111")},
		"2": {edge("2", "222")},
		"3": {edge("3", "444")},
	}

	quiet, err := New(newTestTable(t), newFakeFetcher(edges), Options{})
	require.NoError(t, err)
	verbose, err := New(newTestTable(t), newFakeFetcher(edges), Options{Verbose: true, UpdateEvery: 2})
	require.NoError(t, err)

	users := []string{"1", "2", "3"}
	a, err := quiet.ComputeScores(context.Background(), users)
	require.NoError(t, err)
	b, err := verbose.ComputeScores(context.Background(), users)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestDedupe(t *testing.T) {
	tests := map[string][]string{
		"unique": {"3", "1", "2"},
		"dupes":  {"2", "1", "2", "1", "3"},
	}

	for name, input := range tests {
		t.Run(name, func(t *testing.T) {
			out := dedupe(input)
			assert.Equal(t, []string{"1", "2", "3"}, out)
		})
	}
}

func TestIsNumericID(t *testing.T) {
	tests := map[string]bool{
		"1234567890": true,
		"0":          true,
		"":           false,
		" ":          false,
		"12 34":      false,
		"abc":        false,
		"12.3":       false,
		"-123":       false,
	}

	for input, expected := range tests {
		assert.Equal(t, expected, isNumericID(input), "input: %q", input)
	}
}
