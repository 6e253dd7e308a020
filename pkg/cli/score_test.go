package cli

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/misobs/mectl/pkg/exposure"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadUserIDs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.txt")
	require.NoError(t, os.WriteFile(path, []byte("111\n222\n\n333\n"), 0600))

	users, err := loadUserIDs(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"111", "222", "333"}, users)
}

func TestLoadUserIDs_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ids.txt")
	require.NoError(t, os.WriteFile(path, []byte("\n\n"), 0600))

	_, err := loadUserIDs(path)
	assert.Error(t, err)
}

func TestLoadUserIDs_MissingFile(t *testing.T) {
	_, err := loadUserIDs(filepath.Join(t.TempDir(), "nope.txt"))
	assert.Error(t, err)
}

func TestWriteScoresCSV(t *testing.T) {
	dir := t.TempDir()
	prefix := filepath.Join(dir, "scores")

	report := &exposure.Report{
		Scores: []exposure.Score{
			{User: "1", Value: 0.5, Matched: 2, Followed: 3},
			{User: "2", Value: math.NaN(), Matched: 0, Followed: 1},
		},
	}

	path, err := writeScoresCSV(prefix, report)
	require.NoError(t, err)
	assert.Contains(t, path, prefix+"--")

	b, err := os.ReadFile(path)
	require.NoError(t, err)

	// Undefined scores export as empty cells, not NaN.
	assert.Contains(t, string(b), "user,misinfo_score\n")
	assert.Contains(t, string(b), "1,0.5\n")
	assert.Contains(t, string(b), "2,\n")
}

func TestWriteMissingUsers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing_users.txt")

	require.NoError(t, writeMissingUsers(path, []string{"1", "2"}))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n", string(b))
}
