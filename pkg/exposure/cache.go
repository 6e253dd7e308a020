package exposure

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	cacheDirMode  = 0700
	cacheFileMode = 0600

	edgeFieldCount = 4
)

// edgeCache persists one file per queried user, one CSV line per follow
// edge: user, followed ID, followed display name, followed handle.
// A cache directory belongs to a single engine instance, there is no
// cross-process locking.
type edgeCache struct {
	dir string
}

func newEdgeCache(dir string) (*edgeCache, error) {
	if dir == "" {
		return nil, errors.New("cache directory not specified")
	}
	if err := os.MkdirAll(dir, cacheDirMode); err != nil {
		return nil, errors.Wrapf(err, "failed to create cache dir: %s", dir)
	}
	return &edgeCache{dir: dir}, nil
}

func (c *edgeCache) path(user string) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s_data.txt", user))
}

func (c *edgeCache) has(user string) bool {
	_, err := os.Stat(c.path(user))
	return err == nil
}

// create opens the user's cache file for writing, truncating any prior
// content. The caller owns the returned file.
func (c *edgeCache) create(user string) (*os.File, error) {
	p := c.path(user)
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, cacheFileMode)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create cache file: %s", p)
	}
	return f, nil
}

func writeEdges(f *os.File, edges []Edge) error {
	w := csv.NewWriter(f)
	for _, e := range edges {
		if err := w.Write([]string{e.User, e.FollowedID, e.FollowedName, e.FollowedUsername}); err != nil {
			return errors.Wrapf(err, "failed to write cache file: %s", f.Name())
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return errors.Wrapf(err, "failed to flush cache file: %s", f.Name())
	}
	return nil
}

// readAll loads every cached edge file in the directory. Each line must
// parse as exactly four fields, malformed lines are rejected with the
// file and line number rather than skipped.
func (c *edgeCache) readAll() ([]Edge, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list cache dir: %s", c.dir)
	}

	edges := make([]Edge, 0)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		p := filepath.Join(c.dir, entry.Name())
		list, err := readEdgeFile(p)
		if err != nil {
			return nil, err
		}
		edges = append(edges, list...)
	}

	log.Debugf("loaded %d cached edges from %s", len(edges), c.dir)

	return edges, nil
}

func readEdgeFile(path string) ([]Edge, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open cache file: %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = edgeFieldCount

	edges := make([]Edge, 0)
	for {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			// csv parse errors already carry the line number
			return nil, errors.Wrapf(err, "malformed cache file: %s", path)
		}
		edges = append(edges, Edge{
			User:             rec[0],
			FollowedID:       rec[1],
			FollowedName:     rec[2],
			FollowedUsername: rec[3],
		})
	}

	return edges, nil
}
