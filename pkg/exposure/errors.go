package exposure

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrNoFetcher indicates the engine was built without a follow fetcher.
	ErrNoFetcher = errors.New("no fetch client provided")

	// ErrNoTable indicates the engine was built without a falsity table.
	ErrNoTable = errors.New("no falsity table loaded")
)

// InvalidID is a single rejected user identifier with its position
// in the original input.
type InvalidID struct {
	Index int
	Value string
}

// ValidationError reports every invalid user identifier in the input,
// not just the first one found.
type ValidationError struct {
	Invalid []InvalidID
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("some user IDs are not valid numeric identifiers:\n")
	for _, id := range e.Invalid {
		fmt.Fprintf(&b, "\tprovided ID: %q | list index: %d\n", id.Value, id.Index)
	}
	return b.String()
}

// InterruptedError indicates the fetch was interrupted while a per-user
// cache file was being written. The named file may be incomplete and
// should be deleted before rerunning.
type InterruptedError struct {
	Path string
	Err  error
}

func (e *InterruptedError) Error() string {
	return fmt.Sprintf("fetch interrupted, cache file may be incomplete: %s: %v", e.Path, e.Err)
}

func (e *InterruptedError) Unwrap() error {
	return e.Err
}
