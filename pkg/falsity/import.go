package falsity

import (
	"context"
	"io"
	"net/http"
	"os"

	"github.com/google/go-github/v68/github"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

const (
	dataOwner = "mmosleh"
	dataRepo  = "minfo-exposure"
	dataPath  = "data/falsity_scores.csv"

	dataFileMode = 0600
)

// Download fetches the published falsity score table from its upstream
// GitHub repository and writes it to the given path. The ref selects a
// branch or tag, empty means the repository default.
func Download(ctx context.Context, client *http.Client, ref, destPath string) (int64, error) {
	if destPath == "" {
		return 0, errors.New("destination path is required")
	}

	opts := &github.RepositoryContentGetOptions{Ref: ref}
	rc, resp, err := github.NewClient(client).Repositories.DownloadContents(ctx, dataOwner, dataRepo, dataPath, opts)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to download %s/%s/%s", dataOwner, dataRepo, dataPath)
	}
	defer rc.Close()

	log.Debugf("downloading falsity table, status: %s", resp.Status)

	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, dataFileMode)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create data file: %s", destPath)
	}
	defer f.Close()

	n, err := io.Copy(f, rc)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to write data file: %s", destPath)
	}

	return n, nil
}
