package cli

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/misobs/mectl/pkg/falsity"
	"github.com/misobs/mectl/pkg/net"
	"github.com/urfave/cli/v2"
)

var (
	refFlag = &cli.StringFlag{
		Name:  "ref",
		Usage: "Branch or tag of the upstream data repository (default: repository default branch)",
	}

	importTokenFlag = &cli.StringFlag{
		Name:    "token",
		Usage:   "GitHub access token for the download (optional, avoids anonymous API rate limits)",
		EnvVars: []string{"GITHUB_ACCESS_TOKEN"},
	}

	importCmd = &cli.Command{
		Name:    "import",
		Aliases: []string{"i"},
		Usage:   "Download the published falsity score table into the app home dir",
		Action:  cmdImport,
		Flags: []cli.Flag{
			refFlag,
			importTokenFlag,
		},
	}
)

// ImportResult is the summary printed after a table import.
type ImportResult struct {
	Path     string `json:"path" yaml:"path"`
	Bytes    int64  `json:"bytes" yaml:"bytes"`
	Records  int    `json:"records" yaml:"records"`
	Duration string `json:"duration" yaml:"duration"`
}

func cmdImport(c *cli.Context) error {
	start := time.Now()
	cfg := getConfig(c)

	dest := filepath.Join(cfg.Home, falsity.DataFileName)

	ctx := context.Background()
	client := importClient(ctx, c.String(importTokenFlag.Name))

	n, err := falsity.Download(ctx, client, c.String(refFlag.Name), dest)
	if err != nil {
		return fmt.Errorf("downloading falsity table: %w", err)
	}

	table, err := falsity.Load(dest)
	if err != nil {
		return fmt.Errorf("verifying downloaded table: %w", err)
	}

	res := &ImportResult{
		Path:     dest,
		Bytes:    n,
		Records:  table.Len(),
		Duration: time.Since(start).String(),
	}

	if err := encode(res); err != nil {
		return fmt.Errorf("encoding result: %+v: %w", res, err)
	}

	return nil
}

// importClient returns an authenticated GitHub client when a token is
// set, nil for anonymous access.
func importClient(ctx context.Context, token string) *http.Client {
	if token == "" {
		return nil
	}
	return net.GetOAuthClient(ctx, token)
}
