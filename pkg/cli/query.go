package cli

import (
	"fmt"

	"github.com/misobs/mectl/pkg/data"
	"github.com/urfave/cli/v2"
)

const (
	queryResultLimitDefault = 50
)

var (
	queryLimitFlag = &cli.IntFlag{
		Name:  "limit",
		Usage: "Limits number of results returned",
		Value: queryResultLimitDefault,
	}

	runIDFlag = &cli.Int64Flag{
		Name:     "run",
		Usage:    "Run ID",
		Required: true,
	}

	queryCmd = &cli.Command{
		Name:    "query",
		Aliases: []string{"q"},
		Usage:   "Query previously recorded scoring runs",
		Subcommands: []*cli.Command{
			{
				Name:    "runs",
				Usage:   "List recorded runs, most recent first",
				Aliases: []string{"r"},
				Action:  cmdQueryRuns,
				Flags: []cli.Flag{
					queryLimitFlag,
				},
			},
			{
				Name:    "scores",
				Usage:   "List per-user scores for a run",
				Aliases: []string{"s"},
				Action:  cmdQueryScores,
				Flags: []cli.Flag{
					runIDFlag,
				},
			},
			{
				Name:    "missing",
				Usage:   "List users for whom a run found no follow edges",
				Aliases: []string{"m"},
				Action:  cmdQueryMissing,
				Flags: []cli.Flag{
					runIDFlag,
				},
			},
		},
	}
)

func cmdQueryRuns(c *cli.Context) error {
	cfg := getConfig(c)

	runs, err := data.GetRuns(cfg.DB, c.Int(queryLimitFlag.Name))
	if err != nil {
		return fmt.Errorf("querying runs: %w", err)
	}

	if err := encode(runs); err != nil {
		return fmt.Errorf("encoding runs: %w", err)
	}
	return nil
}

func cmdQueryScores(c *cli.Context) error {
	cfg := getConfig(c)

	scores, err := data.GetRunScores(cfg.DB, c.Int64(runIDFlag.Name))
	if err != nil {
		return fmt.Errorf("querying scores: %w", err)
	}

	if err := encode(scores); err != nil {
		return fmt.Errorf("encoding scores: %w", err)
	}
	return nil
}

func cmdQueryMissing(c *cli.Context) error {
	cfg := getConfig(c)

	missing, err := data.GetRunMissing(cfg.DB, c.Int64(runIDFlag.Name))
	if err != nil {
		return fmt.Errorf("querying missing users: %w", err)
	}

	if err := encode(missing); err != nil {
		return fmt.Errorf("encoding missing users: %w", err)
	}
	return nil
}
