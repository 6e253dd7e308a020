package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/misobs/mectl/pkg/data"
	"github.com/misobs/mectl/pkg/exposure"
	"github.com/misobs/mectl/pkg/falsity"
	"github.com/misobs/mectl/pkg/twitter"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const (
	outputTimeFormat = "--2006_01_02__15_04_05.csv"

	missingUsersFileName = "missing_users.txt"

	outputFileMode = 0600
)

var (
	idsFileFlag = &cli.StringFlag{
		Name:     "file",
		Aliases:  []string{"f"},
		Usage:    "Path to a newline-delimited file of platform user IDs",
		Required: true,
	}

	outputPrefixFlag = &cli.StringFlag{
		Name:  "out",
		Usage: "Prefix of the output CSV file (date suffix is appended)",
	}

	scoreTokenFlag = &cli.StringFlag{
		Name:  "token",
		Usage: "Platform developer bearer token (overrides stored token)",
	}

	saveFollowingFlag = &cli.BoolFlag{
		Name:  "save-following",
		Usage: "Persist each user's fetched follow list to disk and aggregate from the cached files",
	}

	followingDirFlag = &cli.StringFlag{
		Name:  "following-dir",
		Usage: "Directory for cached follow lists (implies --save-following)",
	}

	updateOnFlag = &cli.IntFlag{
		Name:  "update-on",
		Usage: "Report progress every N processed users",
	}

	dataFileFlag = &cli.StringFlag{
		Name:  "data",
		Usage: fmt.Sprintf("Path to the falsity score table (default: $HOME/.%s/%s)", name, falsity.DataFileName),
	}

	scoreCmd = &cli.Command{
		Name:    "score",
		Aliases: []string{"s"},
		Usage:   "Compute misinformation exposure scores for a list of user IDs",
		UsageText: `mectl score --file ids.txt                       # score with stored token
   mectl score --file ids.txt --out my_scores       # custom output prefix
   mectl score --file ids.txt --save-following      # cache follow lists on disk`,
		Action: cmdScore,
		Flags: []cli.Flag{
			idsFileFlag,
			outputPrefixFlag,
			scoreTokenFlag,
			saveFollowingFlag,
			followingDirFlag,
			updateOnFlag,
			dataFileFlag,
		},
	}
)

// ScoreResult is the completion summary printed after a scoring run.
type ScoreResult struct {
	RunID       int64    `json:"run_id" yaml:"run_id"`
	OutputFile  string   `json:"output_file" yaml:"output_file"`
	MissingFile string   `json:"missing_file,omitempty" yaml:"missing_file,omitempty"`
	Users       int      `json:"users" yaml:"users"`
	Scored      int      `json:"scored" yaml:"scored"`
	Missing     []string `json:"missing,omitempty" yaml:"missing,omitempty"`
	Duration    string   `json:"duration" yaml:"duration"`
}

func cmdScore(c *cli.Context) error {
	start := time.Now()
	cfg := getConfig(c)

	token := c.String(scoreTokenFlag.Name)
	if token == "" {
		t, err := getBearerToken(cfg.Home)
		if err != nil {
			return fmt.Errorf("resolving bearer token: %w", err)
		}
		token = t
	}

	users, err := loadUserIDs(c.String(idsFileFlag.Name))
	if err != nil {
		return err
	}

	dataPath := c.String(dataFileFlag.Name)
	if dataPath == "" {
		dataPath = filepath.Join(cfg.Home, falsity.DataFileName)
	}

	table, err := falsity.Load(dataPath)
	if err != nil {
		return fmt.Errorf("%w (run `%s import` to download the falsity table)", err, name)
	}

	fetcher, err := twitter.New(token)
	if err != nil {
		return fmt.Errorf("creating platform client: %w", err)
	}

	opts := exposure.Options{
		Verbose:     true,
		UpdateEvery: cfg.Conf.UpdateOn,
	}
	if n := c.Int(updateOnFlag.Name); n > 0 {
		opts.UpdateEvery = n
	}
	if c.Bool(saveFollowingFlag.Name) || c.String(followingDirFlag.Name) != "" || cfg.Conf.SaveFollowing {
		opts.CacheDir = cfg.Conf.FollowingDir
		if dir := c.String(followingDirFlag.Name); dir != "" {
			opts.CacheDir = dir
		}
	}

	engine, err := exposure.New(table, fetcher, opts)
	if err != nil {
		return fmt.Errorf("creating engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := engine.ComputeScores(ctx, users)
	if err != nil {
		return err
	}

	prefix := c.String(outputPrefixFlag.Name)
	if prefix == "" {
		prefix = cfg.Conf.OutputFilePrefix
	}

	outPath, err := writeScoresCSV(prefix, report)
	if err != nil {
		return err
	}

	res := &ScoreResult{
		OutputFile: outPath,
		Users:      len(report.Scores) + len(report.Missing),
		Scored:     len(report.Scores),
		Missing:    report.Missing,
		Duration:   time.Since(start).String(),
	}

	if report.Missing != nil {
		if err := writeMissingUsers(missingUsersFileName, report.Missing); err != nil {
			return err
		}
		res.MissingFile = missingUsersFileName
	}

	runID, err := data.SaveRun(cfg.DB, report, time.Since(start))
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	res.RunID = runID

	if err := encode(res); err != nil {
		return fmt.Errorf("encoding result: %+v: %w", res, err)
	}

	log.Info("--- score run complete ---")
	return nil
}

// loadUserIDs reads a newline-delimited ID file, skipping blank lines.
func loadUserIDs(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening user ID file %s: %w", path, err)
	}
	defer f.Close()

	users := make([]string, 0)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		users = append(users, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading user ID file %s: %w", path, err)
	}

	if len(users) == 0 {
		return nil, fmt.Errorf("no user IDs found in: %s", path)
	}

	return users, nil
}

type scoreRow struct {
	User         string `csv:"user"`
	MisinfoScore string `csv:"misinfo_score"`
}

// writeScoresCSV exports the scores as `user,misinfo_score` rows into a
// timestamped file. Undefined scores export as empty cells.
func writeScoresCSV(prefix string, report *exposure.Report) (string, error) {
	path := prefix + time.Now().Format(outputTimeFormat)

	rows := make([]*scoreRow, 0, len(report.Scores))
	for _, s := range report.Scores {
		row := &scoreRow{User: s.User}
		if s.Defined() {
			row.MisinfoScore = strconv.FormatFloat(s.Value, 'f', -1, 64)
		}
		rows = append(rows, row)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, outputFileMode)
	if err != nil {
		return "", fmt.Errorf("creating output file %s: %w", path, err)
	}
	defer f.Close()

	if err := gocsv.MarshalFile(&rows, f); err != nil {
		return "", fmt.Errorf("writing output file %s: %w", path, err)
	}

	return path, nil
}

func writeMissingUsers(path string, missing []string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, outputFileMode)
	if err != nil {
		return fmt.Errorf("creating missing users file %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, u := range missing {
		fmt.Fprintln(w, u)
	}
	return w.Flush()
}
