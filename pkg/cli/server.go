package cli

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/misobs/mectl/pkg/data"
	"github.com/misobs/mectl/pkg/exposure"
	"github.com/misobs/mectl/pkg/falsity"
	"github.com/misobs/mectl/pkg/twitter"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

const (
	serverShutdownWaitSeconds = 5
	serverTimeoutSeconds      = 300
	serverMaxHeaderBytes      = 20
	serverPortDefault         = 8080
)

var (
	portFlag = &cli.IntFlag{
		Name:  "port",
		Usage: "Port on which the server will listen",
		Value: serverPortDefault,
	}

	serverCmd = &cli.Command{
		Name:    "server",
		Aliases: []string{"v"},
		Usage:   "Start local HTTP server for run history and on-demand scoring",
		Action:  cmdStartServer,
		Flags: []cli.Flag{
			portFlag,
		},
	}
)

func cmdStartServer(c *cli.Context) error {
	cfg := getConfig(c)
	port := c.Int(portFlag.Name)
	address := fmt.Sprintf("127.0.0.1:%d", port)

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	router := makeRouter(cfg)
	s := &http.Server{
		Addr:           address,
		Handler:        router,
		ReadTimeout:    serverTimeoutSeconds * time.Second,
		WriteTimeout:   serverTimeoutSeconds * time.Second,
		MaxHeaderBytes: 1 << serverMaxHeaderBytes,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("error starting server: %v", err)
		}
	}()

	log.Infof("server started on %s", address)

	<-done

	ctx, cancel := context.WithTimeout(context.Background(), serverShutdownWaitSeconds*time.Second)
	defer cancel()

	if err := s.Shutdown(ctx); err != nil && err != http.ErrServerClosed {
		log.Errorf("error shutting down server: %v", err)
	}
	return nil
}

func makeRouter(cfg *appConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", healthHandler)
	r.GET("/v1/runs", runsHandler(cfg.DB))
	r.GET("/v1/runs/:id", runDetailHandler(cfg.DB))
	r.POST("/v1/scores", scoresHandler(cfg))

	return r
}

func healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version})
}

func runsHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.Query("limit"))
		runs, err := data.GetRuns(db, limit)
		if err != nil {
			log.Errorf("error querying runs: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query runs"})
			return
		}
		c.JSON(http.StatusOK, runs)
	}
}

// RunDetail is a run summary with its recorded per-user results.
type RunDetail struct {
	Scores  []*data.RunScore `json:"scores"`
	Missing []string         `json:"missing,omitempty"`
}

func runDetailHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run ID"})
			return
		}

		scores, err := data.GetRunScores(db, id)
		if err != nil {
			log.Errorf("error querying scores: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query run"})
			return
		}

		missing, err := data.GetRunMissing(db, id)
		if err != nil {
			log.Errorf("error querying missing users: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query run"})
			return
		}

		c.JSON(http.StatusOK, &RunDetail{Scores: scores, Missing: missing})
	}
}

// ScoreRequest is the on-demand scoring request body.
type ScoreRequest struct {
	IDs []string `json:"ids" binding:"required"`
}

func scoresHandler(cfg *appConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ScoreRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		table, err := falsity.Load(filepath.Join(cfg.Home, falsity.DataFileName))
		if err != nil {
			log.Errorf("error loading falsity table: %v", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "falsity table not available, run import first"})
			return
		}

		token, err := getBearerToken(cfg.Home)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no bearer token configured"})
			return
		}

		fetcher, err := twitter.New(token)
		if err != nil {
			log.Errorf("error creating platform client: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create platform client"})
			return
		}

		engine, err := exposure.New(table, fetcher, exposure.Options{})
		if err != nil {
			log.Errorf("error creating engine: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create engine"})
			return
		}

		report, err := engine.ComputeScores(c.Request.Context(), req.IDs)
		if err != nil {
			var verr *exposure.ValidationError
			if errors.As(err, &verr) {
				c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error()})
				return
			}
			log.Errorf("error computing scores: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute scores"})
			return
		}

		c.JSON(http.StatusOK, report)
	}
}
