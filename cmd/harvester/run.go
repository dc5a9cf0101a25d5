package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/discussion-harvester/internal/harvest"
	"github.com/JakeFAU/discussion-harvester/internal/orchestrator"
)

type runOptions struct {
	url        string
	cookie     string
	cookieFile string
	minVotes   int
	sessionID  string
}

// summary is what the run command prints; records stay in the export.
type summary struct {
	SessionID    string           `json:"session_id"`
	Title        string           `json:"title"`
	Strategy     harvest.Strategy `json:"strategy_used"`
	Records      int              `json:"records"`
	PagesFetched int              `json:"pages_fetched"`
	ScrollRounds int              `json:"scroll_attempts"`
	Partial      bool             `json:"partial"`
	Warnings     []string         `json:"warnings,omitempty"`
	FileName     string           `json:"file_name"`
}

func newRunCmd() *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Harvests one question page and exits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runHarvestCommand(cmd, opts)
		},
	}
	cmd.Flags().StringVar(&opts.url, "url", "", "question page url")
	cmd.Flags().StringVar(&opts.cookie, "cookie", "", "cookie header or JSON cookie array")
	cmd.Flags().StringVar(&opts.cookieFile, "cookie-file", "", "file holding the cookie credential")
	cmd.Flags().IntVar(&opts.minVotes, "min-votes", -1, "drop answers with fewer upvotes (-1 keeps all)")
	cmd.Flags().StringVar(&opts.sessionID, "session-id", "", "session id for progress tracking")
	return cmd
}

// request builds the orchestrator request, reading the credential from disk when asked.
func (o *runOptions) request() (orchestrator.Request, error) {
	if strings.TrimSpace(o.url) == "" {
		return orchestrator.Request{}, errors.New("--url is required")
	}
	cookie := o.cookie
	if o.cookieFile != "" {
		if cookie != "" {
			return orchestrator.Request{}, errors.New("--cookie and --cookie-file are mutually exclusive")
		}
		data, err := os.ReadFile(o.cookieFile)
		if err != nil {
			return orchestrator.Request{}, fmt.Errorf("read cookie file: %w", err)
		}
		cookie = strings.TrimSpace(string(data))
	}
	req := orchestrator.Request{URL: o.url, Cookie: cookie, SessionID: o.sessionID}
	if o.minVotes >= 0 {
		minVotes := o.minVotes
		req.MinVotes = &minVotes
	}
	return req, nil
}

func runHarvestCommand(cmd *cobra.Command, opts *runOptions) error {
	req, err := opts.request()
	if err != nil {
		return err
	}
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer app.Close(ctx)

	res, err := app.Orchestrator.Harvest(ctx, req)
	if err != nil {
		var herr *harvest.HarvestError
		if errors.As(err, &herr) {
			for _, line := range herr.Log {
				fmt.Fprintln(cmd.ErrOrStderr(), line)
			}
		}
		return fmt.Errorf("harvest: %w", err)
	}
	e.logger.Info("harvest finished",
		zap.String("session_id", res.SessionID),
		zap.Int("records", len(res.Records)),
		zap.String("file", res.FileName),
	)
	return writeSummary(cmd, res)
}

func writeSummary(cmd *cobra.Command, res harvest.Result) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary{
		SessionID:    res.SessionID,
		Title:        res.Title,
		Strategy:     res.StrategyUsed,
		Records:      len(res.Records),
		PagesFetched: res.PagesFetched,
		ScrollRounds: res.ScrollAttempts,
		Partial:      res.Partial,
		Warnings:     res.Warnings,
		FileName:     res.FileName,
	}); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}
