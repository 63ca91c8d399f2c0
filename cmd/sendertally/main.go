package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"sendertally/internal/config"
	"sendertally/internal/fetch"
	"sendertally/internal/gmail"
	"sendertally/internal/model"
	"sendertally/internal/pipeline"
	"sendertally/internal/progress"
	"sendertally/internal/report"
	"sendertally/internal/source"
	"sendertally/internal/tui"
	"sendertally/internal/util"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	cfg, err := config.Load(args)
	if errors.Is(err, pflag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Config error: %v\n", err)
		return 2
	}
	format, _ := report.ParseFormat(cfg.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.TUI {
		return runTUI(ctx, cfg, format, stdout, stderr)
	}

	logger := newLogger(cfg, stderr)
	hooks := tui.Hooks{
		Prompter: gmail.TerminalPrompter{In: stdin, Out: stderr, Open: gmail.OpenBrowser},
		Progress: progress.NewLine(stderr),
		Account: func(a model.Account) {
			logger.Info("authenticated", "account", a.Email, "messages", a.MessagesTotal)
		},
	}
	rep, err := fetchReport(ctx, cfg, logger, hooks)
	return finish(rep, err, format, cfg, stdout, stderr)
}

func runTUI(ctx context.Context, cfg *config.Config, format report.Format, stdout, stderr io.Writer) int {
	// The screen belongs to bubbletea, so logs go to a file.
	if err := os.MkdirAll(cfg.ConfigDir, 0o700); err != nil {
		fmt.Fprintf(stderr, "Cannot create %s: %v\n", cfg.ConfigDir, err)
		return 1
	}
	logPath := filepath.Join(cfg.ConfigDir, "sendertally.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		fmt.Fprintf(stderr, "Cannot open log file: %v\n", err)
		return 1
	}
	defer logFile.Close()
	logger := newLogger(cfg, logFile)

	job := func(ctx context.Context, h tui.Hooks) (*model.Report, error) {
		return fetchReport(ctx, cfg, logger, h)
	}
	appModel := tui.NewAppModel(ctx, job)
	p := tea.NewProgram(&appModel, tea.WithAltScreen())
	appModel.SetProgram(p)
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(stderr, "Alas, there's been an error: %v\n", err)
		return 1
	}
	return finish(appModel.Report, appModel.Err, format, cfg, stdout, stderr)
}

// fetchReport opens the configured mailbox and tallies its senders. The
// report is nil only when nothing could be fetched.
func fetchReport(ctx context.Context, cfg *config.Config, logger *log.Logger, h tui.Hooks) (*model.Report, error) {
	src, err := source.Open(ctx, cfg, source.Deps{Prompter: h.Prompter, Logger: logger})
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := src.Close(); err != nil {
			logger.Debug("closing source", "err", err)
		}
	}()
	if h.Account != nil {
		h.Account(src.Account)
	}

	lister := fetch.NewLister(src.Provider, fetch.Options{
		Limit:       cfg.Limit,
		PageSize:    cfg.PageSize,
		MaxAttempts: cfg.MaxAttempts,
		Total:       src.Account.MessagesTotal,
		Reporter:    h.Progress,
		Logger:      logger,
	})
	res := pipeline.Run(ctx, src.Account, lister.Messages(ctx), pipeline.Options{
		Extractor: util.Extractor{StripPlusAlias: cfg.StripPlusAlias},
		Exclude:   cfg.Exclude,
		ByDomain:  cfg.ByDomain,
		Logger:    logger,
		OnSender:  h.Sender,
	})
	return &res.Report, res.Err
}

// finish prints whatever report exists and maps the outcome to an exit code.
func finish(rep *model.Report, runErr error, format report.Format, cfg *config.Config, stdout, stderr io.Writer) int {
	if rep != nil {
		if err := report.Write(stdout, format, *rep, report.Options{Top: cfg.Top}); err != nil {
			fmt.Fprintf(stderr, "Cannot write report: %v\n", err)
			return 1
		}
	}
	if runErr != nil {
		if rep == nil || format != report.Text {
			fmt.Fprintf(stderr, "Error: %v\n", runErr)
		}
		return 1
	}
	return 0
}

func newLogger(cfg *config.Config, w io.Writer) *log.Logger {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	return log.NewWithOptions(w, log.Options{
		Level:           level,
		ReportTimestamp: true,
		Prefix:          "sendertally",
	})
}
