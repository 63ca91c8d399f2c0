// Package pipeline runs one fetch: lister -> extractor -> tally -> report.
package pipeline

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"

	"github.com/charmbracelet/log"

	"sendertally/internal/model"
	"sendertally/internal/tally"
	"sendertally/internal/util"
)

type State int

const (
	Fetching State = iota
	Done
)

func (s State) String() string {
	switch s {
	case Fetching:
		return "fetching"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

type Options struct {
	Extractor util.Extractor
	// Exclude lists addresses that are never counted (matched after normalization).
	Exclude  []string
	ByDomain bool
	Logger   *log.Logger
	// OnSender, if set, is called after each counted message.
	OnSender func(processed int, s model.Sender)
}

// Result is what a run leaves behind. Report is populated even when Err is
// set, covering every message yielded before the failure.
type Result struct {
	State  State
	Report model.Report
	Err    error
}

// Run drains msgs into a fresh tally. It returns when the sequence ends,
// either exhausted or with an error.
func Run(ctx context.Context, account model.Account, msgs iter.Seq2[model.MessageMeta, error], opts Options) Result {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	excluded := make(map[string]struct{}, len(opts.Exclude))
	for _, e := range opts.Exclude {
		excluded[strings.ToLower(strings.TrimSpace(e))] = struct{}{}
	}

	t := tally.New()
	processed := 0
	var runErr error
	for meta, err := range msgs {
		if err != nil {
			runErr = err
			break
		}
		processed++
		s, err := opts.Extractor.Extract(meta)
		if err != nil {
			t.Skip()
			logger.Warn("skipping message", "id", meta.ID, "err", err)
			continue
		}
		if _, ok := excluded[s.Address]; ok {
			t.Exclude()
			logger.Debug("excluded sender", "id", meta.ID, "sender", s.Address)
			continue
		}
		t.Record(s)
		logger.Debug("sender", "n", processed, "sender", s.Address)
		if opts.OnSender != nil {
			opts.OnSender(processed, s)
		}
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = ctx.Err()
	}

	rep := model.Report{
		Account:   account,
		Senders:   t.Report(),
		Processed: processed,
		Recorded:  t.Recorded(),
		Skipped:   t.Skipped(),
		Excluded:  t.Excluded(),
	}
	if opts.ByDomain {
		rep.Domains = t.Domains()
	}
	if runErr != nil {
		rep.Err = runErr.Error()
		if errors.Is(runErr, context.Canceled) {
			logger.Warn("fetch interrupted", "processed", processed)
		} else {
			logger.Error("fetch aborted", "processed", processed, "err", runErr)
		}
	}
	return Result{State: Done, Report: rep, Err: runErr}
}
