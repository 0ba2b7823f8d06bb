// Package pipeline implements the analyze → decide → create → aggregate
// agent pipeline and the run ledger semantics around it. A run either
// completes with a full report or fails with a recorded reason; there is no
// partial success.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/marketing-agent/internal/config"
	"github.com/sells-group/marketing-agent/internal/creative"
	"github.com/sells-group/marketing-agent/internal/knowledge"
	"github.com/sells-group/marketing-agent/internal/model"
	"github.com/sells-group/marketing-agent/internal/store"
)

// Runner owns pipeline execution. Runs are serialized through a mutex so two
// concurrent triggers never interleave their reads of the metrics tables;
// the second caller waits.
type Runner struct {
	cfg      *config.Config
	store    store.Store
	analyzer *Analyzer
	decider  *Decider
	creator  *Creator

	mu sync.Mutex
}

func NewRunner(cfg *config.Config, st store.Store, retriever knowledge.Retriever, gen creative.Generator) *Runner {
	return &Runner{
		cfg:      cfg,
		store:    st,
		analyzer: NewAnalyzer(st, cfg.Analysis),
		decider:  NewDecider(cfg.Guardrail, retriever, cfg.Knowledge.TopK),
		creator:  NewCreator(cfg.Creative, gen, retriever, cfg.Knowledge.TopK, st),
	}
}

// Run executes a full pipeline synchronously and returns the terminal run
// record. The returned error is non-nil when the run failed; the ledger
// entry carries the same reason either way.
func (r *Runner) Run(ctx context.Context, runType model.RunType, params model.RunParams) (*model.AgentRun, error) {
	r.fillParams(&params)

	run, err := r.store.CreateRun(ctx, runType, params)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	return r.drive(ctx, run)
}

// Trigger creates the run record, then executes it in the background. The
// caller gets the pending run immediately and polls the ledger for the
// outcome. Execution deliberately detaches from the caller's context; an
// async run outlives the request that started it.
func (r *Runner) Trigger(ctx context.Context, runType model.RunType, params model.RunParams) (*model.AgentRun, error) {
	r.fillParams(&params)

	run, err := r.store.CreateRun(ctx, runType, params)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	go func() {
		if _, err := r.drive(context.Background(), run); err != nil {
			zap.L().Error("background run failed", zap.String("run_id", run.ID), zap.Error(err))
		}
	}()
	return run, nil
}

func (r *Runner) fillParams(params *model.RunParams) {
	if params.WindowDays <= 0 {
		params.WindowDays = r.cfg.Analysis.WindowDays
	}
	if params.ComparisonDays <= 0 {
		params.ComparisonDays = r.cfg.Analysis.ComparisonDays
	}
}

// drive takes a pending run through start, execute, and its terminal state.
func (r *Runner) drive(ctx context.Context, run *model.AgentRun) (*model.AgentRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.StartRun(ctx, run.ID); err != nil {
		startErr := eris.Wrapf(err, "pipeline: start run %s", run.ID)
		// The run row was already created, so it must still reach a terminal
		// state. Unless the row is gone or no longer pending, fail it on a
		// detached context; the caller's context may be what killed StartRun
		// in the first place.
		var tErr *model.InvalidTransitionError
		if errors.Is(err, store.ErrNotFound) || errors.As(err, &tErr) {
			return nil, startErr
		}
		ledgerCtx := context.WithoutCancel(ctx)
		if failErr := r.store.FailRun(ledgerCtx, run.ID, startErr.Error()); failErr != nil {
			zap.L().Error("failed to record run failure", zap.String("run_id", run.ID), zap.Error(failErr))
		}
		if final, getErr := r.store.GetRun(ledgerCtx, run.ID); getErr == nil {
			return final, startErr
		}
		return nil, startErr
	}
	zap.L().Info("run started",
		zap.String("run_id", run.ID),
		zap.String("run_type", string(run.RunType)),
		zap.Int("window_days", run.InputParams.WindowDays),
		zap.Int("comparison_days", run.InputParams.ComparisonDays))

	execErr := r.execute(ctx, run)

	// The ledger write must land even when the caller's context died; a run
	// stuck in running with nobody coming back for it is the worst outcome.
	ledgerCtx := context.WithoutCancel(ctx)
	if execErr != nil {
		if failErr := r.store.FailRun(ledgerCtx, run.ID, execErr.Error()); failErr != nil {
			zap.L().Error("failed to record run failure", zap.String("run_id", run.ID), zap.Error(failErr))
		}
	}

	final, err := r.store.GetRun(ledgerCtx, run.ID)
	if err != nil {
		final = run
	}
	return final, execErr
}

// execute runs the four stages in order. Each stage's outputs are persisted
// before the next stage starts, and cancellation is honored at every stage
// boundary.
func (r *Runner) execute(ctx context.Context, run *model.AgentRun) error {
	var stages []model.StageResult
	runDate := time.Now().UTC()
	window, comparison := planWindows(runDate, run.InputParams.ComparisonDays)

	var (
		insights []model.Insight
		summary  string
	)
	err := r.trackStage(ctx, &stages, "analyze", func(ctx context.Context) error {
		var err error
		insights, summary, err = r.analyzer.Analyze(ctx, run.ID, window, comparison)
		if err != nil {
			return err
		}
		return r.store.SaveInsights(ctx, insights)
	}, func() map[string]any {
		return map[string]any{"insights": len(insights), "window": window.String(), "comparison": comparison.String()}
	})
	if err != nil {
		return err
	}

	var actions []model.Action
	err = r.trackStage(ctx, &stages, "decide", func(ctx context.Context) error {
		if r.cfg.Knowledge.RetrieveTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.Knowledge.RetrieveTimeout)*time.Second)
			defer cancel()
		}
		var err error
		actions, err = r.decider.Decide(ctx, run.ID, insights)
		if err != nil {
			return err
		}
		return r.store.SaveActions(ctx, actions)
	}, func() map[string]any {
		return map[string]any{"actions": len(actions)}
	})
	if err != nil {
		return err
	}

	var creatives []model.Creative
	if hasTestAction(actions) {
		err = r.trackStage(ctx, &stages, "create", func(ctx context.Context) error {
			if r.cfg.Creative.GenerateTimeoutSec > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.Creative.GenerateTimeoutSec)*time.Second)
				defer cancel()
			}
			var err error
			creatives, err = r.creator.Create(ctx, run.ID, actions)
			if err != nil {
				return err
			}
			return r.store.SaveCreatives(ctx, creatives)
		}, func() map[string]any {
			return map[string]any{"creatives": len(creatives)}
		})
		if err != nil {
			return err
		}
	} else {
		stages = append(stages, model.StageResult{
			Name:     "create",
			Status:   model.StageStatusSkipped,
			Metadata: map[string]any{"reason": "no test actions"},
		})
	}

	var report model.RunReport
	err = r.trackStage(ctx, &stages, "aggregate", func(ctx context.Context) error {
		report = BuildReport(run.ID, runDate, summary, insights, actions, creatives, stages)
		return nil
	}, nil)
	if err != nil {
		return err
	}
	// The aggregate entry is appended after the report snapshot was taken;
	// refresh so the stored report covers all four stages.
	report.Stages = stages

	if err := r.store.CompleteRun(ctx, run.ID, &report); err != nil {
		return eris.Wrapf(err, "pipeline: complete run %s", run.ID)
	}
	zap.L().Info("run completed",
		zap.String("run_id", run.ID),
		zap.Int("insights", len(insights)),
		zap.Int("actions", len(actions)),
		zap.Int("creatives", len(creatives)))
	return nil
}

// trackStage wraps one stage with the cancellation boundary check, timing,
// logging, and the stage's ledger entry.
func (r *Runner) trackStage(ctx context.Context, stages *[]model.StageResult, name string, fn func(context.Context) error, meta func() map[string]any) error {
	if err := ctx.Err(); err != nil {
		*stages = append(*stages, model.StageResult{
			Name:   name,
			Status: model.StageStatusSkipped,
			Error:  "cancelled before stage started",
		})
		return fmt.Errorf("cancelled before stage %s: %w", name, err)
	}

	start := time.Now()
	zap.L().Debug("stage started", zap.String("stage", name))
	err := fn(ctx)
	result := model.StageResult{
		Name:     name,
		Status:   model.StageStatusComplete,
		Duration: time.Since(start).Milliseconds(),
	}
	if meta != nil {
		result.Metadata = meta()
	}
	if err != nil {
		result.Status = model.StageStatusFailed
		result.Error = err.Error()
		*stages = append(*stages, result)
		zap.L().Error("stage failed",
			zap.String("stage", name),
			zap.Int64("duration_ms", result.Duration),
			zap.Error(err))
		return fmt.Errorf("stage %s: %w", name, err)
	}
	*stages = append(*stages, result)
	zap.L().Info("stage complete",
		zap.String("stage", name),
		zap.Int64("duration_ms", result.Duration))
	return nil
}

// planWindows derives the two compared periods from the run date: the
// current window is the last comparisonDays days ending on the run date
// inclusive, the comparison window is the same-length period immediately
// before it. Ranges are half-open on canonical dates.
func planWindows(runDate time.Time, comparisonDays int) (window, comparison DateRange) {
	day := func(t time.Time) string { return t.Format("2006-01-02") }
	curTo := runDate.AddDate(0, 0, 1)
	curFrom := runDate.AddDate(0, 0, -(comparisonDays - 1))
	prevFrom := curFrom.AddDate(0, 0, -comparisonDays)

	window = DateRange{From: day(curFrom), To: day(curTo)}
	comparison = DateRange{From: day(prevFrom), To: day(curFrom)}
	return window, comparison
}

func hasTestAction(actions []model.Action) bool {
	for _, act := range actions {
		if act.Type == model.ActionTest {
			return true
		}
	}
	return false
}
