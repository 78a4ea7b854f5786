package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/dbworkflow/logging"
	"github.com/c360studio/dbworkflow/tools"
)

// Observer receives engine lifecycle events. The metrics package implements
// it; a nil observer is a no-op.
type Observer interface {
	StepStarted(workflow string)
	StepFinished(workflow string, status StepStatus, duration time.Duration)
	WorkflowFinished(workflow string, status Status, duration time.Duration)
}

// Workflow is a validated, executable DAG. Built by Builder.Build.
type Workflow struct {
	Config Config
	Steps  map[string]*Step

	// order is the topological order established at build time.
	order []string

	logger   *logging.Logger
	observer Observer
}

// WithLogger attaches the structured logger used during execution.
func (w *Workflow) WithLogger(logger *logging.Logger) *Workflow {
	w.logger = logger
	return w
}

// WithObserver attaches an execution observer.
func (w *Workflow) WithObserver(observer Observer) *Workflow {
	w.observer = observer
	return w
}

// Order returns the topological step order. For any dependency edge A->B, A
// precedes B.
func (w *Workflow) Order() []string {
	out := make([]string, len(w.order))
	copy(out, w.order)
	return out
}

// outcome carries one finished step from its goroutine to the dispatcher.
type outcome struct {
	id     string
	result StepResult
}

// Execute runs the workflow to completion. The dispatcher is single-threaded;
// step bodies run on their own goroutines, at most MaxParallelSteps at once.
// A dependency's result is stored in wctx before any dependent is admitted.
func (w *Workflow) Execute(ctx context.Context, wctx *Context) (*Result, error) {
	if wctx == nil {
		wctx = NewContext()
	}

	workflowID := uuid.NewString()
	if w.logger != nil {
		workflowID = w.logger.WorkflowID()
	}
	start := time.Now()

	w.logInfo("engine", "Workflow started: "+w.Config.Name, map[string]any{
		"steps":        len(w.Steps),
		"max_parallel": w.Config.MaxParallelSteps,
	})

	index := make(map[string]int, len(w.order))
	for i, id := range w.order {
		index[id] = i
	}

	results := make(map[string]StepResult, len(w.Steps))
	running := map[string]bool{}
	done := make(chan outcome)
	stopAdmitting := false
	cancelled := false

	admit := func() {
		if stopAdmitting {
			return
		}
		for _, id := range w.order {
			if _, terminal := results[id]; terminal || running[id] {
				continue
			}
			step := w.Steps[id]

			blocked := false
			failedDep := ""
			for _, dep := range step.DependsOn {
				dr, ok := results[dep]
				if !ok {
					blocked = true
					break
				}
				if dr.Status != StepCompleted {
					failedDep = dep
				}
			}
			if blocked {
				continue
			}
			if failedDep != "" {
				// Walking in topological order lets one pass cascade skips
				// through the whole downstream subgraph.
				results[id] = StepResult{
					Status: StepSkipped,
					Error:  fmt.Sprintf("dependency %s did not complete", failedDep),
				}
				w.logStepEnd(index[id], step, results[id], 0)
				continue
			}
			if len(running) >= w.Config.MaxParallelSteps {
				return
			}

			running[id] = true
			go w.runStep(ctx, wctx, step, index[id], done)
		}
	}

	for {
		admit()

		if len(running) == 0 {
			if len(results) == len(w.Steps) {
				break
			}
			// Remaining steps are unreachable: admission stopped or the
			// run was cancelled.
			final := StepSkipped
			if cancelled {
				final = StepCancelled
			}
			for _, id := range w.order {
				if _, ok := results[id]; !ok {
					results[id] = StepResult{Status: final}
					w.logStepEnd(index[id], w.Steps[id], results[id], 0)
				}
			}
			break
		}

		var ctxDone <-chan struct{}
		if !stopAdmitting {
			ctxDone = ctx.Done()
		}

		select {
		case out := <-done:
			delete(running, out.id)
			results[out.id] = out.result
			if out.result.Status == StepCompleted {
				// Visibility guarantee: the value is stored before admit()
				// can launch any dependent.
				wctx.setStepResult(out.id, out.result.Value)
			}
			if out.result.Status == StepFailed && w.Config.StopOnError {
				stopAdmitting = true
			}

		case <-ctxDone:
			w.logWarning("engine", "Workflow cancelled, draining in-flight steps", map[string]any{
				"in_flight": len(running),
			})
			stopAdmitting = true
			cancelled = true
		}
	}

	result := w.finalize(workflowID, results, cancelled, time.Since(start))
	if w.observer != nil {
		w.observer.WorkflowFinished(w.Config.Name, result.Status, time.Since(start))
	}
	w.logInfo("engine", fmt.Sprintf("Workflow %s: %s", result.Status, w.Config.Name), map[string]any{
		"duration_seconds": result.DurationSeconds,
		"success_rate":     result.SuccessRate,
	})
	return result, nil
}

// finalize computes the terminal status and success rate.
func (w *Workflow) finalize(workflowID string, results map[string]StepResult, cancelled bool, elapsed time.Duration) *Result {
	result := &Result{
		WorkflowID:      workflowID,
		DurationSeconds: elapsed.Seconds(),
		StepResults:     results,
	}

	completed, failed, skipped := result.Counts()
	total := completed + failed + skipped
	if total == 0 {
		result.SuccessRate = 100.0
	} else {
		result.SuccessRate = float64(completed) / float64(total) * 100
	}

	switch {
	case failed > 0 && w.Config.StopOnError:
		result.Status = StatusFailed
	case failed > 0 || cancelled:
		result.Status = StatusPartial
	default:
		// Skips without failures are conditional steps whose condition did
		// not hold; the workflow itself succeeded.
		result.Status = StatusCompleted
	}
	return result
}

// runStep executes one step with its timeout and retry budget.
func (w *Workflow) runStep(ctx context.Context, wctx *Context, step *Step, idx int, done chan<- outcome) {
	start := time.Now()
	if w.logger != nil {
		w.logger.StepStart(idx, step.ID, step.Name)
	}
	if w.observer != nil {
		w.observer.StepStarted(w.Config.Name)
	}

	result := w.attempt(ctx, wctx, step)
	result.DurationSeconds = time.Since(start).Seconds()

	if w.observer != nil {
		w.observer.StepFinished(w.Config.Name, result.Status, time.Since(start))
	}
	w.logStepEnd(idx, step, result, time.Since(start))
	done <- outcome{id: step.ID, result: result}
}

// attempt runs the retry loop for one step. Step-level timeouts are terminal
// for the step; transport-level timeouts were already retried inside the
// tool client before they surface here.
func (w *Workflow) attempt(ctx context.Context, wctx *Context, step *Step) StepResult {
	if step.Kind == KindConditional && !step.Condition(wctx) {
		return StepResult{Status: StepSkipped, Attempts: 0}
	}

	backoff := tools.RetryConfig{
		MaxRetries: step.RetryCount,
		BaseDelay:  step.Delay,
		Multiplier: 2.0,
		Jitter:     0.2,
		MaxDelay:   30 * time.Second,
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= step.RetryCount; attempt++ {
		if attempt > 0 {
			delay := backoff.Backoff(attempt)
			w.logWarning("engine", "Step failed, retrying: "+step.Name, map[string]any{
				"step_id": step.ID,
				"attempt": attempt,
				"backoff": delay.String(),
				"error":   lastErr.Error(),
			})
			select {
			case <-ctx.Done():
				return StepResult{Status: StepCancelled, Attempts: attempts, Error: ctx.Err().Error()}
			case <-time.After(delay):
			}
		}

		attempts++
		stepCtx, cancel := context.WithTimeout(ctx, step.Timeout)
		value, err := w.invoke(stepCtx, wctx, step)
		timedOut := stepCtx.Err() != nil && ctx.Err() == nil
		cancel()

		if err == nil {
			return StepResult{Status: StepCompleted, Value: value, Attempts: attempts}
		}
		lastErr = err

		if ctx.Err() != nil {
			return StepResult{Status: StepCancelled, Attempts: attempts, Error: err.Error()}
		}
		if timedOut && errors.Is(err, context.DeadlineExceeded) {
			lastErr = fmt.Errorf("step timed out after %s", step.Timeout)
			break
		}
		if tools.IsFatal(err) {
			break
		}
	}

	return StepResult{Status: StepFailed, Attempts: attempts, Error: lastErr.Error()}
}

// invoke dispatches one attempt of the step body.
func (w *Workflow) invoke(ctx context.Context, wctx *Context, step *Step) (any, error) {
	switch step.Kind {
	case KindTool:
		client, err := wctx.Client(ctx, step.ServerName)
		if err != nil {
			return nil, err
		}
		resp, err := client.CallTool(ctx, step.ToolName, step.Parameters, tools.WithCallTimeout(step.Timeout))
		if err != nil {
			return nil, err
		}
		if resp.Text != "" {
			return resp.Text, nil
		}
		var value any
		if err := json.Unmarshal(resp.Raw, &value); err != nil {
			return string(resp.Raw), nil
		}
		return value, nil

	default:
		return step.Func(ctx, wctx, step.Parameters)
	}
}

func (w *Workflow) logStepEnd(idx int, step *Step, result StepResult, elapsed time.Duration) {
	if w.logger == nil {
		return
	}
	w.logger.StepComplete(idx, step.ID, step.Name, string(result.Status), elapsed)
	if result.Status == StepFailed {
		w.logger.Error("engine", "Step failed: "+step.Name, map[string]any{
			"step_id":  step.ID,
			"attempts": result.Attempts,
			"error":    result.Error,
		})
	}
}

func (w *Workflow) logInfo(component, message string, data map[string]any) {
	if w.logger != nil {
		w.logger.Info(component, message, data)
	}
}

func (w *Workflow) logWarning(component, message string, data map[string]any) {
	if w.logger != nil {
		w.logger.Warning(component, message, data)
	}
}
