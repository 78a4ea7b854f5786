// Package workflow provides a declarative DAG builder and a topological
// scheduler with bounded parallelism, per-step timeouts, and retries. Steps
// share state through a Context; the engine guarantees a dependency's result
// is visible before any dependent starts.
package workflow

import (
	"context"
	"time"
)

// StepKind discriminates how a step body executes.
type StepKind string

const (
	// KindTool invokes a named tool on a named server.
	KindTool StepKind = "tool"
	// KindCustom invokes a named Go function.
	KindCustom StepKind = "custom"
	// KindConditional invokes a function only when its condition holds;
	// otherwise the step is skipped without error.
	KindConditional StepKind = "conditional"
)

// StepFunc is a custom step body. Bodies must be named top-level functions,
// not closures capturing environment: step definitions may be persisted, and
// structured logs identify steps by id, which an anonymous closure defeats.
// Per-step inputs travel through params.
type StepFunc func(ctx context.Context, wctx *Context, params map[string]any) (any, error)

// ConditionFunc gates a conditional step.
type ConditionFunc func(wctx *Context) bool

// Step is the indivisible unit of scheduling.
type Step struct {
	// ID is unique within the workflow.
	ID string

	// Name is the human-readable label used in logs.
	Name string

	// Kind selects the execution path.
	Kind StepKind

	// ServerName and ToolName identify the tool call for KindTool.
	ServerName string
	ToolName   string

	// Parameters are passed to the tool call or the step function.
	Parameters map[string]any

	// DependsOn lists step ids that must complete successfully first.
	DependsOn []string

	// Timeout bounds one attempt of the step body. Zero means the workflow
	// default.
	Timeout time.Duration

	// RetryCount is the number of retries after the first attempt. Negative
	// means the workflow default.
	RetryCount int

	// Delay is the base backoff delay between retries.
	Delay time.Duration

	// Func is the body for KindCustom and KindConditional.
	Func StepFunc

	// Condition gates KindConditional.
	Condition ConditionFunc
}

// Config holds workflow-wide execution settings.
type Config struct {
	Name             string
	Description      string
	MaxParallelSteps int
	DefaultTimeout   time.Duration
	DefaultRetries   int
	StopOnError      bool
}

// DefaultConfig returns the standard execution settings.
func DefaultConfig(name string) Config {
	return Config{
		Name:             name,
		MaxParallelSteps: 4,
		DefaultTimeout:   120 * time.Second,
		DefaultRetries:   0,
		StopOnError:      false,
	}
}

// Status is the terminal state of a workflow execution.
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPartial   Status = "partial"
	StatusFailed    Status = "failed"
)

// StepStatus is the terminal state of one step.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
	StepCancelled StepStatus = "cancelled"
)

// StepResult records one step's outcome.
type StepResult struct {
	Status          StepStatus `json:"status"`
	Value           any        `json:"value,omitempty"`
	Error           string     `json:"error,omitempty"`
	Attempts        int        `json:"attempts"`
	DurationSeconds float64    `json:"duration_seconds"`
}

// Result is the outcome of one workflow execution.
type Result struct {
	WorkflowID      string                `json:"workflow_id"`
	Status          Status                `json:"status"`
	DurationSeconds float64               `json:"duration_seconds"`
	StepResults     map[string]StepResult `json:"step_results"`
	SuccessRate     float64               `json:"success_rate"`
}

// Counts tallies step outcomes by status.
func (r *Result) Counts() (completed, failed, skipped int) {
	for _, sr := range r.StepResults {
		switch sr.Status {
		case StepCompleted:
			completed++
		case StepFailed:
			failed++
		case StepSkipped, StepCancelled:
			skipped++
		}
	}
	return completed, failed, skipped
}
