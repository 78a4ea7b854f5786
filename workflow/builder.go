package workflow

import (
	"fmt"
	"sort"
	"time"
)

// Builder constructs a workflow DAG fluently. Structural problems are
// collected as verbs are applied and reported together by Build.
type Builder struct {
	cfg      Config
	steps    []*Step
	problems []string
}

// New starts a builder with the default configuration.
func New(name string) *Builder {
	return &Builder{cfg: DefaultConfig(name)}
}

// WithConfig replaces the workflow configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.cfg = cfg
	return b
}

// StepOption adjusts one step at declaration time.
type StepOption func(b *Builder, s *Step)

// DependsOn declares dependencies on earlier steps.
func DependsOn(ids ...string) StepOption {
	return func(_ *Builder, s *Step) {
		s.DependsOn = append(s.DependsOn, ids...)
	}
}

// WithTimeout bounds one attempt of the step body. Non-positive timeouts are
// rejected at build time.
func WithTimeout(d time.Duration) StepOption {
	return func(b *Builder, s *Step) {
		if d <= 0 {
			b.problems = append(b.problems, fmt.Sprintf("step %s: timeout must be positive, got %s", s.ID, d))
			return
		}
		s.Timeout = d
	}
}

// WithRetries sets the number of retries after the first attempt.
func WithRetries(n int) StepOption {
	return func(b *Builder, s *Step) {
		if n < 0 {
			b.problems = append(b.problems, fmt.Sprintf("step %s: retry count must be non-negative, got %d", s.ID, n))
			return
		}
		s.RetryCount = n
	}
}

// WithDelay sets the base backoff delay between retries.
func WithDelay(d time.Duration) StepOption {
	return func(_ *Builder, s *Step) { s.Delay = d }
}

// add registers a step and applies its options.
func (b *Builder) add(step *Step, opts ...StepOption) *Builder {
	step.RetryCount = -1 // -1 means workflow default until an option sets it
	for _, opt := range opts {
		opt(b, step)
	}
	b.steps = append(b.steps, step)
	return b
}

// CustomStep declares a step running a named Go function.
func (b *Builder) CustomStep(id, name string, fn StepFunc, params map[string]any, opts ...StepOption) *Builder {
	return b.add(&Step{
		ID:         id,
		Name:       name,
		Kind:       KindCustom,
		Func:       fn,
		Parameters: params,
	}, opts...)
}

// ToolStep declares a step invoking one tool on one server.
func (b *Builder) ToolStep(id, name, server, tool string, params map[string]any, opts ...StepOption) *Builder {
	return b.add(&Step{
		ID:         id,
		Name:       name,
		Kind:       KindTool,
		ServerName: server,
		ToolName:   tool,
		Parameters: params,
	}, opts...)
}

// ConditionalStep declares a step that runs fn only when cond holds;
// otherwise the step is skipped.
func (b *Builder) ConditionalStep(id, name string, cond ConditionFunc, fn StepFunc, params map[string]any, opts ...StepOption) *Builder {
	return b.add(&Step{
		ID:         id,
		Name:       name,
		Kind:       KindConditional,
		Condition:  cond,
		Func:       fn,
		Parameters: params,
	}, opts...)
}

// PackRepo declares a packer tool step for a remote repository.
func (b *Builder) PackRepo(id, server, url string, opts ...StepOption) *Builder {
	return b.ToolStep(id, "Pack repository "+url, server, "pack_remote_repository",
		map[string]any{"url": url}, opts...)
}

// AnalyzeRepo declares a host tool step analyzing repository structure.
func (b *Builder) AnalyzeRepo(id, server, owner, repo string, opts ...StepOption) *Builder {
	return b.ToolStep(id, fmt.Sprintf("Analyze %s/%s", owner, repo), server, "analyze_repo_structure",
		map[string]any{"owner": owner, "repo": repo}, opts...)
}

// PostMessage declares a chat tool step posting to a channel.
func (b *Builder) PostMessage(id, server, channel, text string, opts ...StepOption) *Builder {
	return b.ToolStep(id, "Post message to "+channel, server, "post_message",
		map[string]any{"channel": channel, "text": text}, opts...)
}

// Build validates the graph and returns an executable workflow. All problems
// are reported together in one ValidationError.
func (b *Builder) Build() (*Workflow, error) {
	problems := append([]string{}, b.problems...)

	if b.cfg.MaxParallelSteps < 1 {
		problems = append(problems, fmt.Sprintf("max parallel steps must be >= 1, got %d", b.cfg.MaxParallelSteps))
	}
	if b.cfg.DefaultTimeout <= 0 {
		problems = append(problems, fmt.Sprintf("default timeout must be positive, got %s", b.cfg.DefaultTimeout))
	}

	steps := make(map[string]*Step, len(b.steps))
	for _, step := range b.steps {
		if step.ID == "" {
			problems = append(problems, "step with empty id")
			continue
		}
		if _, dup := steps[step.ID]; dup {
			problems = append(problems, fmt.Sprintf("duplicate step id %s", step.ID))
			continue
		}
		steps[step.ID] = step

		switch step.Kind {
		case KindTool:
			if step.ServerName == "" || step.ToolName == "" {
				problems = append(problems, fmt.Sprintf("step %s: tool steps need server and tool names", step.ID))
			}
		case KindCustom:
			if step.Func == nil {
				problems = append(problems, fmt.Sprintf("step %s: custom steps need a function", step.ID))
			}
		case KindConditional:
			if step.Func == nil || step.Condition == nil {
				problems = append(problems, fmt.Sprintf("step %s: conditional steps need a condition and a function", step.ID))
			}
		default:
			problems = append(problems, fmt.Sprintf("step %s: unknown kind %q", step.ID, step.Kind))
		}
	}

	for _, step := range b.steps {
		for _, dep := range step.DependsOn {
			if dep == step.ID {
				problems = append(problems, fmt.Sprintf("step %s depends on itself", step.ID))
				continue
			}
			if _, ok := steps[dep]; !ok {
				problems = append(problems, fmt.Sprintf("step %s depends on unknown step %s", step.ID, dep))
			}
		}
	}

	var order []string
	if len(problems) == 0 {
		var cycle []string
		order, cycle = topoSort(steps)
		if len(cycle) > 0 {
			problems = append(problems, "dependency cycle: "+describeCycle(steps, cycle))
		}
	}

	if len(problems) > 0 {
		return nil, &ValidationError{Problems: problems}
	}

	// Apply defaults once so the engine never consults the config per step.
	for _, step := range steps {
		if step.Timeout <= 0 {
			step.Timeout = b.cfg.DefaultTimeout
		}
		if step.RetryCount < 0 {
			step.RetryCount = b.cfg.DefaultRetries
		}
		if step.Delay <= 0 {
			step.Delay = time.Second
		}
	}

	return &Workflow{Config: b.cfg, Steps: steps, order: order}, nil
}

// topoSort runs Kahn's algorithm. It returns the topological order, or the
// ids stuck in a cycle when one exists.
func topoSort(steps map[string]*Step) (order []string, cycle []string) {
	indegree := make(map[string]int, len(steps))
	dependents := make(map[string][]string, len(steps))
	for id, step := range steps {
		indegree[id] += 0
		for _, dep := range step.DependsOn {
			indegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []string
	for id, deg := range indegree {
		if deg == 0 {
			ready = append(ready, id)
		}
	}
	sort.Strings(ready)

	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		next := dependents[id]
		sort.Strings(next)
		for _, dependent := range next {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				ready = append(ready, dependent)
			}
		}
		sort.Strings(ready)
	}

	if len(order) != len(steps) {
		for id, deg := range indegree {
			if deg > 0 {
				cycle = append(cycle, id)
			}
		}
		sort.Strings(cycle)
	}
	return order, cycle
}

// describeCycle names the edges among the stuck steps, e.g. "A->B, B->A".
func describeCycle(steps map[string]*Step, cycle []string) string {
	stuck := make(map[string]bool, len(cycle))
	for _, id := range cycle {
		stuck[id] = true
	}

	var edges []string
	for _, id := range cycle {
		for _, dep := range steps[id].DependsOn {
			if stuck[dep] {
				edges = append(edges, fmt.Sprintf("%s->%s", dep, id))
			}
		}
	}
	sort.Strings(edges)

	out := ""
	for i, edge := range edges {
		if i > 0 {
			out += ", "
		}
		out += edge
	}
	return out
}
