package pipeline

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// CyclicDependencyError is returned when a workflow template's depends_on
// edges form a cycle.
type CyclicDependencyError struct {
	Step string
}

func (e *CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency detected at step %q", e.Step)
}

// Orchestrator executes a named list of steps in dependency order, single
// step at a time, against one shared Context. It never runs two steps of
// the same request concurrently — safe context mutation depends on that.
type Orchestrator struct {
	registry *Registry
	logger   *zap.Logger

	defaultRetryDelay time.Duration
}

// NewOrchestrator creates an Orchestrator bound to a step registry.
func NewOrchestrator(registry *Registry, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		registry:          registry,
		logger:            logger.With(zap.String("component", "orchestrator")),
		defaultRetryDelay: 100 * time.Millisecond,
	}
}

// Run resolves the named steps from the registry, topologically orders
// them, and executes them in order against wc. It returns an error only if
// the steps cannot be resolved or the DAG is invalid; a step that aborts
// records its failure on wc, and its dependents are skipped.
func (o *Orchestrator) Run(ctx context.Context, stepNames []string, configs map[string]StepConfig, wc *Context) error {
	steps, err := o.registry.GetMany(stepNames, configs)
	if err != nil {
		return fmt.Errorf("resolving steps: %w", err)
	}

	ordered, err := topoSort(steps)
	if err != nil {
		return err
	}

	aborted := make(map[string]bool)

	for _, step := range ordered {
		select {
		case <-ctx.Done():
			wc.Fail(ErrorSourceGateway, "STEP_TIMEOUT", ctx.Err().Error())
			return ctx.Err()
		default:
		}

		if skipDueToAbortedDependency(step, aborted) {
			aborted[step.Name()] = true
			wc.RecordStep(StepExecution{Name: step.Name(), Status: StatusSkipped})
			continue
		}

		wc.Emit(StatusEvent{Stage: "pipeline", Step: step.Name(), State: "running"})

		start := time.Now()
		result, failed := o.runStepWithRetries(ctx, step, wc)
		duration := time.Since(start)

		exec := StepExecution{
			Name:     step.Name(),
			Duration: duration,
		}

		if failed != nil {
			exec.Status = StatusFailed
			exec.Error = failed.Error()
			wc.RecordStep(exec)
			wc.Emit(StatusEvent{Stage: "pipeline", Step: step.Name(), State: "failed", Code: wc.ErrorCode})
			aborted[step.Name()] = true

			o.logger.Error("step aborted pipeline",
				zap.String("step", step.Name()),
				zap.Duration("duration", duration),
				zap.Error(failed),
			)
			continue
		}

		exec.Status = result.Status
		wc.RecordStep(exec)
		wc.Emit(StatusEvent{Stage: "pipeline", Step: step.Name(), State: "success"})

		o.logger.Debug("step completed",
			zap.String("step", step.Name()),
			zap.Duration("duration", duration),
		)
	}

	return nil
}

// runStepWithRetries executes a single step, consulting its OnFailure
// policy on error. It returns a non-nil error only when the step's policy
// (or the default fail-fast policy) decides to abort.
func (o *Orchestrator) runStepWithRetries(ctx context.Context, step Step, wc *Context) (StepResult, error) {
	attempt := 1
	for {
		result := step.Execute(ctx, wc)
		if result.Status != StatusFailed {
			return result, nil
		}

		stepErr := result.Err
		if stepErr == nil {
			stepErr = fmt.Errorf("%s", result.Message)
		}

		decision := step.OnFailure(ctx, wc, stepErr, attempt)
		switch decision {
		case FailureRetry:
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(o.backoff(attempt)):
			}
			attempt++
			continue
		case FailureSkip:
			return StepResult{Status: StatusSkipped}, nil
		default: // FailureAbort
			if !wc.HasError() {
				wc.Fail(ErrorSourceGateway, "INTERNAL_ERROR", stepErr.Error())
			}
			return result, stepErr
		}
	}
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	delay := o.defaultRetryDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// skipDueToAbortedDependency reports whether any of step's declared
// dependencies aborted, in which case step (and transitively its own
// dependents) must be skipped rather than executed.
func skipDueToAbortedDependency(step Step, aborted map[string]bool) bool {
	for _, dep := range step.DependsOn() {
		if aborted[dep] {
			return true
		}
	}
	return false
}

// topoSort orders steps so that every step appears after all the steps it
// depends on. Detects cycles and returns CyclicDependencyError.
func topoSort(steps []Step) ([]Step, error) {
	byName := make(map[string]Step, len(steps))
	for _, s := range steps {
		byName[s.Name()] = s
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(steps))
	var ordered []Step

	var visit func(name string) error
	visit = func(name string) error {
		switch color[name] {
		case black:
			return nil
		case gray:
			return &CyclicDependencyError{Step: name}
		}
		color[name] = gray

		step, ok := byName[name]
		if !ok {
			// Dependency not in this workflow's step list: treat as
			// already satisfied (e.g. optional cross-template steps).
			color[name] = black
			return nil
		}
		for _, dep := range step.DependsOn() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[name] = black
		ordered = append(ordered, step)
		return nil
	}

	for _, s := range steps {
		if err := visit(s.Name()); err != nil {
			return nil, err
		}
	}

	return ordered, nil
}
