package engine

import (
	"context"
	"fmt"
	log "log/slog"

	"github.com/sharedcode/gamecore"
	"github.com/sharedcode/gamecore/store"
)

// SagaStep pairs a forward action with the compensation that undoes it.
// Compensation may be nil when the action has nothing to undo; the saga
// logs and skips it.
type SagaStep struct {
	Name         string
	Action       func(ctx context.Context) (map[string]any, error)
	Compensation func(ctx context.Context) (map[string]any, error)
}

type SagaStatus string

const (
	SagaPending      SagaStatus = "pending"
	SagaExecuting    SagaStatus = "executing"
	SagaCompleted    SagaStatus = "completed"
	SagaCompensating SagaStatus = "compensating"
	SagaFailed       SagaStatus = "failed"
)

// SagaResult is the outcome of a saga run. CompensationFailed means the
// system may be left inconsistent and needs operator attention.
type SagaResult struct {
	Success            bool
	Results            map[string]map[string]any
	FailedStep         string
	Err                error
	CompensationFailed bool
}

// Saga runs an ordered list of steps and, when one fails, compensates
// the already executed steps in reverse order.
type Saga struct {
	name   string
	steps  []SagaStep
	status SagaStatus
}

func NewSaga(name string, steps ...SagaStep) *Saga {
	return &Saga{name: name, steps: steps, status: SagaPending}
}

func (s *Saga) Name() string       { return s.name }
func (s *Saga) Status() SagaStatus { return s.status }

// Run executes the steps in order, recording each step's output under
// its name. The first failure triggers compensation and the saga ends
// failed; it is not reusable afterwards.
func (s *Saga) Run(ctx context.Context) SagaResult {
	s.status = SagaExecuting
	results := make(map[string]map[string]any, len(s.steps))
	var executed []SagaStep

	for _, step := range s.steps {
		out, err := step.Action(ctx)
		if err != nil {
			log.Warn("saga step failed, compensating", "saga", s.name, "step", step.Name, "error", err)
			s.status = SagaCompensating
			compFailed := s.compensate(ctx, executed)
			s.status = SagaFailed
			return SagaResult{
				Results:            results,
				FailedStep:         step.Name,
				Err:                classify(err),
				CompensationFailed: compFailed,
			}
		}
		results[step.Name] = out
		executed = append(executed, step)
	}

	s.status = SagaCompleted
	return SagaResult{Success: true, Results: results}
}

// compensate undoes executed steps last-to-first. A failing
// compensation is logged and the remaining ones still run; the saga
// reports it so the caller can escalate.
func (s *Saga) compensate(ctx context.Context, executed []SagaStep) bool {
	failed := false
	for i := len(executed) - 1; i >= 0; i-- {
		step := executed[i]
		if step.Compensation == nil {
			log.Warn("saga step has no compensation, skipping", "saga", s.name, "step", step.Name)
			continue
		}
		if _, err := step.Compensation(ctx); err != nil {
			log.Error("saga compensation failed, continuing with remaining steps",
				"saga", s.name, "step", step.Name, "error", err)
			failed = true
		}
	}
	return failed
}

// SagaBuilder assembles a saga fluently.
type SagaBuilder struct {
	name  string
	steps []SagaStep
}

func NewSagaBuilder(name string) *SagaBuilder {
	return &SagaBuilder{name: name}
}

func (b *SagaBuilder) AddStep(name string, action, compensation func(ctx context.Context) (map[string]any, error)) *SagaBuilder {
	b.steps = append(b.steps, SagaStep{Name: name, Action: action, Compensation: compensation})
	return b
}

func (b *SagaBuilder) Build() *Saga {
	return NewSaga(b.name, b.steps...)
}

// SagaCommand adapts a saga into a Command so the whole saga executes
// under the executor's locks and transaction. Build receives the
// transaction's store view; every step then works against the same
// isolated state and the saga commits or rolls back as one unit.
type SagaCommand struct {
	Deps  []string
	Build func(ctx context.Context, s *store.TxStore) (*Saga, error)
}

func (c SagaCommand) Dependencies() []string { return c.Deps }

func (c SagaCommand) Execute(ctx context.Context, s *store.TxStore) (map[string]any, error) {
	saga, err := c.Build(ctx, s)
	if err != nil {
		return nil, err
	}
	res := saga.Run(ctx)
	if !res.Success {
		if res.CompensationFailed {
			cerr := gamecore.NewError(gamecore.Internal,
				fmt.Errorf("saga %s failed at step %s with failing compensation: %w", saga.Name(), res.FailedStep, res.Err))
			cerr.UserData = map[string]any{"compensation_failed": true, "failed_step": res.FailedStep}
			return nil, cerr
		}
		return nil, res.Err
	}
	out := make(map[string]any, len(res.Results))
	for name, data := range res.Results {
		out[name] = data
	}
	return out, nil
}
