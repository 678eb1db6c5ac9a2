// Package saga 提供了跨存储写入的补偿编排器。
// 各步骤顺序执行，任一步骤失败时按逆序调用已完成步骤的补偿函数。
package saga

import (
	"context"
	"errors"
	"fmt"

	"github.com/wyfcoding/qaflow/logging"
	"github.com/wyfcoding/qaflow/retry"
)

// Step 表示 Saga 事务中的一个具体步骤。
// Compensate 为 nil 的步骤视为提交点之后的步骤，不参与回滚。
type Step struct {
	Name       string
	Action     func(ctx context.Context) error
	Compensate func(ctx context.Context) error
	Retry      retry.Config
}

// StepError 描述失败的步骤以及补偿阶段出现的错误。
type StepError struct {
	Step       string
	Cause      error
	Compensate error
}

func (e *StepError) Error() string {
	if e.Compensate != nil {
		return fmt.Sprintf("saga step %s failed: %v (compensation: %v)", e.Step, e.Cause, e.Compensate)
	}
	return fmt.Sprintf("saga step %s failed: %v", e.Step, e.Cause)
}

func (e *StepError) Unwrap() error {
	return e.Cause
}

// Orchestrator 负责管理并执行一系列步骤。
// 每次执行都应创建新的编排器，它不是并发安全的。
type Orchestrator struct {
	name   string
	steps  []*Step
	logger *logging.Logger
}

// NewOrchestrator 创建并返回一个新的编排器。
func NewOrchestrator(name string, logger *logging.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{
		name:   name,
		steps:  make([]*Step, 0, 4),
		logger: logger,
	}
}

// AddStep 向编排器中增加一个不重试的事务步骤。
// 计数类写入不是幂等的，重试需由调用方通过 AddRetryStep 显式选择。
func (o *Orchestrator) AddStep(name string, action, compensate func(ctx context.Context) error) *Orchestrator {
	return o.AddRetryStep(name, action, compensate, retry.Config{MaxRetries: -1})
}

// AddRetryStep 增加一个按 cfg 重试的步骤。
func (o *Orchestrator) AddRetryStep(name string, action, compensate func(ctx context.Context) error, cfg retry.Config) *Orchestrator {
	o.steps = append(o.steps, &Step{
		Name:       name,
		Action:     action,
		Compensate: compensate,
		Retry:      cfg,
	})
	return o
}

// Execute 执行整个 Saga 流程。
func (o *Orchestrator) Execute(ctx context.Context) error {
	executed := make([]*Step, 0, len(o.steps))

	for _, step := range o.steps {
		o.logger.DebugContext(ctx, "executing saga step", "saga", o.name, "step", step.Name)

		err := retry.Retry(ctx, func() error { return step.Action(ctx) }, step.Retry)
		if err != nil {
			o.logger.ErrorContext(ctx, "saga step failed, starting compensation", "saga", o.name, "step", step.Name, "error", err)
			return &StepError{
				Step:       step.Name,
				Cause:      err,
				Compensate: o.compensate(context.WithoutCancel(ctx), executed),
			}
		}

		executed = append(executed, step)
	}

	return nil
}

// compensate 逆序回滚，单个补偿失败不影响其余补偿的执行。
func (o *Orchestrator) compensate(ctx context.Context, steps []*Step) error {
	var errs []error
	for i := len(steps) - 1; i >= 0; i-- {
		step := steps[i]
		if step.Compensate == nil {
			continue
		}
		o.logger.WarnContext(ctx, "compensating step", "saga", o.name, "step", step.Name)
		if err := step.Compensate(ctx); err != nil {
			// 补偿失败只能依赖人工对账，记录关键日志
			o.logger.ErrorContext(ctx, "compensation failed", "saga", o.name, "step", step.Name, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", step.Name, err))
		}
	}
	return errors.Join(errs...)
}
