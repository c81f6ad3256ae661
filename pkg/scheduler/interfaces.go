package scheduler

import (
	"context"
	"time"
)

// Task 周期任务核心接口（所有周期任务必须实现）
// Run 每个 tick 在独立 goroutine 中执行一次，必须是有界的工作，发送前检查 ctx
type Task interface {
	Name() string            // 任务名称（唯一标识）
	Interval() time.Duration // 触发间隔
	Run(ctx context.Context) // 执行一次
}

// TaskFunc 用函数快速构造 Task
type TaskFunc struct {
	TaskName     string
	TaskInterval time.Duration
	Fn           func(ctx context.Context)
}

func (f TaskFunc) Name() string { return f.TaskName }

func (f TaskFunc) Interval() time.Duration { return f.TaskInterval }

func (f TaskFunc) Run(ctx context.Context) { f.Fn(ctx) }
