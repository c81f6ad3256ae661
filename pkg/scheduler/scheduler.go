package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var (
	ErrDuplicateTask  = errors.New("scheduler: duplicate task name")
	ErrAlreadyStarted = errors.New("scheduler: already started")
	ErrInvalidTask    = errors.New("scheduler: invalid task")
)

// Scheduler 一组周期任务的生命周期管理，一个会话一个实例
type Scheduler struct {
	clock clockwork.Clock
	log   *zap.Logger

	mu      sync.Mutex
	tasks   []Task
	names   map[string]struct{}
	tickers []clockwork.Ticker
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running int
	started bool
}

// Option 可选配置
type Option func(*Scheduler)

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.log = l
		}
	}
}

// New 创建调度器，clock 为 nil 时使用真实时钟
func New(clock clockwork.Clock, opts ...Option) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Scheduler{
		clock: clock,
		log:   zap.NewNop(),
		names: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register 注册任务，名称重复或间隔非法返回错误；启动后不可再注册
func (s *Scheduler) Register(t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	if t == nil || t.Interval() <= 0 {
		return ErrInvalidTask
	}
	if _, ok := s.names[t.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.Name())
	}
	s.names[t.Name()] = struct{}{}
	s.tasks = append(s.tasks, t)
	return nil
}

// Start 同步创建所有 ticker 后再启动循环 goroutine，返回时所有定时器均已就绪
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for _, t := range s.tasks {
		ticker := s.clock.NewTicker(t.Interval())
		s.tickers = append(s.tickers, ticker)
		s.running++
		s.wg.Add(1)
		go s.loop(ctx, t, ticker)
	}
	s.log.Debug("scheduler started", zap.Int("tasks", len(s.tasks)))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, t Task, ticker clockwork.Ticker) {
	defer func() {
		ticker.Stop()
		s.mu.Lock()
		s.running--
		s.mu.Unlock()
		s.wg.Done()
	}()
	for {
		select {
		case <-ticker.Chan():
			// 同时就绪时 select 随机选择，取消后不再派发
			if ctx.Err() != nil {
				return
			}
			go t.Run(ctx)
		case <-ctx.Done():
			s.log.Debug("task stopped", zap.String("task", t.Name()))
			return
		}
	}
}

// Shutdown 取消并停止所有 ticker，等待循环退出；不等待正在执行的 Run
// 可重复调用，未启动时为空操作
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	if s.cancel == nil {
		s.mu.Unlock()
		return
	}
	s.cancel()
	for _, t := range s.tickers {
		t.Stop()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

// Running 当前仍在运行的任务循环数
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
