package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kart-io/logger"
	"github.com/panjf2000/ants/v2"
)

// Type defines the type of worker pool.
type Type string

const (
	// BackgroundPool 后台任务池（索引构建）
	BackgroundPool Type = "background"
	// EmbedPool 批量 Embedding 并发池
	EmbedPool Type = "embed"
)

// Config defines the configuration for the worker pool.
type Config struct {
	// Capacity 池容量（最大并发 goroutine 数）
	Capacity int
	// ExpiryDuration goroutine 空闲过期时间
	ExpiryDuration time.Duration
	// PreAlloc 是否预分配内存
	PreAlloc bool
	// Nonblocking 提交任务是否非阻塞（若池满则返回错误）
	Nonblocking bool
	// MaxBlockingTasks 当 Nonblocking=false 时，最大等待任务数（0 表示无限制）
	MaxBlockingTasks int
	// PanicHandler 恐慌处理函数
	PanicHandler func(interface{})
}

// BackgroundPoolConfig 返回后台任务池配置
func BackgroundPoolConfig() *Config {
	return &Config{
		Capacity:       4,
		ExpiryDuration: 60 * time.Second,
		Nonblocking:    true,
	}
}

// EmbedPoolConfig 返回 Embedding 池配置
func EmbedPoolConfig() *Config {
	return &Config{
		Capacity:       8,
		ExpiryDuration: 10 * time.Second,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Capacity <= 0 {
		return fmt.Errorf("%w: capacity must be positive, got %d", ErrInvalidPoolConfig, c.Capacity)
	}
	if c.MaxBlockingTasks < 0 {
		return fmt.Errorf("%w: max blocking tasks must not be negative", ErrInvalidPoolConfig)
	}
	return nil
}

// Pool represents a worker pool.
type Pool struct {
	name     string
	typ      Type
	pool     *ants.Pool
	config   *Config
	stats    poolStatsCounter
	closed   atomic.Bool
	closedMu sync.Mutex
}

// poolStatsCounter 内部统计计数器
type poolStatsCounter struct {
	SubmittedTasks  atomic.Int64
	CompletedTasks  atomic.Int64
	RejectedTasks   atomic.Int64
	PanicRecovered  atomic.Int64
	TotalWaitTimeNs atomic.Int64
}

// Stats contains statistics about the worker pool.
type Stats struct {
	SubmittedTasks  int64 `json:"submitted_tasks"`
	CompletedTasks  int64 `json:"completed_tasks"`
	RejectedTasks   int64 `json:"rejected_tasks"`
	PanicRecovered  int64 `json:"panic_recovered"`
	TotalWaitTimeNs int64 `json:"total_wait_time_ns"`
}

// NewPool creates a new worker pool with the given configuration.
func NewPool(name string, typ Type, config *Config) (*Pool, error) {
	if config == nil {
		config = BackgroundPoolConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		name:   name,
		typ:    typ,
		config: config,
	}

	pool, err := ants.NewPool(config.Capacity, p.antsOptions()...)
	if err != nil {
		return nil, fmt.Errorf("创建 ants 池失败: %w", err)
	}
	p.pool = pool

	logger.Infow("Worker pool created",
		"name", name,
		"type", string(typ),
		"capacity", config.Capacity,
	)

	return p, nil
}

func (p *Pool) antsOptions() []ants.Option {
	handler := p.config.PanicHandler
	if handler == nil {
		handler = func(r interface{}) {
			logger.Errorw("Worker panic recovered", "pool", p.name, "panic", r)
		}
	}
	return []ants.Option{
		ants.WithExpiryDuration(p.config.ExpiryDuration),
		ants.WithPreAlloc(p.config.PreAlloc),
		ants.WithNonblocking(p.config.Nonblocking),
		ants.WithMaxBlockingTasks(p.config.MaxBlockingTasks),
		ants.WithPanicHandler(func(r interface{}) {
			p.stats.PanicRecovered.Add(1)
			handler(r)
		}),
	}
}

// Name 返回池名称
func (p *Pool) Name() string {
	return p.name
}

// Type 返回池类型
func (p *Pool) Type() Type {
	return p.typ
}

// Cap 返回池容量
func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Running 返回正在运行的 goroutine 数量
func (p *Pool) Running() int {
	return p.pool.Running()
}

// Submit 提交任务到池中执行
func (p *Pool) Submit(task func()) error {
	if p.closed.Load() {
		return ErrPoolClosed
	}

	startTime := time.Now()
	err := p.pool.Submit(func() {
		p.stats.TotalWaitTimeNs.Add(int64(time.Since(startTime)))
		task()
		p.stats.CompletedTasks.Add(1)
	})
	if err != nil {
		if errors.Is(err, ants.ErrPoolOverload) {
			p.stats.RejectedTasks.Add(1)
			return ErrPoolOverload
		}
		if errors.Is(err, ants.ErrPoolClosed) {
			return ErrPoolClosed
		}
		return err
	}
	p.stats.SubmittedTasks.Add(1)
	return nil
}

// SubmitWithContext 提交带上下文的任务
// 如果任务开始执行前上下文已取消，任务被跳过
func (p *Pool) SubmitWithContext(ctx context.Context, task func()) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.Submit(func() {
		if ctx.Err() != nil {
			return
		}
		task()
	})
}

// Go 提交任务，池不可用时回退到独立 goroutine。
func (p *Pool) Go(task func()) {
	if p != nil {
		err := p.Submit(task)
		if err == nil {
			return
		}
		logger.Warnw("Worker pool rejected task, falling back to goroutine", "pool", p.name, "error", err.Error())
	}
	go task()
}

// Release 关闭池并释放资源
func (p *Pool) Release() {
	p.closedMu.Lock()
	defer p.closedMu.Unlock()

	if p.closed.Load() {
		return
	}

	p.closed.Store(true)
	p.pool.Release()
	logger.Infow("Worker pool released", "name", p.name)
}

// ReleaseTimeout 带超时关闭池，等待任务完成直到超时
func (p *Pool) ReleaseTimeout(timeout time.Duration) error {
	p.closedMu.Lock()
	defer p.closedMu.Unlock()

	if p.closed.Load() {
		return nil
	}

	p.closed.Store(true)
	return p.pool.ReleaseTimeout(timeout)
}

// Stats 返回池统计信息快照
func (p *Pool) Stats() Stats {
	return Stats{
		SubmittedTasks:  p.stats.SubmittedTasks.Load(),
		CompletedTasks:  p.stats.CompletedTasks.Load(),
		RejectedTasks:   p.stats.RejectedTasks.Load(),
		PanicRecovered:  p.stats.PanicRecovered.Load(),
		TotalWaitTimeNs: p.stats.TotalWaitTimeNs.Load(),
	}
}

// Map 在池中并发执行 fn(0..n-1)，返回第一个错误。
// 一旦有任务失败，尚未开始的任务会被跳过。
func Map(ctx context.Context, p *Pool, n int, fn func(ctx context.Context, i int) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg       sync.WaitGroup
		once     sync.Once
		firstErr error
	)
	fail := func(err error) {
		once.Do(func() {
			firstErr = err
			cancel()
		})
	}

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		idx := i
		task := func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			if err := fn(ctx, idx); err != nil {
				fail(err)
			}
		}
		if p == nil {
			go task()
			continue
		}
		if err := p.Submit(task); err != nil {
			wg.Done()
			fail(err)
		}
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}
