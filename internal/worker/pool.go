package worker

import (
	"sync"

	"go.uber.org/zap"
)

// Pool 固定大小的后台任务池
// 队列满时丢弃任务并记录日志，不阻塞提交方
type Pool struct {
	mu      sync.RWMutex // Submit 的发送与 Stop 的关闭互斥
	tasks   chan func()
	wg      sync.WaitGroup
	logger  *zap.Logger
	stopped chan struct{}
	once    sync.Once
}

// NewPool 创建并启动 workers 个后台 goroutine
func NewPool(workers, queueSize int, logger *zap.Logger) *Pool {
	if workers <= 0 {
		workers = 5
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	p := &Pool{
		tasks:   make(chan func(), queueSize),
		logger:  logger,
		stopped: make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	return p
}

func (p *Pool) run() {
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit 提交任务。池已停止或队列已满时返回 false
func (p *Pool) Submit(task func()) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	select {
	case <-p.stopped:
		return false
	default:
	}

	select {
	case p.tasks <- task:
		return true
	default:
		p.logger.Warn("任务队列已满，丢弃任务")
		return false
	}
}

// Stop 停止接收新任务并等待已排队任务执行完毕
func (p *Pool) Stop() {
	p.once.Do(func() {
		p.mu.Lock()
		close(p.stopped)
		close(p.tasks)
		p.mu.Unlock()
	})
	p.wg.Wait()
}
