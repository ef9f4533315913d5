package consistency

import (
	"sync"
	"time"

	"github.com/thepine7/dashboard-sub002/internal/models"

	"go.uber.org/zap"
)

// Verdict 接纳裁决
type Verdict int

const (
	VerdictAccepted Verdict = iota
	VerdictDuplicate
	VerdictOutOfOrder
	VerdictRejected
)

func (v Verdict) String() string {
	switch v {
	case VerdictAccepted:
		return "accepted"
	case VerdictDuplicate:
		return "duplicate"
	case VerdictOutOfOrder:
		return "out_of_order"
	default:
		return "rejected"
	}
}

// Result 单条消息的裁决结果
type Result struct {
	Verdict Verdict
	Seq     int64
	Reason  string
}

// BatchResult 批量裁决结果：整体有效子集 + 逐条裁决
type BatchResult struct {
	Admitted []models.Envelope
	Results  []Result
	// AllAccepted 批内是否全部通过
	AllAccepted bool
}

// Stats 一致性统计
type Stats struct {
	Processed   int64
	Duplicates  int64
	OutOfOrder  int64
	Rejected    int64
	TrackedIDs  int
	TrackedSeqs int
}

const (
	// 消息ID保留窗口（窗口内重复即幂等去重）
	defaultRetention = 24 * time.Hour
	// 过期消息ID清理周期
	defaultCleanupEvery = time.Hour
	// 容量上限保护：超过则全量清空（与原系统行为一致）
	maxTrackedIDs = 10000
)

// Coordinator 一致性协调器
// 维护每设备单调序列与消息ID去重窗口；同一设备的接纳严格串行，
// 不同设备之间不保证任何顺序（也不需要）。
type Coordinator struct {
	mu          sync.Mutex
	lastSeq     map[string]int64
	seen        map[string]time.Time
	lastCleanup time.Time

	retention    time.Duration
	cleanupEvery time.Duration

	processed  int64
	duplicates int64
	outOfOrder int64
	rejected   int64

	logger *zap.Logger
}

// NewCoordinator 创建一致性协调器
func NewCoordinator(logger *zap.Logger) *Coordinator {
	return &Coordinator{
		lastSeq:      make(map[string]int64),
		seen:         make(map[string]time.Time),
		lastCleanup:  time.Now(),
		retention:    defaultRetention,
		cleanupEvery: defaultCleanupEvery,
		logger:       logger,
	}
}

// Admit 裁决单条信封
//
// 裁决顺序：消息ID去重 → 设备序列检查 → 接纳。
// 重复消息是幂等空操作（Duplicate，不再处理）；序列低于上次接纳值
// 的消息直接拒绝而不重排（读数是点采样，last-write-wins 可接受）。
func (c *Coordinator) Admit(env models.Envelope) Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.admitLocked(env)
}

func (c *Coordinator) admitLocked(env models.Envelope) Result {
	c.cleanupLocked()

	if env.MessageID == "" || env.DeviceID == "" {
		c.rejected++
		return Result{Verdict: VerdictRejected, Reason: "missing message id or device id"}
	}

	if _, dup := c.seen[env.MessageID]; dup {
		c.duplicates++
		c.logger.Debug("Duplicate message ignored",
			zap.String("message_id", env.MessageID),
			zap.String("device_id", env.DeviceID),
		)
		return Result{Verdict: VerdictDuplicate, Reason: "message id already admitted"}
	}

	seq := env.Seq()
	if last, ok := c.lastSeq[env.DeviceID]; ok && seq < last {
		c.outOfOrder++
		c.logger.Warn("Out-of-order message rejected",
			zap.String("device_id", env.DeviceID),
			zap.Int64("seq", seq),
			zap.Int64("last_seq", last),
		)
		return Result{Verdict: VerdictOutOfOrder, Seq: seq, Reason: "sequence behind last admitted"}
	}

	c.seen[env.MessageID] = time.Now()
	c.lastSeq[env.DeviceID] = seq
	c.processed++

	return Result{Verdict: VerdictAccepted, Seq: seq}
}

// AdmitBatch 批量裁决
//
// 每条信封独立对照自己设备的序列状态评估；只有有效子集继续向下游
// 提交（部分批次提交），批内重复的消息ID按 Duplicate 处理。
func (c *Coordinator) AdmitBatch(envs []models.Envelope) BatchResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := BatchResult{
		Results:     make([]Result, 0, len(envs)),
		AllAccepted: true,
	}
	for _, env := range envs {
		r := c.admitLocked(env)
		out.Results = append(out.Results, r)
		if r.Verdict == VerdictAccepted {
			out.Admitted = append(out.Admitted, env)
		} else {
			out.AllAccepted = false
		}
	}
	return out
}

// LastSeq 返回设备当前已接纳的序列（短轮询状态用）
func (c *Coordinator) LastSeq(deviceID string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seq, ok := c.lastSeq[deviceID]
	return seq, ok
}

// Forget 清除设备的序列状态（设备删除/所有权转移后调用）
func (c *Coordinator) Forget(deviceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.lastSeq, deviceID)
}

// Stats 统计信息
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Processed:   c.processed,
		Duplicates:  c.duplicates,
		OutOfOrder:  c.outOfOrder,
		Rejected:    c.rejected,
		TrackedIDs:  len(c.seen),
		TrackedSeqs: len(c.lastSeq),
	}
}

// cleanupLocked 周期性清理过期消息ID；容量超限时整体清空兜底
func (c *Coordinator) cleanupLocked() {
	now := time.Now()
	if now.Sub(c.lastCleanup) < c.cleanupEvery && len(c.seen) <= maxTrackedIDs {
		return
	}

	if len(c.seen) > maxTrackedIDs {
		c.seen = make(map[string]time.Time)
		c.lastCleanup = now
		c.logger.Info("Message id window reset", zap.Int("cap", maxTrackedIDs))
		return
	}

	for id, at := range c.seen {
		if now.Sub(at) > c.retention {
			delete(c.seen, id)
		}
	}
	c.lastCleanup = now
}
