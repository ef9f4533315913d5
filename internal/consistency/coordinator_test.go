package consistency

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/thepine7/dashboard-sub002/internal/models"
)

func newEnv(messageID, deviceID string, seq int64) models.Envelope {
	return models.Envelope{
		MessageID:    messageID,
		DeviceID:     deviceID,
		SequenceHint: seq,
		ReceivedAt:   time.Now(),
	}
}

// ============================================
// 单条裁决
// ============================================

func TestAdmit_AcceptsInOrder(t *testing.T) {
	c := NewCoordinator(zap.NewNop())

	r1 := c.Admit(newEnv("m1", "dev1", 1))
	r2 := c.Admit(newEnv("m2", "dev1", 2))

	assert.Equal(t, VerdictAccepted, r1.Verdict)
	assert.Equal(t, VerdictAccepted, r2.Verdict)
	assert.Equal(t, int64(2), r2.Seq)
}

func TestAdmit_DuplicateMessageID(t *testing.T) {
	c := NewCoordinator(zap.NewNop())

	r1 := c.Admit(newEnv("m1", "dev1", 1))
	r2 := c.Admit(newEnv("m1", "dev1", 2))

	assert.Equal(t, VerdictAccepted, r1.Verdict)
	assert.Equal(t, VerdictDuplicate, r2.Verdict)

	// 重复是幂等空操作：序列不前进
	seq, ok := c.LastSeq("dev1")
	require.True(t, ok)
	assert.Equal(t, int64(1), seq)
}

func TestAdmit_OutOfOrderRejected(t *testing.T) {
	c := NewCoordinator(zap.NewNop())

	c.Admit(newEnv("m1", "dev1", 10))
	r := c.Admit(newEnv("m2", "dev1", 5))

	assert.Equal(t, VerdictOutOfOrder, r.Verdict)

	seq, _ := c.LastSeq("dev1")
	assert.Equal(t, int64(10), seq)
}

func TestAdmit_EqualSeqAccepted(t *testing.T) {
	// 序列相等不算乱序（last-write-wins）
	c := NewCoordinator(zap.NewNop())

	c.Admit(newEnv("m1", "dev1", 5))
	r := c.Admit(newEnv("m2", "dev1", 5))

	assert.Equal(t, VerdictAccepted, r.Verdict)
}

func TestAdmit_DevicesIndependent(t *testing.T) {
	c := NewCoordinator(zap.NewNop())

	c.Admit(newEnv("m1", "dev1", 100))
	r := c.Admit(newEnv("m2", "dev2", 1))

	// 不同设备之间没有顺序约束
	assert.Equal(t, VerdictAccepted, r.Verdict)
}

func TestAdmit_MissingIDs(t *testing.T) {
	c := NewCoordinator(zap.NewNop())

	assert.Equal(t, VerdictRejected, c.Admit(newEnv("", "dev1", 1)).Verdict)
	assert.Equal(t, VerdictRejected, c.Admit(newEnv("m1", "", 1)).Verdict)
}

func TestAdmit_ReceiptTimeFallback(t *testing.T) {
	c := NewCoordinator(zap.NewNop())

	env := newEnv("m1", "dev1", 0)
	r := c.Admit(env)

	assert.Equal(t, VerdictAccepted, r.Verdict)
	assert.Equal(t, env.ReceivedAt.UnixMilli(), r.Seq)
}

// ============================================
// 批量裁决
// ============================================

func TestAdmitBatch_PartialCommit(t *testing.T) {
	c := NewCoordinator(zap.NewNop())
	c.Admit(newEnv("m0", "dev1", 10))

	batch := []models.Envelope{
		newEnv("m1", "dev1", 11), // 接受
		newEnv("m2", "dev1", 5),  // 乱序
		newEnv("m3", "dev1", 12), // 接受
		newEnv("m1", "dev1", 13), // 批内重复ID
	}

	out := c.AdmitBatch(batch)

	require.Len(t, out.Results, 4)
	assert.Equal(t, VerdictAccepted, out.Results[0].Verdict)
	assert.Equal(t, VerdictOutOfOrder, out.Results[1].Verdict)
	assert.Equal(t, VerdictAccepted, out.Results[2].Verdict)
	assert.Equal(t, VerdictDuplicate, out.Results[3].Verdict)

	require.Len(t, out.Admitted, 2)
	assert.Equal(t, "m1", out.Admitted[0].MessageID)
	assert.Equal(t, "m3", out.Admitted[1].MessageID)
	assert.False(t, out.AllAccepted)
}

func TestAdmitBatch_AllAccepted(t *testing.T) {
	c := NewCoordinator(zap.NewNop())

	out := c.AdmitBatch([]models.Envelope{
		newEnv("m1", "dev1", 1),
		newEnv("m2", "dev2", 1),
	})

	assert.True(t, out.AllAccepted)
	assert.Len(t, out.Admitted, 2)
}

// ============================================
// 重发场景：离线重传整批重复
// ============================================

func TestAdmitBatch_RetransmitIsIdempotent(t *testing.T) {
	c := NewCoordinator(zap.NewNop())

	batch := []models.Envelope{
		newEnv("m1", "dev1", 1),
		newEnv("m2", "dev1", 2),
		newEnv("m3", "dev1", 3),
	}

	first := c.AdmitBatch(batch)
	assert.True(t, first.AllAccepted)

	second := c.AdmitBatch(batch)
	assert.Empty(t, second.Admitted)
	for _, r := range second.Results {
		assert.Equal(t, VerdictDuplicate, r.Verdict)
	}

	stats := c.Stats()
	assert.Equal(t, int64(3), stats.Processed)
	assert.Equal(t, int64(3), stats.Duplicates)
}

// ============================================
// 状态管理
// ============================================

func TestForget(t *testing.T) {
	c := NewCoordinator(zap.NewNop())

	c.Admit(newEnv("m1", "dev1", 100))
	c.Forget("dev1")

	_, ok := c.LastSeq("dev1")
	assert.False(t, ok)

	// 遗忘后低序列重新可接受
	r := c.Admit(newEnv("m2", "dev1", 1))
	assert.Equal(t, VerdictAccepted, r.Verdict)
}

func TestCleanup_CapReset(t *testing.T) {
	c := NewCoordinator(zap.NewNop())

	for i := 0; i <= maxTrackedIDs; i++ {
		c.Admit(newEnv(fmt.Sprintf("m%d", i), "dev1", int64(i+1)))
	}

	// 超过容量上限后窗口整体清空，旧ID重新可接受
	r := c.Admit(newEnv("m0", "dev1", maxTrackedIDs+10))
	assert.Equal(t, VerdictAccepted, r.Verdict)
	assert.LessOrEqual(t, c.Stats().TrackedIDs, maxTrackedIDs)
}

func TestAdmit_Concurrent(t *testing.T) {
	c := NewCoordinator(zap.NewNop())

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Admit(newEnv(fmt.Sprintf("g%d-m%d", g, i), fmt.Sprintf("dev%d", g), int64(i+1)))
			}
		}(g)
	}
	wg.Wait()

	stats := c.Stats()
	assert.Equal(t, int64(800), stats.Processed)
	assert.Equal(t, 8, stats.TrackedSeqs)
}
