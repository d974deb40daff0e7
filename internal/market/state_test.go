package market

import (
	"testing"
	"time"
)

func TestBatchGrowsAfterConsecutiveSuccesses(t *testing.T) {
	s := NewState()
	if got := s.BatchSize(); got != initialBatchSize {
		t.Fatalf("initial batch = %d, want %d", got, initialBatchSize)
	}

	// 滚动窗口满 10 个样本且成功率 1.0 后，每次评估 +5
	for i := 0; i < 10; i++ {
		s.RecordOutcome(true)
	}
	if got := s.BatchSize(); got != initialBatchSize+batchStep {
		t.Fatalf("batch after 10 successes = %d, want %d", got, initialBatchSize+batchStep)
	}

	// 持续成功会继续涨，但不会超过上限
	for i := 0; i < 200; i++ {
		s.RecordOutcome(true)
	}
	if got := s.BatchSize(); got != maxBatchSize {
		t.Fatalf("batch should cap at %d, got %d", maxBatchSize, got)
	}
}

func TestBatchShrinksOnLowRatio(t *testing.T) {
	s := NewState()
	// 一半失败，成功率 0.5 < 0.7，应该缩小
	for i := 0; i < 10; i++ {
		s.RecordOutcome(i%2 == 0)
	}
	if got := s.BatchSize(); got >= initialBatchSize {
		t.Fatalf("batch should shrink below %d, got %d", initialBatchSize, got)
	}

	for i := 0; i < 200; i++ {
		s.RecordOutcome(false)
	}
	if got := s.BatchSize(); got != minBatchSize {
		t.Fatalf("batch should floor at %d, got %d", minBatchSize, got)
	}
}

func TestOnRateLimitedShrinksTwentyPercent(t *testing.T) {
	s := NewState()
	// 先涨上去一点，验证 429 缩减不看滚动成功率
	for i := 0; i < 10; i++ {
		s.RecordOutcome(true)
	}
	before := s.BatchSize()
	s.OnRateLimited()
	want := clampBatch(int(float64(before) * 0.8))
	if got := s.BatchSize(); got != want {
		t.Fatalf("batch after 429 = %d, want %d (before=%d)", got, want, before)
	}
}

func TestCooldownIsMonotonic(t *testing.T) {
	s := NewState()
	now := time.Now()

	far := now.Add(time.Minute)
	near := now.Add(10 * time.Second)

	s.ExtendCooldown(far)
	s.ExtendCooldown(near) // 更早的时间不应把冷却缩短

	if remaining := s.CooldownRemaining(now); remaining < 59*time.Second {
		t.Fatalf("cooldown shortened: remaining=%v", remaining)
	}
}

func TestReserveDispatchSpacing(t *testing.T) {
	s := NewState()
	now := time.Now()

	first := s.reserveDispatch(now, time.Second, 2*time.Second)
	if first.After(now) {
		t.Fatalf("first dispatch should be immediate")
	}

	// 第二次要等优先级间隔
	second := s.reserveDispatch(now, time.Second, 2*time.Second)
	if second.Sub(first) < time.Second {
		t.Fatalf("second dispatch too close: %v", second.Sub(first))
	}

	// 完成时间之后的请求还要满足全局间隔
	done := now.Add(5 * time.Second)
	s.markCompletion(done)
	third := s.reserveDispatch(now, time.Second, 2*time.Second)
	if third.Before(done.Add(2 * time.Second)) {
		t.Fatalf("provider spacing not honored: third=%v done=%v", third, done)
	}
}
