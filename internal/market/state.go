package market

import (
	"sync"
	"time"
)

const (
	minBatchSize     = 10
	maxBatchSize     = 100
	initialBatchSize = 20
	batchStep        = 5

	// 滚动成功率窗口：最近 20 次请求
	outcomeWindow   = 20
	growThreshold   = 0.9
	shrinkThreshold = 0.7
)

// State 单个行情提供方的共享状态：冷却、计数器、自适应批大小。
// 所有读改写都在同一把锁内完成，并发请求不会互相覆盖。
// 作为可注入对象传给 Client，不用包级全局变量。
type State struct {
	mu sync.Mutex

	cooldownUntil      time.Time
	consecutiveErrors  int
	successfulRequests int
	totalRequests      int
	batchSize          int

	lastDispatch   time.Time // 最近一次请求的计划发出时间
	lastCompletion time.Time // 最近一次请求的完成时间，全局间隔以它为基准

	outcomes []bool
}

type Stats struct {
	SuccessfulRequests int
	TotalRequests      int
	ConsecutiveErrors  int
	BatchSize          int
	CooldownUntil      time.Time
}

func NewState() *State {
	return &State{batchSize: initialBatchSize}
}

// CooldownRemaining 返回冷却剩余时长，未在冷却期返回 0
func (s *State) CooldownRemaining(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.Before(s.cooldownUntil) {
		return s.cooldownUntil.Sub(now)
	}
	return 0
}

// ExtendCooldown 只向前延长冷却，并发成功不会把它缩短
func (s *State) ExtendCooldown(until time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if until.After(s.cooldownUntil) {
		s.cooldownUntil = until
	}
}

// reserveDispatch 计算并占住下一个可发出时间：
// 既要满足优先级自身的最小间隔，也要距离上一次请求完成足够远。
func (s *State) reserveDispatch(now time.Time, prioSpacing, providerSpacing time.Duration) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	earliest := now
	if !s.lastDispatch.IsZero() {
		if t := s.lastDispatch.Add(prioSpacing); t.After(earliest) {
			earliest = t
		}
	}
	if !s.lastCompletion.IsZero() {
		if t := s.lastCompletion.Add(providerSpacing); t.After(earliest) {
			earliest = t
		}
	}
	s.lastDispatch = earliest
	s.totalRequests++
	return earliest
}

func (s *State) markCompletion(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if now.After(s.lastCompletion) {
		s.lastCompletion = now
	}
}

// RecordOutcome 记录一次请求结果并按滚动成功率调整批大小
func (s *State) RecordOutcome(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ok {
		s.successfulRequests++
		s.consecutiveErrors = 0
	} else {
		s.consecutiveErrors++
	}

	s.outcomes = append(s.outcomes, ok)
	if len(s.outcomes) > outcomeWindow {
		s.outcomes = s.outcomes[len(s.outcomes)-outcomeWindow:]
	}
	// 样本太少时不调整，避免启动阶段抖动
	if len(s.outcomes) < outcomeWindow/2 {
		return
	}

	succ := 0
	for _, o := range s.outcomes {
		if o {
			succ++
		}
	}
	ratio := float64(succ) / float64(len(s.outcomes))
	switch {
	case ratio > growThreshold:
		s.batchSize = clampBatch(s.batchSize + batchStep)
	case ratio < shrinkThreshold:
		s.batchSize = clampBatch(s.batchSize - batchStep)
	}
}

// OnRateLimited 收到 429 时立刻缩小 20%，不看滚动成功率
func (s *State) OnRateLimited() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batchSize = clampBatch(int(float64(s.batchSize) * 0.8))
	s.consecutiveErrors++
}

func (s *State) BatchSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batchSize
}

func (s *State) Snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		SuccessfulRequests: s.successfulRequests,
		TotalRequests:      s.totalRequests,
		ConsecutiveErrors:  s.consecutiveErrors,
		BatchSize:          s.batchSize,
		CooldownUntil:      s.cooldownUntil,
	}
}

func clampBatch(n int) int {
	if n < minBatchSize {
		return minBatchSize
	}
	if n > maxBatchSize {
		return maxBatchSize
	}
	return n
}
