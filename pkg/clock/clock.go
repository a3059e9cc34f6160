package clock

import (
	"sync"
	"time"
)

// Clock abstracts time.Now để backoff/timeout logic test được deterministic.
// Mọi component có logic phụ thuộc thời gian (outbox retry, payment retry
// scheduler) nhận Clock qua constructor thay vì gọi time.Now trực tiếp.
type Clock interface {
	Now() time.Time
}

// System là clock thật, dùng trong production
type System struct{}

func (System) Now() time.Time {
	return time.Now().UTC()
}

func NewSystem() System {
	return System{}
}

// =====================================================
// FAKE CLOCK (cho tests)
// =====================================================

// Fake là clock điều khiển được bằng tay trong tests
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

func NewFake(now time.Time) *Fake {
	return &Fake{now: now}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance đẩy clock tiến lên d
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// Set đặt clock về một thời điểm cụ thể
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = t
}
