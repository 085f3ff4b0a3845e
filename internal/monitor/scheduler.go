package monitor

import (
	"math/rand"
	"sync"
	"time"
)

// Scheduler picks the delay before the next scheduled run, uniformly in
// [MinInterval, MaxInterval).
type Scheduler struct {
	MinInterval time.Duration
	MaxInterval time.Duration

	mu  sync.Mutex
	rng *rand.Rand
}

func NewScheduler(minInterval, maxInterval time.Duration, rng *rand.Rand) *Scheduler {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Scheduler{
		MinInterval: minInterval,
		MaxInterval: maxInterval,
		rng:         rng,
	}
}

func (s *Scheduler) nextInterval() time.Duration {
	if s.MaxInterval <= s.MinInterval {
		return s.MinInterval
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delta := s.MaxInterval - s.MinInterval
	jitter := time.Duration(s.rng.Int63n(int64(delta)))
	return s.MinInterval + jitter
}
