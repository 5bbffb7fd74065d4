package allocation

import (
	"math/rand/v2"
	"sync"
)

// Selector picks which uncompleted regions satisfy a day's quota
type Selector interface {
	Select(uncompleted []int, quota int) []int
}

// RandomSelector draws regions uniformly at random without replacement
type RandomSelector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandomSelector creates a selector over src. A nil src is seeded randomly.
func NewRandomSelector(src rand.Source) *RandomSelector {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &RandomSelector{rng: rand.New(src)}
}

// Select returns quota distinct ids from uncompleted. The input slice is not modified.
func (s *RandomSelector) Select(uncompleted []int, quota int) []int {
	if quota <= 0 || len(uncompleted) == 0 {
		return nil
	}
	if quota > len(uncompleted) {
		quota = len(uncompleted)
	}

	pool := make([]int, len(uncompleted))
	copy(pool, uncompleted)

	s.mu.Lock()
	defer s.mu.Unlock()

	// Partial Fisher-Yates: the first quota slots end up a uniform sample
	for i := 0; i < quota; i++ {
		j := i + s.rng.IntN(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}

	return pool[:quota]
}
