package collector

import (
	"fmt"
	"math/rand/v2"
)

// weighted is a list of choices, each picked with probability proportional to its weight.
type weighted[T any] struct {
	items   []T
	weights []int
	total   int
}

func newWeighted[T any](items []T, weights []int) weighted[T] {
	if len(items) != len(weights) || len(items) == 0 {
		panic(fmt.Sprintf("weighted: %d items with %d weights", len(items), len(weights)))
	}

	total := 0
	for _, w := range weights {
		if w < 0 {
			panic("weighted: negative weight")
		}
		total += w
	}
	if total == 0 {
		panic("weighted: all weights are zero")
	}
	return weighted[T]{items: items, weights: weights, total: total}
}

func (w weighted[T]) Pick() T {
	n := rand.IntN(w.total)
	for i, weight := range w.weights {
		if n < weight {
			return w.items[i]
		}
		n -= weight
	}
	return w.items[len(w.items)-1]
}

func pick[T any](items []T) T {
	return items[rand.IntN(len(items))]
}

// between returns a random integer in [lo, hi].
func between(lo, hi int) int {
	return lo + rand.IntN(hi-lo+1)
}

func randomIP() string {
	return fmt.Sprintf("%d.%d.%d.%d", between(1, 254), rand.IntN(256), rand.IntN(256), between(1, 254))
}
