/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package game

import (
	"math/rand/v2"
	"slices"
)

// WordPool is a stack of words still to be drawn this cycle.
type WordPool struct {
	Remaining []string `json:"remaining"`
}

// Draw pops the next word. When the pool is empty it is refilled with a
// freshly shuffled copy of words before popping, so callers never observe
// an empty pool. Draw only returns "" when words itself is empty.
func (p *WordPool) Draw(words []string, rng *rand.Rand) string {
	if len(p.Remaining) == 0 {
		p.refill(words, rng)
	}
	if len(p.Remaining) == 0 {
		return ""
	}

	last := len(p.Remaining) - 1
	word := p.Remaining[last]
	p.Remaining = p.Remaining[:last]

	return word
}

// Len is the number of words left before the next refill.
func (p *WordPool) Len() int {
	return len(p.Remaining)
}

func (p *WordPool) refill(words []string, rng *rand.Rand) {
	p.Remaining = slices.Clone(words)
	rng.Shuffle(len(p.Remaining), func(i, j int) {
		p.Remaining[i], p.Remaining[j] = p.Remaining[j], p.Remaining[i]
	})
}
