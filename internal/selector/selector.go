// Package selector picks the per-student question subset for an exam.
//
// The selection must be reproducible: a student who reloads mid-attempt has
// to see the same questions in the same order, so the shuffle is driven by a
// seeded generator instead of a platform random source.
package selector

import "github.com/evalhub/examsession/internal/model"

const (
	lcgMultiplier = 1664525
	lcgIncrement  = 1013904223
)

// hashSeed folds a seed string into a 32-bit state. Each character
// contributes its code point weighted by position, with a 7-bit rotation per
// step so short seeds still spread across the word.
func hashSeed(seed string) uint32 {
	var h uint32
	i := 0
	for _, r := range seed {
		h += uint32(r) * uint32(i+1)
		h = h<<7 | h>>25
		i++
	}
	return h
}

// next advances a linear-congruential generator one step.
func next(state uint32) uint32 {
	return state*lcgMultiplier + lcgIncrement
}

// Select returns the deterministic subset of pool for the given seed.
//
// If the pool fits within maxQuestions the pool is returned unchanged in its
// original order. Otherwise a Fisher-Yates shuffle runs from the last index
// to the first, the generator re-seeded from (hash + step index) at each
// swap, and the result is truncated to maxQuestions. Identical inputs always
// yield an identical subset. An empty pool yields an empty subset; the caller
// treats that as "no questions available", not an error.
func Select(pool []model.Question, maxQuestions int, seed string) []model.Question {
	if maxQuestions < 0 {
		maxQuestions = 0
	}

	out := make([]model.Question, len(pool))
	copy(out, pool)

	if len(pool) <= maxQuestions {
		return out
	}

	h := hashSeed(seed)
	for i := len(out) - 1; i > 0; i-- {
		r := next(h + uint32(i))
		j := int(r % uint32(i+1))
		out[i], out[j] = out[j], out[i]
	}

	return out[:maxQuestions]
}
