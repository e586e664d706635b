package database_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/tunedb/internal/database"
)

func rec(secs ...float64) *database.TuningRecord {
	return &database.TuningRecord{RunSecs: secs}
}

func TestRankTopK(t *testing.T) {
	slow, fast, mid := rec(3), rec(1), rec(1, 3)
	unmeasured := rec()
	input := []*database.TuningRecord{slow, unmeasured, fast, mid}

	assert.Equal(t, []*database.TuningRecord{fast, mid, slow}, database.RankTopK(input, 10))
	assert.Equal(t, []*database.TuningRecord{fast}, database.RankTopK(input, 1))
	assert.Equal(t, []*database.TuningRecord{slow, unmeasured, fast, mid}, input, "input is not reordered")
}

func TestRankTopKNonPositiveK(t *testing.T) {
	input := []*database.TuningRecord{rec(1)}
	for _, k := range []int{0, -5} {
		out := database.RankTopK(input, k)
		assert.NotNil(t, out)
		assert.Empty(t, out)
	}
}

func TestRankTopKStableTies(t *testing.T) {
	a, b, c := rec(2), rec(1, 3), rec(2)
	out := database.RankTopK([]*database.TuningRecord{a, b, c}, 3)
	assert.Same(t, a, out[0])
	assert.Same(t, b, out[1])
	assert.Same(t, c, out[2])
}

func TestRankTopKEmpty(t *testing.T) {
	assert.Empty(t, database.RankTopK(nil, 3))
	assert.Empty(t, database.RankTopK([]*database.TuningRecord{rec()}, 3))
}
