package progress_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/raphi011/proberun/internal/progress"
)

func TestProgressWithoutEstimates(t *testing.T) {
	e := progress.Estimate{DescriptorIndex: 0, TestIndex: 1, TestTotal: 2, TestProgress: 0.5}

	assert.Equal(t, 0.0, e.Progress())

	_, ok := e.TimeLeft()
	assert.False(t, ok)
}

func TestProgressIsWeightedByEstimates(t *testing.T) {
	e := progress.Estimate{
		Runtimes:        []time.Duration{30 * time.Second, 10 * time.Second},
		DescriptorIndex: 1,
		TestIndex:       0,
		TestTotal:       2,
		TestProgress:    0.5,
	}

	assert.InDelta(t, 0.75+0.25*0.25, e.Progress(), 1e-9)

	left, ok := e.TimeLeft()
	assert.True(t, ok)
	assert.Equal(t, 8*time.Second, left.Round(time.Second))
}

func TestProgressIsMonotonicAndEndsAtOne(t *testing.T) {
	runtimes := []time.Duration{40 * time.Second, 30 * time.Second, 95 * time.Second}
	tests := []int{1, 3, 2}

	last := 0.0

	for d, total := range tests {
		for i := 0; i < total; i++ {
			for _, pct := range []float64{0, 0.1, 0.5, 0.9, 1} {
				p := progress.Estimate{
					Runtimes:        runtimes,
					DescriptorIndex: d,
					TestIndex:       i,
					TestTotal:       total,
					TestProgress:    pct,
				}.Progress()

				assert.GreaterOrEqual(t, p, last)
				last = p
			}
		}
	}

	assert.Equal(t, 1.0, last)
}
