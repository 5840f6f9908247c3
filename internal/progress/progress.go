// Package progress computes the suite wide completion of a run from the
// estimated runtime of each descriptor.
package progress

import "time"

// Estimate is a snapshot of where a run currently stands.
type Estimate struct {
	// Runtimes holds one estimated runtime per descriptor of the run.
	Runtimes        []time.Duration
	DescriptorIndex int
	TestIndex       int
	TestTotal       int
	// TestProgress is the fraction of the current test that is done, in [0, 1].
	TestProgress float64
}

// Progress returns the completed fraction of the whole run in [0, 1].
// It returns 0 when there are no estimates.
func (e Estimate) Progress() float64 {
	total := e.total()
	if total <= 0 || e.DescriptorIndex < 0 {
		return 0
	}

	if e.DescriptorIndex >= len(e.Runtimes) {
		return 1
	}

	past := time.Duration(0)
	for _, r := range e.Runtimes[:e.DescriptorIndex] {
		past += r
	}

	current := float64(e.Runtimes[e.DescriptorIndex]) * e.descriptorFraction()

	return clamp((float64(past) + current) / float64(total))
}

// TimeLeft estimates the remaining runtime. The second return value is
// false when there are no estimates.
func (e Estimate) TimeLeft() (time.Duration, bool) {
	total := e.total()
	if total <= 0 {
		return 0, false
	}

	left := float64(total) * (1 - e.Progress())

	return time.Duration(left).Round(time.Second), true
}

func (e Estimate) descriptorFraction() float64 {
	if e.TestTotal <= 0 {
		return 0
	}

	return clamp((float64(e.TestIndex) + clamp(e.TestProgress)) / float64(e.TestTotal))
}

func (e Estimate) total() time.Duration {
	total := time.Duration(0)
	for _, r := range e.Runtimes {
		total += r
	}

	return total
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}

	return f
}
