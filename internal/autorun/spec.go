package autorun

import (
	"context"
	"fmt"
	"time"

	"github.com/raphi011/proberun/internal/model"
)

// Descriptors lists every available descriptor.
type Descriptors interface {
	All(ctx context.Context) ([]model.Descriptor, error)
}

// SpecificationBuilder builds the run specification of unattended runs.
type SpecificationBuilder struct {
	descriptors Descriptors
	now         func() time.Time
}

func NewSpecificationBuilder(descriptors Descriptors) *SpecificationBuilder {
	return &SpecificationBuilder{descriptors: descriptors, now: time.Now}
}

// Build returns every non expired descriptor with the tests that may run
// in the background. Descriptors without such tests are left out.
func (b *SpecificationBuilder) Build(ctx context.Context) (model.RunSpecification, error) {
	all, err := b.descriptors.All(ctx)
	if err != nil {
		return model.RunSpecification{}, fmt.Errorf("loading descriptors: %w", err)
	}

	spec := model.RunSpecification{
		Tests:      []model.RunSpecTest{},
		TaskOrigin: model.TaskOriginAutoRun,
		IsRerun:    false,
	}

	now := b.now()

	for _, d := range all {
		if d.IsExpired(now) {
			continue
		}

		tests := []model.NetTest{}
		for _, t := range d.AllTests() {
			if t.Name.BackgroundRunEnabled() {
				tests = append(tests, t)
			}
		}

		if len(tests) == 0 {
			continue
		}

		spec.Tests = append(spec.Tests, model.RunSpecTest{Source: d.Source, NetTests: tests})
	}

	return spec, nil
}
