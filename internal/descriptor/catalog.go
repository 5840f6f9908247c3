// Package descriptor resolves the descriptors a run executes, from the
// built in defaults and the installed ones.
package descriptor

import (
	"context"
	"fmt"
	"time"

	"github.com/raphi011/proberun/internal/model"
)

// Repository persists installed descriptors.
type Repository interface {
	LoadDescriptors(ctx context.Context) ([]model.Descriptor, error)
	LoadDescriptor(ctx context.Context, id model.DescriptorID) (model.Descriptor, error)
	SaveDescriptor(ctx context.Context, d model.Descriptor) (model.Descriptor, error)
}

type Catalog struct {
	repo Repository
	now  func() time.Time
}

func NewCatalog(repo Repository) *Catalog {
	return &Catalog{repo: repo, now: time.Now}
}

// All returns the default descriptors followed by the latest revision of
// every installed descriptor.
func (c *Catalog) All(ctx context.Context) ([]model.Descriptor, error) {
	installed, err := c.repo.LoadDescriptors(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading installed descriptors: %w", err)
	}

	return append(Defaults(), installed...), nil
}

// BySpec returns the descriptors referenced by spec, in catalog order,
// with their tests replaced by the tests of the spec. Expired descriptors
// and descriptors without tests are dropped.
func (c *Catalog) BySpec(ctx context.Context, spec model.RunSpecification) ([]model.Descriptor, error) {
	all, err := c.All(ctx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	selected := []model.Descriptor{}

	for _, d := range all {
		if d.IsExpired(now) {
			continue
		}

		specTest, ok := forDescriptor(spec, d)
		if !ok {
			continue
		}

		tests := make([]model.NetTest, 0, len(specTest.NetTests))
		for _, t := range specTest.NetTests {
			if len(t.Inputs) == 0 {
				t.Inputs = inputsOf(d, t.Name)
			}
			tests = append(tests, t)
		}

		if len(tests) == 0 {
			continue
		}

		d.NetTests = tests
		// long running tests are already part of the requested tests
		d.LongRunningTests = nil

		selected = append(selected, d)
	}

	return selected, nil
}

func forDescriptor(spec model.RunSpecification, d model.Descriptor) (model.RunSpecTest, bool) {
	for _, t := range spec.Tests {
		switch source := t.Source.(type) {
		case model.DefaultSource:
			if ds, ok := d.Source.(model.DefaultSource); ok && ds.Name == source.Name {
				return t, true
			}
		case model.InstalledSource:
			if is, ok := d.Source.(model.InstalledSource); ok && is.ID == source.ID {
				return t, true
			}
		}
	}

	return model.RunSpecTest{}, false
}

func inputsOf(d model.Descriptor, name model.TestType) []string {
	for _, t := range d.AllTests() {
		if t.Name == name && len(t.Inputs) > 0 {
			return append([]string{}, t.Inputs...)
		}
	}

	return nil
}

// FullSpec returns a specification running every test of the descriptors.
func FullSpec(descriptors []model.Descriptor, origin model.TaskOrigin) model.RunSpecification {
	spec := model.RunSpecification{TaskOrigin: origin}

	for _, d := range descriptors {
		spec.Tests = append(spec.Tests, model.RunSpecTest{Source: d.Source, NetTests: d.AllTests()})
	}

	return spec
}
