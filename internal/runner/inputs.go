package runner

import (
	"context"
	"log/slog"

	"github.com/raphi011/proberun/internal/model"
)

// InputPreparer fills in the targets of web connectivity tests that come
// without inputs. The target list is fetched at most once per Prepare.
type InputPreparer struct {
	engine Engine
	store  Store
	log    *slog.Logger
}

func NewInputPreparer(deps Deps) *InputPreparer {
	deps = deps.withDefaults()

	return &InputPreparer{engine: deps.Engine, store: deps.Store, log: deps.Log}
}

// Prepare returns the descriptors with their final inputs. Web connectivity
// tests left without inputs are removed, as are descriptors left without
// tests. If the target list could not be fetched Prepare returns
// model.TestRunErrorDownloadURLsFailed along with the usable descriptors.
func (p *InputPreparer) Prepare(ctx context.Context, descriptors []model.Descriptor, origin model.TaskOrigin) ([]model.Descriptor, error) {
	var (
		targets []string
		fetched bool
		runErr  error
	)

	resolve := func(tests []model.NetTest) []model.NetTest {
		prepared := make([]model.NetTest, 0, len(tests))

		for _, t := range tests {
			if t.Name == model.TestTypeWebConnectivity && len(t.Inputs) == 0 {
				if !fetched {
					targets = p.fetchTargets(ctx, origin)
					fetched = true

					if len(targets) == 0 {
						runErr = model.TestRunErrorDownloadURLsFailed
					}
				}

				t.Inputs = append([]string{}, targets...)
			}

			if t.Name == model.TestTypeWebConnectivity && len(t.Inputs) == 0 {
				p.log.Info("skipping web connectivity test without inputs")
				continue
			}

			prepared = append(prepared, t)
		}

		return prepared
	}

	prepared := make([]model.Descriptor, 0, len(descriptors))

	for _, d := range descriptors {
		d.NetTests = resolve(d.NetTests)
		d.LongRunningTests = resolve(d.LongRunningTests)

		if len(d.AllTests()) == 0 {
			p.log.Info("skipping descriptor without tests", "descriptor", d.Name)
			continue
		}

		prepared = append(prepared, d)
	}

	return prepared, runErr
}

func (p *InputPreparer) fetchTargets(ctx context.Context, origin model.TaskOrigin) []string {
	result, err := p.engine.CheckIn(ctx, origin)
	if err != nil {
		p.log.Warn("could not download urls", "error", err)
		return nil
	}

	urls := make([]model.URL, 0, len(result.URLs))
	for _, u := range result.URLs {
		urls = append(urls, model.URL{URL: u.URL, CountryCode: u.CountryCode, CategoryCode: u.CategoryCode})
	}

	stored, err := p.store.SaveURLs(ctx, urls)
	if err != nil {
		p.log.Warn("could not store urls", "error", err)
		return nil
	}

	targets := make([]string, 0, len(stored))
	for _, u := range stored {
		targets = append(targets, u.URL)
	}

	return targets
}
