package autorun_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphi011/proberun/internal/autorun"
	"github.com/raphi011/proberun/internal/descriptor"
	"github.com/raphi011/proberun/internal/device"
	"github.com/raphi011/proberun/internal/model"
	"github.com/raphi011/proberun/internal/settings"
	"github.com/raphi011/proberun/internal/storage"
)

func allowedConditions() autorun.Conditions {
	return autorun.Conditions{
		Enabled:          true,
		NetworkType:      model.NetworkTypeWifi,
		NetworkTypeKnown: true,
		WifiOnly:         true,
		Battery:          device.BatteryNotCharging,
		BatteryKnown:     true,
		NotUploaded:      10,
		NotUploadedLimit: 50,
	}
}

func TestDecide(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*autorun.Conditions)
		want   autorun.Reason
	}{
		{"allowed", func(*autorun.Conditions) {}, autorun.ReasonAllowed},
		{"disabled", func(c *autorun.Conditions) { c.Enabled = false }, autorun.ReasonDisabled},
		{"vpn", func(c *autorun.Conditions) { c.NetworkType = model.NetworkTypeVPN }, autorun.ReasonVPN},
		{"vpn with unknown network type", func(c *autorun.Conditions) {
			c.NetworkType = model.NetworkTypeVPN
			c.NetworkTypeKnown = false
			c.WifiOnly = false
		}, autorun.ReasonVPN},
		{"mobile while wifi only", func(c *autorun.Conditions) { c.NetworkType = model.NetworkTypeMobile }, autorun.ReasonNotOnWifi},
		{"mobile with unknown network type", func(c *autorun.Conditions) {
			c.NetworkType = model.NetworkTypeMobile
			c.NetworkTypeKnown = false
		}, autorun.ReasonAllowed},
		{"not charging", func(c *autorun.Conditions) { c.OnlyWhileCharging = true }, autorun.ReasonNotCharging},
		{"unknown battery", func(c *autorun.Conditions) {
			c.OnlyWhileCharging = true
			c.BatteryKnown = false
		}, autorun.ReasonAllowed},
		{"limit reached", func(c *autorun.Conditions) { c.NotUploaded = 50 }, autorun.ReasonNotUploadedLimit},
		{"limit coerced to one", func(c *autorun.Conditions) {
			c.NotUploaded = 1
			c.NotUploadedLimit = 0
		}, autorun.ReasonNotUploadedLimit},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := allowedConditions()
			tt.modify(&c)

			d := autorun.Decide(c)

			assert.Equal(t, tt.want, d.Reason)
			assert.Equal(t, tt.want == autorun.ReasonAllowed, d.Allowed)
		})
	}
}

func TestVPNIsNeverAllowed(t *testing.T) {
	for _, wifiOnly := range []bool{true, false} {
		for _, charging := range []bool{true, false} {
			c := allowedConditions()
			c.NetworkType = model.NetworkTypeVPN
			c.WifiOnly = wifiOnly
			c.OnlyWhileCharging = charging
			c.NotUploaded = 0

			assert.False(t, autorun.Decide(c).Allowed)
		}
	}
}

func newStore(t *testing.T) *storage.Storage {
	t.Helper()

	s, err := storage.New("", slog.Default())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestGatekeeperAllowed(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	store := settings.New(s)

	g := autorun.NewGatekeeper(store,
		device.StaticNetworkType(model.NetworkTypeWifi),
		device.StaticBatteryState(device.BatteryCharging),
		s,
	)

	assert.False(t, g.Allowed(ctx), "auto-run is disabled by default")

	require.NoError(t, store.Set(ctx, settings.KeyAutomatedTestingEnabled, "true"))
	assert.True(t, g.Allowed(ctx))

	c, err := g.Conditions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 50, c.NotUploadedLimit)
	assert.True(t, c.BatteryKnown)
}

func TestSpecificationBuilder(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	expired := time.Now().Add(-time.Hour)
	_, err := s.SaveDescriptor(ctx, model.Descriptor{
		Name:           "expired",
		Source:         model.InstalledSource{ID: "1"},
		ExpirationDate: &expired,
		NetTests:       []model.NetTest{{Name: model.TestTypeSignal}},
	})
	require.NoError(t, err)

	spec, err := autorun.NewSpecificationBuilder(descriptor.NewCatalog(s)).Build(ctx)
	require.NoError(t, err)

	assert.Equal(t, model.TaskOriginAutoRun, spec.TaskOrigin)
	assert.False(t, spec.IsRerun)

	sources := []model.Source{}
	for _, test := range spec.Tests {
		sources = append(sources, test.Source)

		for _, nt := range test.NetTests {
			assert.True(t, nt.Name.BackgroundRunEnabled(), "%s must not run in the background", nt.Name)
		}
	}

	assert.Equal(t, []model.Source{
		model.DefaultSource{Name: "websites"},
		model.DefaultSource{Name: "instant_messaging"},
		model.DefaultSource{Name: "circumvention"},
		model.DefaultSource{Name: "performance"},
	}, sources)
}
