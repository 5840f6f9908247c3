// Package autorun decides when unattended runs may start and what they
// run.
package autorun

import (
	"context"
	"log/slog"

	"github.com/raphi011/proberun/internal/device"
	"github.com/raphi011/proberun/internal/metric"
	"github.com/raphi011/proberun/internal/model"
	"github.com/raphi011/proberun/internal/settings"
)

// Reason explains a gatekeeper decision.
type Reason string

const (
	ReasonAllowed          Reason = "allowed"
	ReasonDisabled         Reason = "disabled"
	ReasonVPN              Reason = "vpn"
	ReasonNotOnWifi        Reason = "not_on_wifi"
	ReasonNotCharging      Reason = "not_charging"
	ReasonNotUploadedLimit Reason = "not_uploaded_limit"
	ReasonUnavailable      Reason = "unavailable"
)

// Conditions are the inputs of an auto-run decision.
type Conditions struct {
	Enabled           bool
	WifiOnly          bool
	OnlyWhileCharging bool

	NetworkType      model.NetworkType
	NetworkTypeKnown bool

	Battery      device.BatteryState
	BatteryKnown bool

	NotUploaded      int64
	NotUploadedLimit int
}

type Decision struct {
	Allowed bool
	Reason  Reason
}

// Decide returns whether an unattended run may start. A VPN always
// prevents the run, the Wi-Fi and charging constraints only apply when the
// respective state is known.
func Decide(c Conditions) Decision {
	switch {
	case !c.Enabled:
		return Decision{Reason: ReasonDisabled}
	case c.NetworkType == model.NetworkTypeVPN:
		return Decision{Reason: ReasonVPN}
	case c.NetworkTypeKnown && c.WifiOnly && c.NetworkType != model.NetworkTypeWifi:
		return Decision{Reason: ReasonNotOnWifi}
	case c.BatteryKnown && c.OnlyWhileCharging && c.Battery == device.BatteryNotCharging:
		return Decision{Reason: ReasonNotCharging}
	case c.NotUploaded >= int64(max(c.NotUploadedLimit, 1)):
		return Decision{Reason: ReasonNotUploadedLimit}
	}

	return Decision{Allowed: true, Reason: ReasonAllowed}
}

// Backlog counts the measurements that are done but not uploaded.
type Backlog interface {
	CountMeasurementsMissingUpload(ctx context.Context) (int64, error)
}

// Gatekeeper gathers the current conditions and decides on them.
type Gatekeeper struct {
	settings *settings.Store
	network  device.NetworkTypeFinder
	battery  device.BatteryStateFinder
	backlog  Backlog

	knownNetworkType  bool
	knownBatteryState bool

	log      *slog.Logger
	instance string
}

type option func(*Gatekeeper)

func WithLogger(log *slog.Logger) option {
	return func(g *Gatekeeper) {
		g.log = log
	}
}

func WithInstance(instance string) option {
	return func(g *Gatekeeper) {
		g.instance = instance
	}
}

// WithKnownStates tells whether the platform can tell the network type and
// the battery state at all.
func WithKnownStates(networkType, batteryState bool) option {
	return func(g *Gatekeeper) {
		g.knownNetworkType = networkType
		g.knownBatteryState = batteryState
	}
}

func NewGatekeeper(s *settings.Store, network device.NetworkTypeFinder, battery device.BatteryStateFinder, backlog Backlog, opts ...option) *Gatekeeper {
	g := &Gatekeeper{
		settings:          s,
		network:           network,
		battery:           battery,
		backlog:           backlog,
		knownNetworkType:  true,
		knownBatteryState: true,
		log:               slog.Default(),
	}

	for _, o := range opts {
		o(g)
	}

	return g
}

// Conditions collects the current auto-run conditions.
func (g *Gatekeeper) Conditions(ctx context.Context) (Conditions, error) {
	autoRun, err := g.settings.AutoRun(ctx)
	if err != nil {
		return Conditions{}, err
	}

	limit, err := g.settings.NotUploadedLimit(ctx)
	if err != nil {
		return Conditions{}, err
	}

	notUploaded, err := g.backlog.CountMeasurementsMissingUpload(ctx)
	if err != nil {
		return Conditions{}, err
	}

	battery := g.battery.BatteryState()

	return Conditions{
		Enabled:           autoRun.Enabled,
		WifiOnly:          autoRun.WifiOnly,
		OnlyWhileCharging: autoRun.OnlyWhileCharging,
		NetworkType:       g.network.NetworkType(),
		NetworkTypeKnown:  g.knownNetworkType,
		Battery:           battery,
		BatteryKnown:      g.knownBatteryState && battery != device.BatteryUnknown,
		NotUploaded:       notUploaded,
		NotUploadedLimit:  limit,
	}, nil
}

// Allowed reports whether an unattended run may start now.
func (g *Gatekeeper) Allowed(ctx context.Context) bool {
	decision := Decision{Reason: ReasonUnavailable}

	c, err := g.Conditions(ctx)
	if err != nil {
		g.log.Warn("unable to gather auto-run conditions", "error", err)
	} else {
		decision = Decide(c)
	}

	metric.AutoRunDecisions.WithLabelValues(g.instance, string(decision.Reason)).Inc()

	switch decision.Reason {
	case ReasonAllowed:
		g.log.Info("starting auto-run")
	case ReasonNotUploadedLimit:
		g.log.Warn("skipping auto-run due to not uploaded limit", "not-uploaded", c.NotUploaded, "limit", c.NotUploadedLimit)
	default:
		g.log.Info("not starting auto-run", "reason", decision.Reason)
	}

	return decision.Allowed
}
