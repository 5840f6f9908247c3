// Package classify turns the test keys of a finished measurement into
// failed/anomaly flags.
package classify

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/raphi011/proberun/internal/model"
)

// BlockedValue is the status engines report for blocked endpoints.
const BlockedValue = "BLOCKED"

// Outcome is the classification of a single measurement.
type Outcome struct {
	IsFailed  bool
	IsAnomaly bool
}

type rule func(k *TestKeys) Outcome

var rules = map[model.TestType]rule{
	model.TestTypeWebConnectivity:             webConnectivity,
	model.TestTypeWhatsapp:                    whatsapp,
	model.TestTypeHTTPHeaderFieldManipulation: tampering,
	model.TestTypeHTTPInvalidRequestLine:      tampering,
	model.TestTypeFacebookMessenger:           facebookMessenger,
	model.TestTypeTelegram:                    telegram,
	model.TestTypeSignal:                      signal,
	model.TestTypeDash:                        performance,
	model.TestTypeNdt:                         performance,
	model.TestTypePsiphon:                     psiphon,
	model.TestTypeTor:                         tor,
}

// HasRule reports whether the test type has a dedicated classification.
func HasRule(t model.TestType) bool {
	_, ok := rules[t]
	return ok
}

// Evaluate classifies the keys of a measurement of the given test type.
// Experimental tests are never failed nor anomalous.
func Evaluate(t model.TestType, keys *TestKeys) Outcome {
	r, ok := rules[t]
	if !ok {
		return Outcome{}
	}

	return r(keys)
}

// Parse decodes raw test keys. An empty or null payload yields nil keys.
func Parse(raw json.RawMessage) (*TestKeys, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return nil, nil
	}

	var keys TestKeys
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("decoding test keys: %w", err)
	}

	return &keys, nil
}

// Reduce serializes the relevant projection of the keys.
func Reduce(keys *TestKeys) string {
	if keys == nil {
		return ""
	}

	b, err := json.Marshal(keys)
	if err != nil {
		return ""
	}

	return string(b)
}

func isBlocked(s *string) bool {
	return s != nil && *s == BlockedValue
}

func isTrue(b *bool) bool {
	return b != nil && *b
}

func webConnectivity(k *TestKeys) Outcome {
	if k == nil || k.Blocking == nil {
		return Outcome{IsFailed: true}
	}

	return Outcome{IsAnomaly: *k.Blocking != "false"}
}

func whatsapp(k *TestKeys) Outcome {
	if k == nil || k.WhatsappEndpointsStatus == nil || k.WhatsappWebStatus == nil || k.RegistrationServerStatus == nil {
		return Outcome{IsFailed: true}
	}

	return Outcome{
		IsAnomaly: isBlocked(k.WhatsappEndpointsStatus) ||
			isBlocked(k.WhatsappWebStatus) ||
			isBlocked(k.RegistrationServerStatus),
	}
}

func tampering(k *TestKeys) Outcome {
	if k == nil {
		return Outcome{}
	}

	if k.Tampering == nil {
		return Outcome{IsFailed: k.Failure != nil}
	}

	return Outcome{IsAnomaly: k.Tampering.Value}
}

func facebookMessenger(k *TestKeys) Outcome {
	if k == nil || k.FacebookTCPBlocking == nil || k.FacebookDNSBlocking == nil {
		return Outcome{IsFailed: true}
	}

	return Outcome{IsAnomaly: *k.FacebookTCPBlocking || *k.FacebookDNSBlocking}
}

func telegram(k *TestKeys) Outcome {
	if k == nil || k.TelegramHTTPBlocking == nil || k.TelegramTCPBlocking == nil || k.TelegramWebStatus == nil {
		return Outcome{IsFailed: true}
	}

	return Outcome{
		IsAnomaly: isTrue(k.TelegramHTTPBlocking) ||
			isTrue(k.TelegramTCPBlocking) ||
			isBlocked(k.TelegramWebStatus),
	}
}

func signal(k *TestKeys) Outcome {
	if k == nil || k.SignalBackendStatus == nil || *k.SignalBackendStatus == "" {
		return Outcome{IsFailed: true}
	}

	return Outcome{IsAnomaly: strings.EqualFold(*k.SignalBackendStatus, BlockedValue)}
}

func performance(k *TestKeys) Outcome {
	if k == nil {
		return Outcome{}
	}

	return Outcome{IsFailed: k.Failure != nil}
}

func psiphon(k *TestKeys) Outcome {
	if k == nil {
		return Outcome{IsFailed: true}
	}

	return Outcome{IsAnomaly: k.Failure != nil}
}

func tor(k *TestKeys) Outcome {
	if k == nil {
		return Outcome{IsFailed: true}
	}

	pairs := [][2]*int64{
		{k.DirPortTotal, k.DirPortAccessible},
		{k.Obfs4Total, k.Obfs4Accessible},
		{k.OrPortDirauthTotal, k.OrPortDirauthAccessible},
		{k.OrPortTotal, k.OrPortAccessible},
	}

	for _, p := range pairs {
		if p[0] != nil && *p[0] > 0 && (p[1] == nil || *p[1] <= 0) {
			return Outcome{IsAnomaly: true}
		}
	}

	return Outcome{}
}
