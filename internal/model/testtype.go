package model

import (
	"time"
)

// TestType identifies a measurement kind. Names that are not part of the
// known set are treated as experimental.
type TestType string

const (
	TestTypeDash                        TestType = "dash"
	TestTypeFacebookMessenger           TestType = "facebook_messenger"
	TestTypeHTTPHeaderFieldManipulation TestType = "http_header_field_manipulation"
	TestTypeHTTPInvalidRequestLine      TestType = "http_invalid_request_line"
	TestTypeNdt                         TestType = "ndt"
	TestTypePsiphon                     TestType = "psiphon"
	TestTypeSignal                      TestType = "signal"
	TestTypeTelegram                    TestType = "telegram"
	TestTypeTor                         TestType = "tor"
	TestTypeWebConnectivity             TestType = "web_connectivity"
	TestTypeWhatsapp                    TestType = "whatsapp"
)

// KnownTestTypes lists every test type with dedicated handling.
var KnownTestTypes = []TestType{
	TestTypeDash,
	TestTypeFacebookMessenger,
	TestTypeHTTPHeaderFieldManipulation,
	TestTypeHTTPInvalidRequestLine,
	TestTypeNdt,
	TestTypePsiphon,
	TestTypeSignal,
	TestTypeTelegram,
	TestTypeTor,
	TestTypeWebConnectivity,
	TestTypeWhatsapp,
}

var baseRuntimes = map[TestType]time.Duration{
	TestTypeDash:                        45 * time.Second,
	TestTypeFacebookMessenger:           10 * time.Second,
	TestTypeHTTPHeaderFieldManipulation: 5 * time.Second,
	TestTypeHTTPInvalidRequestLine:      10 * time.Second,
	TestTypeNdt:                         45 * time.Second,
	TestTypePsiphon:                     20 * time.Second,
	TestTypeSignal:                      10 * time.Second,
	TestTypeTelegram:                    10 * time.Second,
	TestTypeTor:                         40 * time.Second,
	TestTypeWebConnectivity:             30 * time.Second,
	TestTypeWhatsapp:                    10 * time.Second,
}

const (
	experimentalRuntime = 30 * time.Second
	perURLRuntime       = 5 * time.Second
)

func (t TestType) IsExperimental() bool {
	_, ok := baseRuntimes[t]
	return !ok
}

// BackgroundRunEnabled reports whether the test may run unattended.
func (t TestType) BackgroundRunEnabled() bool {
	if t.IsExperimental() {
		return false
	}

	return t != TestTypeDash && t != TestTypeNdt
}

// Runtime estimates how long the test takes for the given inputs.
func (t TestType) Runtime(inputs []string) time.Duration {
	base, ok := baseRuntimes[t]
	if !ok {
		return experimentalRuntime
	}

	if t == TestTypeWebConnectivity {
		return base + time.Duration(len(inputs))*perURLRuntime
	}

	return base
}

// NetTest is a single test within a descriptor.
type NetTest struct {
	Name   TestType `json:"name" yaml:"name"`
	Inputs []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

// Runtime caps the estimated runtime of the test at maxRuntime when
// maxRuntime is positive.
func (n NetTest) Runtime(maxRuntime time.Duration) time.Duration {
	runtime := n.Name.Runtime(n.Inputs)
	if maxRuntime > 0 && runtime > maxRuntime {
		return maxRuntime
	}

	return runtime
}
