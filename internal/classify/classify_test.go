package classify_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphi011/proberun/internal/classify"
	"github.com/raphi011/proberun/internal/model"
)

func parse(t *testing.T, raw string) *classify.TestKeys {
	t.Helper()

	keys, err := classify.Parse([]byte(raw))
	require.NoError(t, err)

	return keys
}

func TestEveryKnownTestTypeHasARule(t *testing.T) {
	for _, tt := range model.KnownTestTypes {
		assert.True(t, classify.HasRule(tt), "missing rule for %s", tt)
	}
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name     string
		testType model.TestType
		keys     string
		expected classify.Outcome
	}{
		{"web connectivity blocking null", model.TestTypeWebConnectivity, `{"blocking":null}`, classify.Outcome{IsFailed: true}},
		{"web connectivity blocking dns", model.TestTypeWebConnectivity, `{"blocking":"dns"}`, classify.Outcome{IsAnomaly: true}},
		{"web connectivity blocking false string", model.TestTypeWebConnectivity, `{"blocking":"false"}`, classify.Outcome{}},
		{"web connectivity blocking false bool", model.TestTypeWebConnectivity, `{"blocking":false}`, classify.Outcome{}},
		{"web connectivity missing keys", model.TestTypeWebConnectivity, ``, classify.Outcome{IsFailed: true}},

		{"signal blocked lowercase", model.TestTypeSignal, `{"signal_backend_status":"blocked"}`, classify.Outcome{IsAnomaly: true}},
		{"signal blocked uppercase", model.TestTypeSignal, `{"signal_backend_status":"BLOCKED"}`, classify.Outcome{IsAnomaly: true}},
		{"signal ok", model.TestTypeSignal, `{"signal_backend_status":"ok"}`, classify.Outcome{}},
		{"signal empty", model.TestTypeSignal, `{"signal_backend_status":""}`, classify.Outcome{IsFailed: true}},

		{"dash failure", model.TestTypeDash, `{"failure":"generic_timeout_error"}`, classify.Outcome{IsFailed: true}},
		{"ndt ok", model.TestTypeNdt, `{}`, classify.Outcome{}},

		{"experimental", model.TestType("stunreachability"), `{"failure":"x"}`, classify.Outcome{}},

		{"facebook missing dns", model.TestTypeFacebookMessenger, `{"facebook_tcp_blocking":false}`, classify.Outcome{IsFailed: true}},
		{"facebook dns blocking", model.TestTypeFacebookMessenger, `{"facebook_tcp_blocking":false,"facebook_dns_blocking":true}`, classify.Outcome{IsAnomaly: true}},
		{"facebook ok", model.TestTypeFacebookMessenger, `{"facebook_tcp_blocking":false,"facebook_dns_blocking":false}`, classify.Outcome{}},

		{"hhfm failure without tampering", model.TestTypeHTTPHeaderFieldManipulation, `{"failure":"eof"}`, classify.Outcome{IsFailed: true}},
		{"hhfm tampering object", model.TestTypeHTTPHeaderFieldManipulation, `{"tampering":{"header_field_name":false,"header_field_number":false,"header_field_value":false,"header_name_capitalization":true,"request_line_capitalization":false,"total":false}}`, classify.Outcome{IsAnomaly: true}},
		{"hhfm tampering object clean", model.TestTypeHTTPHeaderFieldManipulation, `{"tampering":{"header_field_name":false,"total":false}}`, classify.Outcome{}},
		{"hirl tampering bool", model.TestTypeHTTPInvalidRequestLine, `{"tampering":true}`, classify.Outcome{IsAnomaly: true}},
		{"hirl tampering quoted", model.TestTypeHTTPInvalidRequestLine, `{"tampering":"true"}`, classify.Outcome{IsAnomaly: true}},
		{"hirl tampering unparseable", model.TestTypeHTTPInvalidRequestLine, `{"tampering":"maybe"}`, classify.Outcome{}},
		{"hirl failure with tampering", model.TestTypeHTTPInvalidRequestLine, `{"failure":"eof","tampering":false}`, classify.Outcome{}},

		{"psiphon absent", model.TestTypePsiphon, ``, classify.Outcome{IsFailed: true}},
		{"psiphon failure", model.TestTypePsiphon, `{"failure":"bootstrap"}`, classify.Outcome{IsAnomaly: true}},

		{"telegram missing web", model.TestTypeTelegram, `{"telegram_http_blocking":false,"telegram_tcp_blocking":false}`, classify.Outcome{IsFailed: true}},
		{"telegram tcp blocking", model.TestTypeTelegram, `{"telegram_http_blocking":false,"telegram_tcp_blocking":true,"telegram_web_status":"ok"}`, classify.Outcome{IsAnomaly: true}},
		{"telegram web blocked", model.TestTypeTelegram, `{"telegram_http_blocking":false,"telegram_tcp_blocking":false,"telegram_web_status":"BLOCKED"}`, classify.Outcome{IsAnomaly: true}},
		{"telegram web blocked lowercase", model.TestTypeTelegram, `{"telegram_http_blocking":false,"telegram_tcp_blocking":false,"telegram_web_status":"blocked"}`, classify.Outcome{}},
		{"telegram ok", model.TestTypeTelegram, `{"telegram_http_blocking":false,"telegram_tcp_blocking":false,"telegram_web_status":"ok"}`, classify.Outcome{}},

		{"tor absent", model.TestTypeTor, ``, classify.Outcome{IsFailed: true}},
		{"tor obfs4 unreachable", model.TestTypeTor, `{"dir_port_total":10,"dir_port_accessible":10,"obfs4_total":5,"obfs4_accessible":0}`, classify.Outcome{IsAnomaly: true}},
		{"tor ok", model.TestTypeTor, `{"dir_port_total":10,"dir_port_accessible":3,"or_port_total":0,"or_port_accessible":0}`, classify.Outcome{}},

		{"whatsapp missing", model.TestTypeWhatsapp, `{"whatsapp_endpoints_status":"ok"}`, classify.Outcome{IsFailed: true}},
		{"whatsapp blocked", model.TestTypeWhatsapp, `{"whatsapp_endpoints_status":"ok","whatsapp_web_status":"BLOCKED","registration_server_status":"ok"}`, classify.Outcome{IsAnomaly: true}},
		{"whatsapp blocked lowercase", model.TestTypeWhatsapp, `{"whatsapp_endpoints_status":"blocked","whatsapp_web_status":"ok","registration_server_status":"ok"}`, classify.Outcome{}},
		{"whatsapp ok", model.TestTypeWhatsapp, `{"whatsapp_endpoints_status":"ok","whatsapp_web_status":"ok","registration_server_status":"ok"}`, classify.Outcome{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, classify.Evaluate(tt.testType, parse(t, tt.keys)))
		})
	}
}

func TestParseRejectsUnexpectedBlocking(t *testing.T) {
	_, err := classify.Parse([]byte(`{"blocking":42}`))

	assert.Error(t, err)
}

func TestReduceDropsUnknownKeys(t *testing.T) {
	keys := parse(t, `{"blocking":"dns","requests":[{"url":"https://example.org"}],"tampering":{"total":true}}`)

	assert.JSONEq(t, `{"blocking":"dns","tampering":true}`, classify.Reduce(keys))
	assert.Empty(t, classify.Reduce(nil))
}
