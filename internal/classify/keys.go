package classify

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TestKeys is the reduced projection of the test keys reported by the
// engine. Only fields relevant for classification are kept.
type TestKeys struct {
	Blocking *LenientString `json:"blocking,omitempty"`
	Failure  *string        `json:"failure,omitempty"`

	WhatsappEndpointsStatus  *string `json:"whatsapp_endpoints_status,omitempty"`
	WhatsappWebStatus        *string `json:"whatsapp_web_status,omitempty"`
	RegistrationServerStatus *string `json:"registration_server_status,omitempty"`

	FacebookTCPBlocking *bool `json:"facebook_tcp_blocking,omitempty"`
	FacebookDNSBlocking *bool `json:"facebook_dns_blocking,omitempty"`

	TelegramHTTPBlocking *bool   `json:"telegram_http_blocking,omitempty"`
	TelegramTCPBlocking  *bool   `json:"telegram_tcp_blocking,omitempty"`
	TelegramWebStatus    *string `json:"telegram_web_status,omitempty"`

	SignalBackendStatus *string `json:"signal_backend_status,omitempty"`

	DirPortTotal            *int64 `json:"dir_port_total,omitempty"`
	DirPortAccessible       *int64 `json:"dir_port_accessible,omitempty"`
	Obfs4Total              *int64 `json:"obfs4_total,omitempty"`
	Obfs4Accessible         *int64 `json:"obfs4_accessible,omitempty"`
	OrPortDirauthTotal      *int64 `json:"or_port_dirauth_total,omitempty"`
	OrPortDirauthAccessible *int64 `json:"or_port_dirauth_accessible,omitempty"`
	OrPortTotal             *int64 `json:"or_port_total,omitempty"`
	OrPortAccessible        *int64 `json:"or_port_accessible,omitempty"`

	Tampering *Tampering `json:"tampering,omitempty"`
}

// LenientString accepts a JSON string or boolean. Booleans are kept in their
// textual form.
type LenientString string

func (s *LenientString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)

	switch {
	case bytes.Equal(b, []byte("true")), bytes.Equal(b, []byte("false")):
		*s = LenientString(b)
		return nil
	case len(b) > 0 && b[0] == '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = LenientString(str)
		return nil
	}

	return fmt.Errorf("unexpected blocking value %s", b)
}

// Tampering is reported either as a plain boolean or as an object with
// one flag per detected kind of tampering.
type Tampering struct {
	Value bool

	HeaderFieldName           bool
	HeaderFieldNumber         bool
	HeaderFieldValue          bool
	HeaderNameCapitalization  bool
	RequestLineCapitalization bool
	Total                     bool
}

type tamperingObject struct {
	HeaderFieldName           bool `json:"header_field_name"`
	HeaderFieldNumber         bool `json:"header_field_number"`
	HeaderFieldValue          bool `json:"header_field_value"`
	HeaderNameCapitalization  bool `json:"header_name_capitalization"`
	RequestLineCapitalization bool `json:"request_line_capitalization"`
	Total                     bool `json:"total"`
}

func (t *Tampering) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)

	if len(b) > 0 && b[0] != '{' {
		v := string(b)
		if b[0] == '"' {
			if err := json.Unmarshal(b, &v); err != nil {
				return err
			}
		}

		// anything but a literal true counts as no tampering
		*t = Tampering{Value: v == "true"}
		return nil
	}

	var o tamperingObject
	if err := json.Unmarshal(b, &o); err != nil {
		return err
	}

	*t = Tampering{
		HeaderFieldName:           o.HeaderFieldName,
		HeaderFieldNumber:         o.HeaderFieldNumber,
		HeaderFieldValue:          o.HeaderFieldValue,
		HeaderNameCapitalization:  o.HeaderNameCapitalization,
		RequestLineCapitalization: o.RequestLineCapitalization,
		Total:                     o.Total,
	}
	t.Value = o.HeaderFieldName || o.HeaderFieldNumber || o.HeaderFieldValue ||
		o.HeaderNameCapitalization || o.RequestLineCapitalization || o.Total

	return nil
}

// MarshalJSON writes the collapsed boolean form.
func (t Tampering) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Value)
}
