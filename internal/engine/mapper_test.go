package engine_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphi011/proberun/internal/engine"
	"github.com/raphi011/proberun/internal/model"
)

func newMapper() *engine.Mapper {
	return engine.NewMapper(func() model.NetworkType { return model.NetworkTypeWifi }, slog.Default())
}

func TestMapperMapsWireKeys(t *testing.T) {
	tests := []struct {
		raw      string
		expected engine.Event
	}{
		{`{"key":"status.started"}`, engine.Started{}},
		{`{"key":"status.geoip_lookup","value":{"probe_asn":"AS1","probe_cc":"IT","probe_ip":"1.2.3.4","probe_network_name":"Net"}}`,
			engine.GeoIPLookup{ASN: "AS1", CountryCode: "IT", IP: "1.2.3.4", NetworkName: "Net", NetworkType: model.NetworkTypeWifi}},
		{`{"key":"log","value":{"log_level":"WARNING","message":"hello"}}`, engine.Log{Level: "WARNING", Message: "hello"}},
		{`{"key":"status.measurement_start","value":{"idx":2,"input":"https://example.org"}}`, engine.MeasurementStart{Index: 2, URL: "https://example.org"}},
		{`{"key":"status.measurement_done","value":{"idx":1}}`, engine.MeasurementDone{Index: 1}},
		{`{"key":"status.measurement_submission","value":{"idx":1,"measurement_uid":"uid"}}`, engine.MeasurementSubmissionSuccessful{Index: 1, MeasurementUID: "uid"}},
		{`{"key":"failure.measurement_submission","value":{"idx":1,"failure":"timeout"}}`, engine.MeasurementSubmissionFailure{Index: 1, Message: "timeout"}},
		{`{"key":"status.progress","value":{"percentage":0.5,"message":"half"}}`, engine.Progress{Percentage: 0.5, Message: "half"}},
		{`{"key":"status.report_create","value":{"report_id":"r1"}}`, engine.ReportCreate{ReportID: "r1"}},
		{`{"key":"failure.resolver_lookup","value":{"failure":"dns"}}`, engine.ResolverLookupFailure{Message: "dns"}},
		{`{"key":"failure.startup","value":{"failure":"boom"}}`, engine.StartupFailure{Message: "boom"}},
		{`{"key":"task_terminated","value":{"idx":3}}`, engine.TaskTerminated{Index: 3}},
		{`{"key":"status.end","value":{"downloaded_kb":10.7,"uploaded_kb":2}}`, engine.End{DownloadedKB: 10, UploadedKB: 2}},
	}

	m := newMapper()

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			e, err := m.Map([]byte(tt.raw), false)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, e)
		})
	}
}

func TestMapperIgnoresIncompleteEvents(t *testing.T) {
	m := newMapper()

	for _, raw := range []string{
		`{"key":"status.queued"}`,
		`{"key":"log","value":{}}`,
		`{"key":"status.progress","value":{"message":"no percentage"}}`,
		`{"key":"status.report_create"}`,
		`{"key":"measurement","value":{"idx":0}}`,
		`{"key":"failure.startup"}`,
	} {
		e, err := m.Map([]byte(raw), false)
		require.NoError(t, err)
		assert.Nil(t, e, raw)
	}
}

func TestMapperMarksCancelledFailures(t *testing.T) {
	e, err := newMapper().Map([]byte(`{"key":"failure.startup","value":{"failure":"interrupted"}}`), true)

	require.NoError(t, err)
	assert.Equal(t, engine.StartupFailure{Message: "interrupted", IsCancelled: true}, e)
}

func TestMapperParsesMeasurement(t *testing.T) {
	raw := `{"key":"measurement","value":{"idx":1,"json_str":"{\"test_runtime\":2.5,\"measurement_start_time\":\"2024-06-01 10:00:00\",\"test_keys\":{\"blocking\":\"dns\"}}"}}`

	e, err := newMapper().Map([]byte(raw), false)
	require.NoError(t, err)

	m, ok := e.(engine.Measurement)
	require.True(t, ok)
	require.NotNil(t, m.Result)

	assert.Equal(t, 1, m.Index)
	assert.Equal(t, 2.5, *m.Result.TestRuntime)
	assert.Equal(t, "2024-06-01T10:00:00Z", m.Result.MeasurementStartTime.Format("2006-01-02T15:04:05Z07:00"))
	assert.Equal(t, "dns", string(*m.Result.TestKeys.Blocking))
}

func TestMapperKeepsUnparsableMeasurement(t *testing.T) {
	raw := `{"key":"measurement","value":{"idx":0,"json_str":"not json"}}`

	e, err := newMapper().Map([]byte(raw), false)
	require.NoError(t, err)

	m, ok := e.(engine.Measurement)
	require.True(t, ok)
	assert.Nil(t, m.Result)
	assert.Equal(t, "not json", m.JSON)
}

func TestMapperRejectsInvalidJSON(t *testing.T) {
	_, err := newMapper().Map([]byte(`{`), false)

	assert.Error(t, err)
}

func TestClassifyWarning(t *testing.T) {
	assert.Equal(t, "submission", engine.WarningGroup(engine.ClassifyWarning("Cannot submit measurement: EOF")))
	assert.Equal(t, "probe-services", engine.WarningGroup(engine.ClassifyWarning("probeservices: all endpoints failed")))
	assert.Nil(t, engine.ClassifyWarning("just a warning"))
}
