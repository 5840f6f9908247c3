package html_test

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphi011/proberun/internal/html"
	"github.com/raphi011/proberun/internal/model"
)

func TestRenderResults(t *testing.T) {
	var b bytes.Buffer

	err := html.RenderResults([]model.Result{
		{ID: 7, DescriptorName: "websites", StartTime: time.Now(), IsDone: true, DataUsageDown: 2048},
	}, &b)
	require.NoError(t, err)

	assert.Contains(t, b.String(), `<a href="/results/7">websites</a>`)
	assert.Contains(t, b.String(), "2.0 MB")
}

func TestRenderResultsEmpty(t *testing.T) {
	var b bytes.Buffer

	require.NoError(t, html.RenderResults(nil, &b))
	assert.Contains(t, b.String(), "No results yet")
}

func TestRenderResult(t *testing.T) {
	var b bytes.Buffer

	err := html.RenderResult(html.ResultPage{
		Result: model.Result{DescriptorName: "instant_messaging", FailureMessage: "<boom>"},
		Measurements: []model.Measurement{
			{TestName: model.TestTypeSignal, IsDone: true, IsAnomaly: true, Runtime: 1.5},
			{TestName: model.TestTypeTelegram, IsDone: true, IsFailed: true, IsUploadFailed: true},
		},
	}, &b)
	require.NoError(t, err)

	out := b.String()
	assert.Contains(t, out, "&lt;boom&gt;")
	assert.Contains(t, out, "anomaly")
	assert.Contains(t, out, "1.5 s")
	assert.Contains(t, out, "<td>failed</td>")
}
