package hook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"github.com/raphi011/proberun/internal/model"
)

// ElasticSearchHook indexes every finished measurement.
type ElasticSearchHook struct {
	client *elasticsearch.Client
	index  string

	log *slog.Logger
}

func NewElasticSearchHook(addresses []string, index string, log *slog.Logger) (*ElasticSearchHook, error) {
	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: addresses})
	if err != nil {
		return nil, fmt.Errorf("creating elasticsearch client: %w", err)
	}

	return &ElasticSearchHook{client: client, index: index, log: log}, nil
}

func (h *ElasticSearchHook) Name() string {
	return "elastic-search"
}

func (h *ElasticSearchHook) Init() error {
	res, err := h.client.Ping()
	if err != nil {
		return fmt.Errorf("pinging elasticsearch: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("pinging elasticsearch: %s", res.Status())
	}

	return nil
}

type measurementDocument struct {
	MeasurementID  model.MeasurementID `json:"measurement_id"`
	ResultID       model.ResultID      `json:"result_id"`
	Descriptor     string              `json:"descriptor"`
	TaskOrigin     model.TaskOrigin    `json:"task_origin"`
	TestName       model.TestType      `json:"test_name"`
	StartTime      time.Time           `json:"start_time"`
	Runtime        float64             `json:"runtime"`
	IsFailed       bool                `json:"is_failed"`
	IsAnomaly      bool                `json:"is_anomaly"`
	IsUploaded     bool                `json:"is_uploaded"`
	FailureMessage string              `json:"failure_message,omitempty"`
	ReportID       string              `json:"report_id,omitempty"`
	UID            string              `json:"measurement_uid,omitempty"`
	TestKeys       json.RawMessage     `json:"test_keys,omitempty"`
}

func newMeasurementDocument(result model.Result, m model.Measurement) measurementDocument {
	doc := measurementDocument{
		MeasurementID:  m.ID,
		ResultID:       result.ID,
		Descriptor:     result.DescriptorName,
		TaskOrigin:     result.TaskOrigin,
		TestName:       m.TestName,
		StartTime:      m.StartTime,
		Runtime:        m.Runtime,
		IsFailed:       m.IsFailed,
		IsAnomaly:      m.IsAnomaly,
		IsUploaded:     m.IsUploaded,
		FailureMessage: m.FailureMessage,
		ReportID:       m.ReportID,
		UID:            m.UID,
	}

	if json.Valid([]byte(m.TestKeys)) {
		doc.TestKeys = json.RawMessage(m.TestKeys)
	}

	return doc
}

func (h *ElasticSearchHook) MeasurementFinishedAsync(result model.Result, m model.Measurement) {
	body, err := json.Marshal(newMeasurementDocument(result, m))
	if err != nil {
		h.log.Error("unable to encode measurement document", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := h.client.Index(h.index, bytes.NewReader(body),
		h.client.Index.WithContext(ctx),
		h.client.Index.WithDocumentID(strconv.FormatInt(int64(m.ID), 10)),
	)
	if err != nil {
		h.log.Warn("unable to index measurement", "measurement-id", m.ID, "error", err)
		return
	}
	defer res.Body.Close()

	if res.IsError() {
		h.log.Warn("unable to index measurement", "measurement-id", m.ID, "status", res.Status())
	}
}
