package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/raphi011/proberun/internal/model"
)

type measurementRow struct {
	ID                   int64         `db:"id"`
	TestName             string        `db:"test_name"`
	StartTime            string        `db:"start_time"`
	Runtime              float64       `db:"runtime"`
	IsDone               bool          `db:"is_done"`
	IsUploaded           bool          `db:"is_uploaded"`
	IsFailed             bool          `db:"is_failed"`
	FailureMessage       string        `db:"failure_message"`
	IsUploadFailed       bool          `db:"is_upload_failed"`
	UploadFailureMessage string        `db:"upload_failure_message"`
	IsRerun              bool          `db:"is_rerun"`
	IsAnomaly            bool          `db:"is_anomaly"`
	ReportID             string        `db:"report_id"`
	UID                  string        `db:"uid"`
	TestKeys             string        `db:"test_keys"`
	RerunNetwork         string        `db:"rerun_network"`
	URLID                sql.NullInt64 `db:"url_id"`
	ResultID             sql.NullInt64 `db:"result_id"`
}

const measurementColumns = `id, test_name, start_time, runtime, is_done, is_uploaded, is_failed, failure_message,
	is_upload_failed, upload_failure_message, is_rerun, is_anomaly, report_id, uid, test_keys, rerun_network, url_id, result_id`

func (r measurementRow) toModel() (model.Measurement, error) {
	start, err := parseDate(r.StartTime)
	if err != nil {
		return model.Measurement{}, fmt.Errorf("parsing start time: %w", err)
	}

	m := model.Measurement{
		ID:                   model.MeasurementID(r.ID),
		TestName:             model.TestType(r.TestName),
		StartTime:            start,
		Runtime:              r.Runtime,
		IsDone:               r.IsDone,
		IsUploaded:           r.IsUploaded,
		IsFailed:             r.IsFailed,
		FailureMessage:       r.FailureMessage,
		IsUploadFailed:       r.IsUploadFailed,
		UploadFailureMessage: r.UploadFailureMessage,
		IsRerun:              r.IsRerun,
		IsAnomaly:            r.IsAnomaly,
		ReportID:             r.ReportID,
		UID:                  r.UID,
		TestKeys:             r.TestKeys,
		RerunNetwork:         r.RerunNetwork,
	}

	if r.URLID.Valid {
		id := model.URLID(r.URLID.Int64)
		m.URLID = &id
	}

	if r.ResultID.Valid {
		id := model.ResultID(r.ResultID.Int64)
		m.ResultID = &id
	}

	return m, nil
}

func measurementArgs(m model.Measurement) map[string]any {
	var urlID, resultID any

	if m.URLID != nil {
		urlID = int64(*m.URLID)
	}

	if m.ResultID != nil {
		resultID = int64(*m.ResultID)
	}

	return map[string]any{
		"id":                     int64(m.ID),
		"test_name":              string(m.TestName),
		"start_time":             timeFormat(m.StartTime),
		"runtime":                m.Runtime,
		"is_done":                m.IsDone,
		"is_uploaded":            m.IsUploaded,
		"is_failed":              m.IsFailed,
		"failure_message":        m.FailureMessage,
		"is_upload_failed":       m.IsUploadFailed,
		"upload_failure_message": m.UploadFailureMessage,
		"is_rerun":               m.IsRerun,
		"is_anomaly":             m.IsAnomaly,
		"report_id":              m.ReportID,
		"uid":                    m.UID,
		"test_keys":              m.TestKeys,
		"rerun_network":          m.RerunNetwork,
		"url_id":                 urlID,
		"result_id":              resultID,
	}
}

func (s *Storage) InsertMeasurement(ctx context.Context, m model.Measurement) (model.MeasurementID, error) {
	db := s.getDB(ctx)

	res, err := db.NamedExecContext(ctx, `INSERT INTO measurement
	(test_name, start_time, runtime, is_done, is_uploaded, is_failed, failure_message, is_upload_failed, upload_failure_message,
	 is_rerun, is_anomaly, report_id, uid, test_keys, rerun_network, url_id, result_id) VALUES
	(:test_name, :start_time, :runtime, :is_done, :is_uploaded, :is_failed, :failure_message, :is_upload_failed, :upload_failure_message,
	 :is_rerun, :is_anomaly, :report_id, :uid, :test_keys, :rerun_network, :url_id, :result_id)`,
		measurementArgs(m))
	if err != nil {
		return 0, fmt.Errorf("inserting measurement: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("retrieving inserted measurement id: %w", err)
	}

	return model.MeasurementID(id), nil
}

func (s *Storage) UpdateMeasurement(ctx context.Context, m model.Measurement) error {
	db := s.getDB(ctx)

	res, err := db.NamedExecContext(ctx, `UPDATE measurement SET
	start_time=:start_time, runtime=:runtime, is_done=:is_done, is_uploaded=:is_uploaded, is_failed=:is_failed,
	failure_message=:failure_message, is_upload_failed=:is_upload_failed, upload_failure_message=:upload_failure_message,
	is_rerun=:is_rerun, is_anomaly=:is_anomaly, report_id=:report_id, uid=:uid, test_keys=:test_keys,
	rerun_network=:rerun_network, url_id=:url_id
	WHERE id=:id`,
		measurementArgs(m))
	if err != nil {
		return fmt.Errorf("update statement failed: %w", err)
	}

	if affected, _ := res.RowsAffected(); affected != 1 {
		return model.NotFoundError{}
	}

	return nil
}

func (s *Storage) LoadMeasurement(ctx context.Context, id model.MeasurementID) (model.Measurement, error) {
	db := s.getDB(ctx)

	var row measurementRow
	if err := db.GetContext(ctx, &row, `SELECT `+measurementColumns+` FROM measurement WHERE id=?`, int64(id)); err != nil {
		return model.Measurement{}, notFound(err)
	}

	return row.toModel()
}

func (s *Storage) LoadMeasurementsByResult(ctx context.Context, id model.ResultID) ([]model.Measurement, error) {
	return s.selectMeasurements(ctx, `SELECT `+measurementColumns+` FROM measurement WHERE result_id=? ORDER BY id`, int64(id))
}

// ListMeasurementsNotUploaded returns the measurements that are done but
// not uploaded yet, restricted by filter.
func (s *Storage) ListMeasurementsNotUploaded(ctx context.Context, filter model.MeasurementsFilter) ([]model.Measurement, error) {
	query := `SELECT ` + measurementColumns + ` FROM measurement WHERE is_done=1 AND is_uploaded=0`

	switch f := filter.(type) {
	case nil, model.AllMeasurements:
		return s.selectMeasurements(ctx, query+` ORDER BY id`)
	case model.ResultMeasurements:
		return s.selectMeasurements(ctx, query+` AND result_id=? ORDER BY id`, int64(f.ResultID))
	case model.SingleMeasurement:
		return s.selectMeasurements(ctx, query+` AND id=?`, int64(f.MeasurementID))
	}

	return nil, fmt.Errorf("unsupported measurements filter %T", filter)
}

// CountMeasurementsMissingUpload counts done measurements that were not
// uploaded yet.
func (s *Storage) CountMeasurementsMissingUpload(ctx context.Context) (int64, error) {
	db := s.getDB(ctx)

	var count int64
	if err := db.GetContext(ctx, &count, `SELECT COUNT(*) FROM measurement WHERE is_done=1 AND is_uploaded=0`); err != nil {
		return 0, fmt.Errorf("counting measurements missing upload: %w", err)
	}

	return count, nil
}

// ListMeasurementsWithoutResult returns measurements whose result was
// removed.
func (s *Storage) ListMeasurementsWithoutResult(ctx context.Context) ([]model.Measurement, error) {
	return s.selectMeasurements(ctx, `SELECT `+measurementColumns+` FROM measurement WHERE result_id IS NULL ORDER BY id`)
}

func (s *Storage) DeleteMeasurements(ctx context.Context, ids []model.MeasurementID) error {
	if len(ids) == 0 {
		return nil
	}

	raw := make([]int64, 0, len(ids))
	for _, id := range ids {
		raw = append(raw, int64(id))
	}

	query, args, err := sqlx.In(`DELETE FROM measurement WHERE id IN (?)`, raw)
	if err != nil {
		return fmt.Errorf("building delete statement: %w", err)
	}

	db := s.getDB(ctx)

	if _, err := db.ExecContext(ctx, db.Rebind(query), args...); err != nil {
		return fmt.Errorf("deleting measurements %s: %w", joinIDs(raw), err)
	}

	return nil
}

func (s *Storage) selectMeasurements(ctx context.Context, query string, args ...any) ([]model.Measurement, error) {
	db := s.getDB(ctx)

	rows := []measurementRow{}
	if err := db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("loading measurements: %w", err)
	}

	measurements := make([]model.Measurement, 0, len(rows))
	for _, r := range rows {
		m, err := r.toModel()
		if err != nil {
			return nil, err
		}
		measurements = append(measurements, m)
	}

	return measurements, nil
}

func joinIDs(ids []int64) string {
	s := make([]string, 0, len(ids))
	for _, id := range ids {
		s = append(s, fmt.Sprint(id))
	}

	return strings.Join(s, ",")
}
