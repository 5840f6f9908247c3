package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/raphi011/proberun/internal/model"
)

type resultRow struct {
	ID                 int64          `db:"id"`
	DescriptorName     string         `db:"descriptor_name"`
	DescriptorID       sql.NullString `db:"descriptor_id"`
	DescriptorRevision int64          `db:"descriptor_revision"`
	StartTime          string         `db:"start_time"`
	IsDone             bool           `db:"is_done"`
	IsViewed           bool           `db:"is_viewed"`
	DataUsageUp        int64          `db:"data_usage_up"`
	DataUsageDown      int64          `db:"data_usage_down"`
	FailureMessage     string         `db:"failure_message"`
	NetworkID          sql.NullInt64  `db:"network_id"`
	TaskOrigin         string         `db:"task_origin"`
}

const resultColumns = `id, descriptor_name, descriptor_id, descriptor_revision, start_time, is_done, is_viewed,
	data_usage_up, data_usage_down, failure_message, network_id, task_origin`

func (r resultRow) toModel() (model.Result, error) {
	start, err := parseDate(r.StartTime)
	if err != nil {
		return model.Result{}, fmt.Errorf("parsing start time: %w", err)
	}

	result := model.Result{
		ID:                 model.ResultID(r.ID),
		DescriptorName:     r.DescriptorName,
		DescriptorRevision: r.DescriptorRevision,
		StartTime:          start,
		IsDone:             r.IsDone,
		IsViewed:           r.IsViewed,
		DataUsageUp:        r.DataUsageUp,
		DataUsageDown:      r.DataUsageDown,
		FailureMessage:     r.FailureMessage,
		TaskOrigin:         model.TaskOrigin(r.TaskOrigin),
	}

	if r.DescriptorID.Valid {
		id := model.DescriptorID(r.DescriptorID.String)
		result.DescriptorID = &id
	}

	if r.NetworkID.Valid {
		id := model.NetworkID(r.NetworkID.Int64)
		result.NetworkID = &id
	}

	return result, nil
}

func resultArgs(r model.Result) map[string]any {
	var descriptorID, networkID any

	if r.DescriptorID != nil {
		descriptorID = string(*r.DescriptorID)
	}

	if r.NetworkID != nil {
		networkID = int64(*r.NetworkID)
	}

	return map[string]any{
		"id":                  int64(r.ID),
		"descriptor_name":     r.DescriptorName,
		"descriptor_id":       descriptorID,
		"descriptor_revision": r.DescriptorRevision,
		"start_time":          timeFormat(r.StartTime),
		"is_done":             r.IsDone,
		"is_viewed":           r.IsViewed,
		"data_usage_up":       r.DataUsageUp,
		"data_usage_down":     r.DataUsageDown,
		"failure_message":     r.FailureMessage,
		"network_id":          networkID,
		"task_origin":         string(r.TaskOrigin),
	}
}

// InsertResult stores a new result and returns its id.
func (s *Storage) InsertResult(ctx context.Context, r model.Result) (model.ResultID, error) {
	db := s.getDB(ctx)

	res, err := db.NamedExecContext(ctx, `INSERT INTO result
	(descriptor_name, descriptor_id, descriptor_revision, start_time, is_done, is_viewed, data_usage_up, data_usage_down, failure_message, network_id, task_origin) VALUES
	(:descriptor_name, :descriptor_id, :descriptor_revision, :start_time, :is_done, :is_viewed, :data_usage_up, :data_usage_down, :failure_message, :network_id, :task_origin)`,
		resultArgs(r))
	if err != nil {
		return 0, fmt.Errorf("inserting result: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("retrieving inserted result id: %w", err)
	}

	return model.ResultID(id), nil
}

// UpdateResult stores the mutable fields of a result. The done and viewed
// flags are only changed through MarkResultDone and MarkResultViewed.
func (s *Storage) UpdateResult(ctx context.Context, r model.Result) error {
	db := s.getDB(ctx)

	res, err := db.NamedExecContext(ctx, `UPDATE result SET
	start_time=:start_time, data_usage_up=:data_usage_up, data_usage_down=:data_usage_down,
	failure_message=:failure_message, network_id=:network_id
	WHERE id=:id`,
		resultArgs(r))
	if err != nil {
		return fmt.Errorf("update statement failed: %w", err)
	}

	if affected, _ := res.RowsAffected(); affected != 1 {
		return model.NotFoundError{}
	}

	return nil
}

// MarkResultDone marks a result as done. It reports false if the result
// already was done.
func (s *Storage) MarkResultDone(ctx context.Context, id model.ResultID) (bool, error) {
	db := s.getDB(ctx)

	res, err := db.ExecContext(ctx, `UPDATE result SET is_done=1 WHERE id=? AND is_done=0`, int64(id))
	if err != nil {
		return false, fmt.Errorf("marking result done: %w", err)
	}

	affected, _ := res.RowsAffected()

	return affected == 1, nil
}

// MarkAllResultsDone marks every result that is not yet done as done and
// returns their ids.
func (s *Storage) MarkAllResultsDone(ctx context.Context) ([]model.ResultID, error) {
	db := s.getDB(ctx)

	ids := []int64{}
	if err := db.SelectContext(ctx, &ids, `SELECT id FROM result WHERE is_done=0`); err != nil {
		return nil, fmt.Errorf("loading results in progress: %w", err)
	}

	if _, err := db.ExecContext(ctx, `UPDATE result SET is_done=1 WHERE is_done=0`); err != nil {
		return nil, fmt.Errorf("marking results done: %w", err)
	}

	done := make([]model.ResultID, 0, len(ids))
	for _, id := range ids {
		done = append(done, model.ResultID(id))
	}

	return done, nil
}

func (s *Storage) MarkResultViewed(ctx context.Context, id model.ResultID) error {
	db := s.getDB(ctx)

	res, err := db.ExecContext(ctx, `UPDATE result SET is_viewed=1 WHERE id=?`, int64(id))
	if err != nil {
		return fmt.Errorf("marking result viewed: %w", err)
	}

	if affected, _ := res.RowsAffected(); affected != 1 {
		return model.NotFoundError{}
	}

	return nil
}

func (s *Storage) LoadResult(ctx context.Context, id model.ResultID) (model.Result, error) {
	db := s.getDB(ctx)

	var row resultRow
	if err := db.GetContext(ctx, &row, `SELECT `+resultColumns+` FROM result WHERE id=?`, int64(id)); err != nil {
		return model.Result{}, notFound(err)
	}

	return row.toModel()
}

// LoadResults returns the most recent results first.
func (s *Storage) LoadResults(ctx context.Context, limit int) ([]model.Result, error) {
	db := s.getDB(ctx)

	rows := []resultRow{}
	if err := db.SelectContext(ctx, &rows, `SELECT `+resultColumns+` FROM result ORDER BY start_time DESC, id DESC LIMIT ?`, limit); err != nil {
		return nil, fmt.Errorf("loading results: %w", err)
	}

	results := make([]model.Result, 0, len(rows))
	for _, r := range rows {
		result, err := r.toModel()
		if err != nil {
			return nil, err
		}
		results = append(results, result)
	}

	return results, nil
}

// LatestResultStart returns the start time of the most recent result, or
// nil if there are no results.
func (s *Storage) LatestResultStart(ctx context.Context) (*time.Time, error) {
	db := s.getDB(ctx)

	var start sql.NullString
	if err := db.GetContext(ctx, &start, `SELECT MAX(start_time) FROM result`); err != nil {
		return nil, fmt.Errorf("loading latest result: %w", err)
	}

	if !start.Valid || start.String == "" {
		return nil, nil
	}

	t, err := parseDate(start.String)
	if err != nil {
		return nil, fmt.Errorf("parsing start time: %w", err)
	}

	return &t, nil
}

func (s *Storage) DeleteResult(ctx context.Context, id model.ResultID) error {
	db := s.getDB(ctx)

	res, err := db.ExecContext(ctx, `DELETE FROM result WHERE id=?`, int64(id))
	if err != nil {
		return fmt.Errorf("deleting result: %w", err)
	}

	if affected, _ := res.RowsAffected(); affected != 1 {
		return model.NotFoundError{}
	}

	return nil
}
