package storage_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphi011/proberun/internal/model"
	"github.com/raphi011/proberun/internal/storage"
)

func newStorage(t *testing.T) *storage.Storage {
	t.Helper()

	s, err := storage.New("", slog.Default())
	require.NoError(t, err, "creating new storage instance should succeed")

	t.Cleanup(func() { _ = s.Close() })

	return s
}

func TestResultLifecycle(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	id, err := s.InsertResult(ctx, model.Result{
		DescriptorName: "websites",
		StartTime:      time.Now(),
		TaskOrigin:     model.TaskOriginOoniRun,
	})
	require.NoError(t, err)

	r, err := s.LoadResult(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "websites", r.DescriptorName)
	assert.False(t, r.IsDone)

	r.AppendFailure("startup failed")
	r.DataUsageDown = 10
	require.NoError(t, s.UpdateResult(ctx, r))

	done, err := s.MarkResultDone(ctx, id)
	require.NoError(t, err)
	assert.True(t, done)

	done, err = s.MarkResultDone(ctx, id)
	require.NoError(t, err)
	assert.False(t, done, "a result is only marked done once")

	r, err = s.LoadResult(ctx, id)
	require.NoError(t, err)
	assert.True(t, r.IsDone)
	assert.Equal(t, "startup failed", r.FailureMessage)
	assert.Equal(t, int64(10), r.DataUsageDown)
}

func TestLoadMissingResult(t *testing.T) {
	s := newStorage(t)

	_, err := s.LoadResult(context.Background(), 42)

	assert.ErrorIs(t, err, model.NotFoundError{})
}

func TestResultsAreOrderedByStartTime(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	earlier := time.Date(2024, 6, 1, 10, 0, 0, 100_000_000, time.UTC)
	later := time.Date(2024, 6, 1, 10, 0, 0, 150_000_000, time.UTC)

	_, err := s.InsertResult(ctx, model.Result{DescriptorName: "later", StartTime: later, TaskOrigin: model.TaskOriginOoniRun})
	require.NoError(t, err)
	_, err = s.InsertResult(ctx, model.Result{DescriptorName: "earlier", StartTime: earlier, TaskOrigin: model.TaskOriginOoniRun})
	require.NoError(t, err)

	results, err := s.LoadResults(ctx, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "later", results[0].DescriptorName)
	assert.Equal(t, "earlier", results[1].DescriptorName)

	latest, err := s.LatestResultStart(ctx)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.True(t, later.Equal(*latest), "expected %s, got %s", later, latest)
}

func TestUpdateResultKeepsViewedFlag(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	id, err := s.InsertResult(ctx, model.Result{DescriptorName: "websites", StartTime: time.Now(), TaskOrigin: model.TaskOriginOoniRun})
	require.NoError(t, err)

	stale, err := s.LoadResult(ctx, id)
	require.NoError(t, err)

	require.NoError(t, s.MarkResultViewed(ctx, id))

	stale.DataUsageUp = 3
	require.NoError(t, s.UpdateResult(ctx, stale))

	r, err := s.LoadResult(ctx, id)
	require.NoError(t, err)
	assert.True(t, r.IsViewed)
	assert.Equal(t, int64(3), r.DataUsageUp)
}

func TestMarkAllResultsDone(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	first, err := s.InsertResult(ctx, model.Result{DescriptorName: "a", StartTime: time.Now(), TaskOrigin: model.TaskOriginAutoRun})
	require.NoError(t, err)
	second, err := s.InsertResult(ctx, model.Result{DescriptorName: "b", StartTime: time.Now(), TaskOrigin: model.TaskOriginAutoRun})
	require.NoError(t, err)

	_, err = s.MarkResultDone(ctx, first)
	require.NoError(t, err)

	ids, err := s.MarkAllResultsDone(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.ResultID{second}, ids)

	ids, err = s.MarkAllResultsDone(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSaveNetworkDeduplicates(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	n := model.Network{NetworkName: "Vodafone", ASN: "AS30722", CountryCode: "IT", NetworkType: model.NetworkTypeWifi}

	first, err := s.SaveNetwork(ctx, n)
	require.NoError(t, err)

	second, err := s.SaveNetwork(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	n.NetworkType = model.NetworkTypeMobile
	third, err := s.SaveNetwork(ctx, n)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)

	loaded, err := s.LoadNetwork(ctx, third)
	require.NoError(t, err)
	assert.Equal(t, model.NetworkTypeMobile, loaded.NetworkType)
}

func TestMeasurementsNotUploaded(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	resultID, err := s.InsertResult(ctx, model.Result{DescriptorName: "websites", StartTime: time.Now(), TaskOrigin: model.TaskOriginOoniRun})
	require.NoError(t, err)

	done, err := s.InsertMeasurement(ctx, model.Measurement{TestName: model.TestTypeSignal, IsDone: true, ResultID: &resultID})
	require.NoError(t, err)
	_, err = s.InsertMeasurement(ctx, model.Measurement{TestName: model.TestTypeSignal, ResultID: &resultID})
	require.NoError(t, err)
	_, err = s.InsertMeasurement(ctx, model.Measurement{TestName: model.TestTypeSignal, IsDone: true, IsUploaded: true, ResultID: &resultID})
	require.NoError(t, err)

	pending, err := s.ListMeasurementsNotUploaded(ctx, model.AllMeasurements{})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, done, pending[0].ID)

	pending, err = s.ListMeasurementsNotUploaded(ctx, model.ResultMeasurements{ResultID: resultID + 1})
	require.NoError(t, err)
	assert.Empty(t, pending)

	pending, err = s.ListMeasurementsNotUploaded(ctx, model.SingleMeasurement{MeasurementID: done})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	count, err := s.CountMeasurementsMissingUpload(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestOrphanedMeasurements(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	resultID, err := s.InsertResult(ctx, model.Result{DescriptorName: "websites", StartTime: time.Now(), TaskOrigin: model.TaskOriginOoniRun})
	require.NoError(t, err)

	id, err := s.InsertMeasurement(ctx, model.Measurement{TestName: model.TestTypeWebConnectivity, ResultID: &resultID})
	require.NoError(t, err)

	require.NoError(t, s.DeleteResult(ctx, resultID))

	orphans, err := s.ListMeasurementsWithoutResult(ctx)
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, id, orphans[0].ID)

	require.NoError(t, s.DeleteMeasurements(ctx, []model.MeasurementID{id}))

	_, err = s.LoadMeasurement(ctx, id)
	assert.ErrorIs(t, err, model.NotFoundError{})
}

func TestSaveURLs(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	saved, err := s.SaveURLs(ctx, []model.URL{{URL: "https://example.org", CategoryCode: "NEWS"}})
	require.NoError(t, err)
	require.Len(t, saved, 1)

	again, err := s.SaveURLs(ctx, []model.URL{{URL: "https://example.org", CategoryCode: "MMED"}})
	require.NoError(t, err)
	assert.Equal(t, saved[0].ID, again[0].ID)
	assert.Equal(t, "MMED", again[0].CategoryCode)

	u, err := s.URLByURL(ctx, "https://example.org")
	require.NoError(t, err)
	assert.Equal(t, saved[0].ID, u.ID)

	_, err = s.URLByURL(ctx, "https://unknown.org")
	assert.ErrorIs(t, err, model.NotFoundError{})
}

func TestSaveDescriptorRevisions(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	d := model.Descriptor{
		Name:     "My descriptor",
		Source:   model.InstalledSource{ID: "10004"},
		NetTests: []model.NetTest{{Name: model.TestTypeSignal}},
	}

	first, err := s.SaveDescriptor(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Revision)

	d.NetTests = append(d.NetTests, model.NetTest{Name: model.TestTypeTelegram})
	second, err := s.SaveDescriptor(ctx, d)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Revision)

	_, err = s.SaveDescriptor(ctx, second)
	assert.ErrorIs(t, err, model.DuplicateError{})

	all, err := s.LoadDescriptors(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int64(2), all[0].Revision)
	assert.Len(t, all[0].NetTests, 2)

	require.NoError(t, s.DeleteDescriptor(ctx, "10004"))

	_, err = s.LoadDescriptor(ctx, "10004")
	assert.ErrorIs(t, err, model.NotFoundError{})
}

func TestSettings(t *testing.T) {
	s := newStorage(t)
	ctx := context.Background()

	_, err := s.LoadSetting(ctx, "upload_results")
	assert.ErrorIs(t, err, model.NotFoundError{})

	require.NoError(t, s.SaveSetting(ctx, "upload_results", "false"))
	require.NoError(t, s.SaveSetting(ctx, "upload_results", "true"))

	v, err := s.LoadSetting(ctx, "upload_results")
	require.NoError(t, err)
	assert.Equal(t, "true", v)

	all, err := s.LoadSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"upload_results": "true"}, all)
}
