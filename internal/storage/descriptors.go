package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/raphi011/proberun/internal/model"
)

type descriptorRow struct {
	ID               string `db:"id"`
	Revision         int64  `db:"revision"`
	Name             string `db:"name"`
	Title            string `db:"title"`
	ShortDescription string `db:"short_description"`
	NetTests         string `db:"net_tests"`
	LongRunningTests string `db:"long_running_tests"`
	ExpirationDate   string `db:"expiration_date"`
	DateInstalled    string `db:"date_installed"`
	AutoUpdate       bool   `db:"auto_update"`
}

const descriptorColumns = `id, revision, name, title, short_description, net_tests, long_running_tests,
	expiration_date, date_installed, auto_update`

func (r descriptorRow) toModel() (model.Descriptor, error) {
	d := model.Descriptor{
		Name:             r.Name,
		Source:           model.InstalledSource{ID: model.DescriptorID(r.ID)},
		Revision:         r.Revision,
		Title:            r.Title,
		ShortDescription: r.ShortDescription,
		AutoUpdate:       r.AutoUpdate,
	}

	if err := json.Unmarshal([]byte(r.NetTests), &d.NetTests); err != nil {
		return model.Descriptor{}, fmt.Errorf("unmarshaling net tests: %w", err)
	}

	if err := json.Unmarshal([]byte(r.LongRunningTests), &d.LongRunningTests); err != nil {
		return model.Descriptor{}, fmt.Errorf("unmarshaling long running tests: %w", err)
	}

	var err error
	if d.ExpirationDate, err = optionalDate(r.ExpirationDate); err != nil {
		return model.Descriptor{}, fmt.Errorf("parsing expiration date: %w", err)
	}

	if d.DateInstalled, err = optionalDate(r.DateInstalled); err != nil {
		return model.Descriptor{}, fmt.Errorf("parsing installation date: %w", err)
	}

	return d, nil
}

// SaveDescriptor installs a new revision of an installed descriptor. A
// zero revision is replaced by the next free revision of the descriptor.
func (s *Storage) SaveDescriptor(ctx context.Context, d model.Descriptor) (model.Descriptor, error) {
	id, ok := d.InstalledID()
	if !ok {
		return model.Descriptor{}, fmt.Errorf("descriptor %s is not installable", d.Name)
	}

	netTests, err := json.Marshal(nonNil(d.NetTests))
	if err != nil {
		return model.Descriptor{}, fmt.Errorf("unable to marshal net tests: %w", err)
	}

	longRunningTests, err := json.Marshal(nonNil(d.LongRunningTests))
	if err != nil {
		return model.Descriptor{}, fmt.Errorf("unable to marshal long running tests: %w", err)
	}

	ctx, err = s.StartTransaction(ctx)
	if err != nil {
		return model.Descriptor{}, fmt.Errorf("starting transaction: %w", err)
	}
	defer s.RollbackTransaction(ctx)

	db := s.getDB(ctx)

	if d.Revision == 0 {
		var latest int64
		if err := db.GetContext(ctx, &latest, `SELECT COALESCE(MAX(revision), 0) FROM descriptor WHERE id=?`, string(id)); err != nil {
			return model.Descriptor{}, fmt.Errorf("loading latest revision: %w", err)
		}
		d.Revision = latest + 1
	}

	if d.DateInstalled == nil {
		now := time.Now().UTC()
		d.DateInstalled = &now
	}

	expiration := ""
	if d.ExpirationDate != nil {
		expiration = timeFormat(*d.ExpirationDate)
	}

	_, err = db.NamedExecContext(ctx, `INSERT INTO descriptor
	(id, revision, name, title, short_description, net_tests, long_running_tests, expiration_date, date_installed, auto_update) VALUES
	(:id, :revision, :name, :title, :short_description, :net_tests, :long_running_tests, :expiration_date, :date_installed, :auto_update)`,
		map[string]any{
			"id":                 string(id),
			"revision":           d.Revision,
			"name":               d.Name,
			"title":              d.Title,
			"short_description":  d.ShortDescription,
			"net_tests":          string(netTests),
			"long_running_tests": string(longRunningTests),
			"expiration_date":    expiration,
			"date_installed":     timeFormat(*d.DateInstalled),
			"auto_update":        d.AutoUpdate,
		})
	if err != nil {
		if isConstraintError(err) {
			return model.Descriptor{}, model.DuplicateError{}
		}
		return model.Descriptor{}, fmt.Errorf("inserting descriptor: %w", err)
	}

	if err := s.CommitTransaction(ctx); err != nil {
		return model.Descriptor{}, fmt.Errorf("committing descriptor: %w", err)
	}

	return d, nil
}

// LoadDescriptors returns the latest revision of every installed
// descriptor.
func (s *Storage) LoadDescriptors(ctx context.Context) ([]model.Descriptor, error) {
	db := s.getDB(ctx)

	rows := []descriptorRow{}
	err := db.SelectContext(ctx, &rows, `SELECT `+descriptorColumns+` FROM descriptor d
	WHERE revision = (SELECT MAX(revision) FROM descriptor WHERE id = d.id)
	ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("loading descriptors: %w", err)
	}

	descriptors := make([]model.Descriptor, 0, len(rows))
	for _, r := range rows {
		d, err := r.toModel()
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, d)
	}

	return descriptors, nil
}

// LoadDescriptor returns the latest revision of an installed descriptor.
func (s *Storage) LoadDescriptor(ctx context.Context, id model.DescriptorID) (model.Descriptor, error) {
	db := s.getDB(ctx)

	var row descriptorRow
	err := db.GetContext(ctx, &row, `SELECT `+descriptorColumns+` FROM descriptor
	WHERE id=? ORDER BY revision DESC LIMIT 1`, string(id))
	if err != nil {
		return model.Descriptor{}, notFound(err)
	}

	return row.toModel()
}

func (s *Storage) DeleteDescriptor(ctx context.Context, id model.DescriptorID) error {
	db := s.getDB(ctx)

	res, err := db.ExecContext(ctx, `DELETE FROM descriptor WHERE id=?`, string(id))
	if err != nil {
		return fmt.Errorf("deleting descriptor: %w", err)
	}

	if affected, _ := res.RowsAffected(); affected == 0 {
		return model.NotFoundError{}
	}

	return nil
}

func optionalDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}

	t, err := parseDate(s)
	if err != nil {
		return nil, err
	}

	return &t, nil
}

func nonNil(tests []model.NetTest) []model.NetTest {
	if tests == nil {
		return []model.NetTest{}
	}

	return tests
}
