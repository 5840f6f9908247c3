package storage

import (
	"context"
	"fmt"

	"github.com/raphi011/proberun/internal/model"
)

type urlRow struct {
	ID           int64  `db:"id"`
	URL          string `db:"url"`
	CountryCode  string `db:"country_code"`
	CategoryCode string `db:"category_code"`
}

func (r urlRow) toModel() model.URL {
	return model.URL{
		ID:           model.URLID(r.ID),
		URL:          r.URL,
		CountryCode:  r.CountryCode,
		CategoryCode: r.CategoryCode,
	}
}

// SaveURLs upserts the urls by their url string and returns them with
// their ids.
func (s *Storage) SaveURLs(ctx context.Context, urls []model.URL) ([]model.URL, error) {
	db := s.getDB(ctx)

	saved := make([]model.URL, 0, len(urls))

	for _, u := range urls {
		_, err := db.NamedExecContext(ctx, `INSERT INTO url (url, country_code, category_code)
		VALUES (:url, :country_code, :category_code)
		ON CONFLICT (url) DO UPDATE SET country_code=excluded.country_code, category_code=excluded.category_code`,
			map[string]any{
				"url":           u.URL,
				"country_code":  u.CountryCode,
				"category_code": u.CategoryCode,
			})
		if err != nil {
			return nil, fmt.Errorf("saving url %s: %w", u.URL, err)
		}

		var row urlRow
		if err := db.GetContext(ctx, &row, `SELECT id, url, country_code, category_code FROM url WHERE url=?`, u.URL); err != nil {
			return nil, fmt.Errorf("loading url %s: %w", u.URL, err)
		}

		stored := row.toModel()
		s.urls.Save(stored)
		saved = append(saved, stored)
	}

	return saved, nil
}

// URLByURL looks up a stored url.
func (s *Storage) URLByURL(ctx context.Context, url string) (model.URL, error) {
	if u, err := s.urls.Load(url); err == nil {
		return u, nil
	}

	db := s.getDB(ctx)

	var row urlRow
	if err := db.GetContext(ctx, &row, `SELECT id, url, country_code, category_code FROM url WHERE url=?`, url); err != nil {
		return model.URL{}, notFound(err)
	}

	u := row.toModel()
	s.urls.Save(u)

	return u, nil
}

func (s *Storage) LoadURL(ctx context.Context, id model.URLID) (model.URL, error) {
	db := s.getDB(ctx)

	var row urlRow
	if err := db.GetContext(ctx, &row, `SELECT id, url, country_code, category_code FROM url WHERE id=?`, int64(id)); err != nil {
		return model.URL{}, notFound(err)
	}

	return row.toModel(), nil
}
