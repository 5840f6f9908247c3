package storage

import (
	"context"
	"fmt"
	"strings"
)

// LoadSetting returns the raw value of a setting.
func (s *Storage) LoadSetting(ctx context.Context, key string) (string, error) {
	db := s.getDB(ctx)

	var value string
	if err := db.GetContext(ctx, &value, `SELECT value FROM setting WHERE key=?`, key); err != nil {
		return "", notFound(err)
	}

	return value, nil
}

func (s *Storage) SaveSetting(ctx context.Context, key, value string) error {
	db := s.getDB(ctx)

	_, err := db.NamedExecContext(ctx, `INSERT INTO setting (key, value) VALUES (:key, :value)
	ON CONFLICT (key) DO UPDATE SET value=excluded.value`,
		map[string]any{"key": key, "value": value})
	if err != nil {
		return fmt.Errorf("saving setting %s: %w", key, err)
	}

	return nil
}

// LoadSettings returns all stored settings.
func (s *Storage) LoadSettings(ctx context.Context) (map[string]string, error) {
	db := s.getDB(ctx)

	rows := []struct {
		Key   string `db:"key"`
		Value string `db:"value"`
	}{}

	if err := db.SelectContext(ctx, &rows, `SELECT key, value FROM setting`); err != nil {
		return nil, fmt.Errorf("loading settings: %w", err)
	}

	settings := make(map[string]string, len(rows))
	for _, r := range rows {
		settings[r.Key] = r.Value
	}

	return settings, nil
}

func isConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
