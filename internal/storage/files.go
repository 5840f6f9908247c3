package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"

	"github.com/raphi011/proberun/internal/model"
)

// Files stores raw report bodies and task logs on disk. Reports are
// written to `<dir>/reports/<measurement id>.json`, logs to
// `<dir>/logs/<result id>-<test name>.log`.
type Files struct {
	dir string
}

func NewFiles(dir string) (*Files, error) {
	for _, sub := range []string{"reports", "logs"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o750); err != nil {
			return nil, fmt.Errorf("creating %s directory: %w", sub, err)
		}
	}

	return &Files{dir: dir}, nil
}

func (f *Files) ReportPath(m model.Measurement) string {
	return filepath.Join(f.dir, "reports", m.ReportFileName())
}

func (f *Files) LogPath(resultID model.ResultID, test model.TestType) string {
	return filepath.Join(f.dir, "logs", strconv.FormatInt(int64(resultID), 10)+"-"+string(test)+".log")
}

func (f *Files) WriteReport(m model.Measurement, body string) error {
	if err := os.WriteFile(f.ReportPath(m), []byte(body), 0o640); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}

	return nil
}

// ReadReport returns the report body of the measurement. A missing report
// yields model.NotFoundError.
func (f *Files) ReadReport(m model.Measurement) (string, error) {
	b, err := os.ReadFile(f.ReportPath(m))
	if errors.Is(err, fs.ErrNotExist) {
		return "", model.NotFoundError{}
	} else if err != nil {
		return "", fmt.Errorf("reading report: %w", err)
	}

	return string(b), nil
}

// DeleteReport removes the report of the measurement. Missing reports are
// ignored.
func (f *Files) DeleteReport(m model.Measurement) error {
	err := os.Remove(f.ReportPath(m))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("deleting report: %w", err)
	}

	return nil
}

func (f *Files) ReportExists(m model.Measurement) bool {
	_, err := os.Stat(f.ReportPath(m))
	return err == nil
}

func (f *Files) AppendLog(resultID model.ResultID, test model.TestType, line string) error {
	file, err := os.OpenFile(f.LogPath(resultID, test), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("opening log file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(line + "\n"); err != nil {
		return fmt.Errorf("writing log file: %w", err)
	}

	return nil
}

func (f *Files) ReadLog(resultID model.ResultID, test model.TestType) (string, error) {
	b, err := os.ReadFile(f.LogPath(resultID, test))
	if errors.Is(err, fs.ErrNotExist) {
		return "", model.NotFoundError{}
	} else if err != nil {
		return "", fmt.Errorf("reading log file: %w", err)
	}

	return string(b), nil
}

// DeleteLogs removes the logs of every test of a result.
func (f *Files) DeleteLogs(resultID model.ResultID) error {
	dir := filepath.Join(f.dir, "logs")

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("listing log files: %w", err)
	}

	prefix := strconv.FormatInt(int64(resultID), 10) + "-"

	var errs []error

	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}

		err := os.Remove(filepath.Join(dir, e.Name()))
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
