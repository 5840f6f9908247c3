// Package settings reads and writes the persisted user settings and
// applies their defaults.
package settings

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/raphi011/proberun/internal/engine"
	"github.com/raphi011/proberun/internal/model"
)

const (
	KeyAutomatedTestingEnabled  = "automated_testing_enabled"
	KeyAutomatedTestingWifiOnly = "automated_testing_wifionly"
	KeyAutomatedTestingCharging = "automated_testing_charging"
	KeyNotUploadedLimit         = "automated_testing_not_uploaded_limit"
	KeyUploadResults            = "upload_results"
	KeyMaxRuntimeEnabled        = "max_runtime_enabled"
	KeyMaxRuntime               = "max_runtime"
	KeyDebugLogs                = "debug_logs"
	KeyProxy                    = "proxy"
)

const (
	DefaultNotUploadedLimit = 50
	DefaultMaxRuntime       = 90 * time.Second
)

var defaults = map[string]string{
	KeyAutomatedTestingEnabled:  "false",
	KeyAutomatedTestingWifiOnly: "true",
	KeyAutomatedTestingCharging: "true",
	KeyNotUploadedLimit:         strconv.Itoa(DefaultNotUploadedLimit),
	KeyUploadResults:            "true",
	KeyMaxRuntimeEnabled:        "true",
	KeyMaxRuntime:               strconv.Itoa(int(DefaultMaxRuntime.Seconds())),
	KeyDebugLogs:                "false",
	KeyProxy:                    "",
}

type validator func(string) error

var validators = map[string]validator{
	KeyAutomatedTestingEnabled:  isBool,
	KeyAutomatedTestingWifiOnly: isBool,
	KeyAutomatedTestingCharging: isBool,
	KeyNotUploadedLimit:         isInt,
	KeyUploadResults:            isBool,
	KeyMaxRuntimeEnabled:        isBool,
	KeyMaxRuntime:               isInt,
	KeyDebugLogs:                isBool,
	KeyProxy:                    func(string) error { return nil },
}

// UnknownKeyError is returned for settings that don't exist.
type UnknownKeyError struct {
	Key string
}

func (e UnknownKeyError) Error() string {
	return "unknown setting " + e.Key
}

// InvalidValueError is returned when a value doesn't match the type of the
// setting.
type InvalidValueError struct {
	Key   string
	Value string
}

func (e InvalidValueError) Error() string {
	return fmt.Sprintf("invalid value %q for setting %s", e.Value, e.Key)
}

// Repository persists raw setting values.
type Repository interface {
	LoadSetting(ctx context.Context, key string) (string, error)
	SaveSetting(ctx context.Context, key, value string) error
	LoadSettings(ctx context.Context) (map[string]string, error)
}

type Store struct {
	repo Repository
}

func New(repo Repository) *Store {
	return &Store{repo: repo}
}

// Keys returns all known setting keys, sorted.
func Keys() []string {
	keys := maps.Keys(defaults)
	slices.Sort(keys)
	return keys
}

// Get returns the value of a setting, falling back to its default.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	def, ok := defaults[key]
	if !ok {
		return "", UnknownKeyError{Key: key}
	}

	var notFound model.NotFoundError

	v, err := s.repo.LoadSetting(ctx, key)
	if errors.As(err, &notFound) {
		return def, nil
	} else if err != nil {
		return "", err
	}

	return v, nil
}

// Set validates and stores a setting.
func (s *Store) Set(ctx context.Context, key, value string) error {
	validate, ok := validators[key]
	if !ok {
		return UnknownKeyError{Key: key}
	}

	if err := validate(value); err != nil {
		return InvalidValueError{Key: key, Value: value}
	}

	return s.repo.SaveSetting(ctx, key, value)
}

// All returns every setting with defaults applied.
func (s *Store) All(ctx context.Context) (map[string]string, error) {
	stored, err := s.repo.LoadSettings(ctx)
	if err != nil {
		return nil, err
	}

	all := maps.Clone(defaults)
	for k, v := range stored {
		if _, ok := all[k]; ok {
			all[k] = v
		}
	}

	return all, nil
}

func (s *Store) Bool(ctx context.Context, key string) (bool, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}

	b, err := strconv.ParseBool(v)
	if err != nil {
		return strconv.ParseBool(defaults[key])
	}

	return b, nil
}

func (s *Store) Int(ctx context.Context, key string) (int, error) {
	v, err := s.Get(ctx, key)
	if err != nil {
		return 0, err
	}

	i, err := strconv.Atoi(v)
	if err != nil {
		return strconv.Atoi(defaults[key])
	}

	return i, nil
}

// AutoRun are the settings constraining unattended runs.
type AutoRun struct {
	Enabled           bool
	WifiOnly          bool
	OnlyWhileCharging bool
}

func (s *Store) AutoRun(ctx context.Context) (AutoRun, error) {
	var a AutoRun
	var err error

	if a.Enabled, err = s.Bool(ctx, KeyAutomatedTestingEnabled); err != nil {
		return AutoRun{}, err
	}
	if a.WifiOnly, err = s.Bool(ctx, KeyAutomatedTestingWifiOnly); err != nil {
		return AutoRun{}, err
	}
	if a.OnlyWhileCharging, err = s.Bool(ctx, KeyAutomatedTestingCharging); err != nil {
		return AutoRun{}, err
	}

	return a, nil
}

// NotUploadedLimit is the backlog size at which unattended runs are
// skipped. It is at least 1.
func (s *Store) NotUploadedLimit(ctx context.Context) (int, error) {
	limit, err := s.Int(ctx, KeyNotUploadedLimit)
	if err != nil {
		return 0, err
	}

	return max(limit, 1), nil
}

func (s *Store) UploadResults(ctx context.Context) (bool, error) {
	return s.Bool(ctx, KeyUploadResults)
}

// MaxRuntime returns the runtime limit of tests with inputs, zero if it is
// disabled.
func (s *Store) MaxRuntime(ctx context.Context) (time.Duration, error) {
	enabled, err := s.Bool(ctx, KeyMaxRuntimeEnabled)
	if err != nil || !enabled {
		return 0, err
	}

	seconds, err := s.Int(ctx, KeyMaxRuntime)
	if err != nil {
		return 0, err
	}

	if seconds <= 0 {
		return 0, nil
	}

	return time.Duration(seconds) * time.Second, nil
}

// EnginePreferences collects the settings passed on to the engine.
func (s *Store) EnginePreferences(ctx context.Context) (engine.Preferences, error) {
	upload, err := s.UploadResults(ctx)
	if err != nil {
		return engine.Preferences{}, err
	}

	maxRuntime, err := s.MaxRuntime(ctx)
	if err != nil {
		return engine.Preferences{}, err
	}

	debug, err := s.Bool(ctx, KeyDebugLogs)
	if err != nil {
		return engine.Preferences{}, err
	}

	proxy, err := s.Get(ctx, KeyProxy)
	if err != nil {
		return engine.Preferences{}, err
	}

	logLevel := "INFO"
	if debug {
		logLevel = "DEBUG2"
	}

	return engine.Preferences{
		UploadResults: upload,
		MaxRuntime:    maxRuntime,
		TaskLogLevel:  logLevel,
		Proxy:         proxy,
	}, nil
}

func isBool(v string) error {
	_, err := strconv.ParseBool(v)
	return err
}

func isInt(v string) error {
	_, err := strconv.Atoi(v)
	return err
}
