package engine

import "context"

// Bridge is the native measurement engine.
type Bridge interface {
	StartTask(settings []byte) (Task, error)
	NewSession(config SessionConfig) (Session, error)
}

// Task is a running measurement task. WaitForNextEvent blocks until the
// next serialized event is available.
type Task interface {
	WaitForNextEvent() ([]byte, error)
	IsDone() bool
	Interrupt()
}

type Session interface {
	SubmitMeasurement(ctx context.Context, measurement string) (SubmitResult, error)
	CheckIn(ctx context.Context, config CheckInConfig) (CheckInResult, error)
	Close() error
}

type SessionConfig struct {
	SoftwareName     string `json:"software_name"`
	SoftwareVersion  string `json:"software_version"`
	Proxy            string `json:"proxy,omitempty"`
	ProbeServicesURL string `json:"probe_services_url,omitempty"`
	AssetsDir        string `json:"assets_dir"`
	StateDir         string `json:"state_dir"`
	TempDir          string `json:"temp_dir"`
	TunnelDir        string `json:"tunnel_dir"`
	Verbose          bool   `json:"verbose"`
}

type SubmitResult struct {
	UpdatedMeasurement string `json:"updated_measurement,omitempty"`
	UpdatedReportID    string `json:"updated_report_id"`
	MeasurementUID     string `json:"measurement_uid,omitempty"`
}

type CheckInConfig struct {
	Charging                  bool     `json:"charging"`
	OnWiFi                    bool     `json:"on_wifi"`
	Platform                  string   `json:"platform"`
	RunType                   string   `json:"run_type"`
	SoftwareName              string   `json:"software_name"`
	SoftwareVersion           string   `json:"software_version"`
	WebConnectivityCategories []string `json:"web_connectivity_categories"`
}

type CheckInResult struct {
	ReportID string    `json:"report_id,omitempty"`
	URLs     []URLInfo `json:"urls"`
}

type URLInfo struct {
	URL          string `json:"url"`
	CategoryCode string `json:"category_code,omitempty"`
	CountryCode  string `json:"country_code,omitempty"`
}
