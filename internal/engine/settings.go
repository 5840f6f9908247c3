package engine

import (
	"time"

	"github.com/raphi011/proberun/internal/model"
)

// Preferences are the user settings that influence how tasks run.
type Preferences struct {
	UploadResults bool
	// MaxRuntime is passed to the engine as a hint, zero means unlimited.
	MaxRuntime           time.Duration
	TaskLogLevel         string
	Proxy                string
	EnabledWebCategories []string
}

// TaskSettings is the serialized task configuration understood by the
// engine.
type TaskSettings struct {
	Name           string      `json:"name"`
	Inputs         []string    `json:"inputs"`
	Version        int         `json:"version"`
	LogLevel       string      `json:"log_level"`
	DisabledEvents []string    `json:"disabled_events"`
	StateDir       string      `json:"state_dir"`
	TempDir        string      `json:"temp_dir"`
	TunnelDir      string      `json:"tunnel_dir"`
	AssetsDir      string      `json:"assets_dir"`
	Options        Options     `json:"options"`
	Annotations    Annotations `json:"annotations"`
	Proxy          string      `json:"proxy,omitempty"`
}

type Options struct {
	NoCollector     bool   `json:"no_collector"`
	SoftwareName    string `json:"software_name"`
	SoftwareVersion string `json:"software_version"`
	// MaxRuntime in seconds, -1 disables the limit.
	MaxRuntime int `json:"max_runtime"`
}

type Annotations struct {
	NetworkType   model.NetworkType `json:"network_type"`
	Flavor        string            `json:"flavor"`
	Origin        model.TaskOrigin  `json:"origin"`
	OoniRunLinkID string            `json:"ooni_run_link_id"`
	OSVersion     string            `json:"os_version,omitempty"`
}

var disabledEvents = []string{
	"status.queued",
	"status.update.websites",
	"failure.report_close",
}
