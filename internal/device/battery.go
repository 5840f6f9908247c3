package device

import (
	"os"
	"path/filepath"
	"strings"
)

type BatteryState string

const (
	BatteryCharging    BatteryState = "charging"
	BatteryNotCharging BatteryState = "not_charging"
	BatteryUnknown     BatteryState = "unknown"
)

// BatteryStateFinder reports whether the device is being charged.
type BatteryStateFinder interface {
	BatteryState() BatteryState
}

type StaticBatteryState BatteryState

func (s StaticBatteryState) BatteryState() BatteryState {
	return BatteryState(s)
}

// SysBatteryStateFinder reads the power supplies below /sys/class/power_supply.
// A device with an online mains supply or a charging battery counts as
// charging. Without any battery it is always on external power.
type SysBatteryStateFinder struct {
	dir string
}

func NewBatteryStateFinder(dir string) *SysBatteryStateFinder {
	if dir == "" {
		dir = "/sys/class/power_supply"
	}

	return &SysBatteryStateFinder{dir: dir}
}

func (f *SysBatteryStateFinder) BatteryState() BatteryState {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return BatteryUnknown
	}

	batteries := 0
	charging := false

	for _, e := range entries {
		supply := filepath.Join(f.dir, e.Name())

		switch readValue(supply, "type") {
		case "Mains", "USB":
			if readValue(supply, "online") == "1" {
				charging = true
			}
		case "Battery":
			batteries++

			switch readValue(supply, "status") {
			case "Charging", "Full":
				charging = true
			}
		}
	}

	if charging || (batteries == 0 && len(entries) > 0) {
		return BatteryCharging
	}

	if batteries == 0 {
		return BatteryUnknown
	}

	return BatteryNotCharging
}

func readValue(dir, name string) string {
	b, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return ""
	}

	return strings.TrimSpace(string(b))
}
