// Package device reports the state of the machine the probe runs on.
package device

import (
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/raphi011/proberun/internal/model"
)

// NetworkTypeFinder reports the kind of network the device is connected to.
type NetworkTypeFinder interface {
	NetworkType() model.NetworkType
}

// StaticNetworkType always reports the same network type.
type StaticNetworkType model.NetworkType

func (s StaticNetworkType) NetworkType() model.NetworkType {
	return model.NetworkType(s)
}

// Interface is the part of a network interface the detection looks at.
type Interface struct {
	Name     string
	Up       bool
	Loopback bool
}

var (
	vpnPrefixes    = []string{"tun", "tap", "wg", "ppp", "utun", "ipsec", "tailscale"}
	mobilePrefixes = []string{"wwan", "rmnet", "ccmni"}
)

// SysNetworkTypeFinder derives the network type from the interfaces that
// are up. An active VPN interface takes precedence over everything else.
type SysNetworkTypeFinder struct {
	sysDir     string
	interfaces func() ([]Interface, error)
}

type networkOption func(*SysNetworkTypeFinder)

func WithSysClassNet(dir string) networkOption {
	return func(f *SysNetworkTypeFinder) {
		f.sysDir = dir
	}
}

func WithInterfaces(interfaces func() ([]Interface, error)) networkOption {
	return func(f *SysNetworkTypeFinder) {
		f.interfaces = interfaces
	}
}

func NewNetworkTypeFinder(opts ...networkOption) *SysNetworkTypeFinder {
	f := &SysNetworkTypeFinder{
		sysDir:     "/sys/class/net",
		interfaces: systemInterfaces,
	}

	for _, o := range opts {
		o(f)
	}

	return f
}

func systemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	result := make([]Interface, 0, len(ifaces))
	for _, i := range ifaces {
		result = append(result, Interface{
			Name:     i.Name,
			Up:       i.Flags&net.FlagUp != 0,
			Loopback: i.Flags&net.FlagLoopback != 0,
		})
	}

	return result, nil
}

func (f *SysNetworkTypeFinder) NetworkType() model.NetworkType {
	ifaces, err := f.interfaces()
	if err != nil {
		return model.NetworkTypeUnknown
	}

	active := []Interface{}
	for _, i := range ifaces {
		if i.Up && !i.Loopback {
			active = append(active, i)
		}
	}

	if len(active) == 0 {
		return model.NetworkTypeNoInternet
	}

	for _, i := range active {
		if hasPrefix(i.Name, vpnPrefixes) {
			return model.NetworkTypeVPN
		}
	}

	for _, i := range active {
		if f.isWireless(i.Name) {
			return model.NetworkTypeWifi
		}
	}

	for _, i := range active {
		if hasPrefix(i.Name, mobilePrefixes) {
			return model.NetworkTypeMobile
		}
	}

	return model.NetworkTypeUnknown
}

func (f *SysNetworkTypeFinder) isWireless(name string) bool {
	if strings.HasPrefix(name, "wl") {
		return true
	}

	_, err := os.Stat(filepath.Join(f.sysDir, name, "wireless"))

	return err == nil
}

func hasPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}

	return false
}
