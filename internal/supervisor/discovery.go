// Package supervisor discovers usable network adapters on a timer and
// manages the lifecycle of one Capture Worker per adapter.
package supervisor

import (
	"runtime"
	"strings"

	gopsutilnet "github.com/shirou/gopsutil/v3/net"

	"github.com/netcensus/netcensus/internal/models"
)

// bsdExcludedPrefixes are known-broken virtual interface prefixes on
// BSD-family platforms (including Darwin), per §4.6. These never carry
// real traffic and opening a capture handle on them either fails or hangs.
var bsdExcludedPrefixes = []string{"anpi", "ipsec", "utun", "feth", "gif", "stf", "XHC"}

// isBSDFamily reports whether the exclusion list above applies to this
// platform. Expressed as a single predicate with a platform-parameterized
// list rather than compile-time branches through the discovery path.
func isBSDFamily() bool {
	switch runtime.GOOS {
	case "darwin", "freebsd", "netbsd", "openbsd", "dragonfly":
		return true
	}
	return false
}

// isUsable reports whether iface should get a capture worker: not
// loopback, not down, not named like a bluetooth or pseudo-"any" device,
// and — on BSD-family platforms only — not one of the known-broken virtual
// prefixes. Everything else (physical, virtual, VPN, bridge, container) is
// included; the deduper prevents double-counting across overlapping
// adapters.
func isUsable(iface gopsutilnet.InterfaceStat) bool {
	name := strings.ToLower(iface.Name)

	if name == "any" {
		return false
	}
	if strings.Contains(name, "bluetooth") {
		return false
	}

	isLoopback := false
	isUp := false
	for _, flag := range iface.Flags {
		switch flag {
		case "loopback":
			isLoopback = true
		case "up":
			isUp = true
		}
	}
	if isLoopback || !isUp {
		return false
	}

	if isBSDFamily() {
		for _, prefix := range bsdExcludedPrefixes {
			if strings.HasPrefix(iface.Name, prefix) {
				return false
			}
		}
	}

	return true
}

// Discover enumerates the host's network interfaces and returns the
// usable subset, per the §4.6 discovery-loop predicate.
func Discover() ([]models.Adapter, error) {
	ifaces, err := gopsutilnet.Interfaces()
	if err != nil {
		return nil, err
	}

	var out []models.Adapter
	for _, iface := range ifaces {
		if !isUsable(iface) {
			continue
		}

		isLoopback := false
		isUp := false
		addrs := make([]string, 0, len(iface.Addrs))
		for _, flag := range iface.Flags {
			switch flag {
			case "loopback":
				isLoopback = true
			case "up":
				isUp = true
			}
		}
		for _, a := range iface.Addrs {
			addrs = append(addrs, a.Addr)
		}

		out = append(out, models.Adapter{
			Name:        iface.Name,
			Description: strings.Join(iface.Flags, ","),
			Addresses:   addrs,
			IsUp:        isUp,
			IsLoopback:  isLoopback,
		})
	}

	return out, nil
}
