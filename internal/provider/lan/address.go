package lan

import (
	"net"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	psnet "github.com/shirou/gopsutil/v3/net"
)

// advertiseHost picks the IPv4 address peers should connect to. An explicit
// override wins; otherwise the first up, non-loopback interface (optionally
// restricted to ifaceName) supplies it. An empty result means finders fall
// back to the beacon's source address.
func advertiseHost(override, ifaceName string) string {
	if override != "" {
		return override
	}

	ifaces, err := psnet.Interfaces()
	if err != nil {
		return ""
	}
	for _, iface := range ifaces {
		if ifaceName != "" && iface.Name != ifaceName {
			continue
		}
		if !hasFlag(iface.Flags, "up") || hasFlag(iface.Flags, "loopback") {
			continue
		}
		for _, a := range iface.Addrs {
			ip, _, err := net.ParseCIDR(a.Addr)
			if err != nil {
				ip = net.ParseIP(a.Addr)
			}
			if ip == nil || ip.IsLoopback() {
				continue
			}
			if v4 := ip.To4(); v4 != nil {
				return v4.String()
			}
		}
	}
	return ""
}

func hasFlag(flags []string, want string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, want) {
			return true
		}
	}
	return false
}

// defaultOwnerName reports the machine's hostname as the session owner.
func defaultOwnerName() string {
	info, err := host.Info()
	if err != nil || info.Hostname == "" {
		return "unknown-host"
	}
	return info.Hostname
}
