package agent

import (
	"fmt"
	"strings"

	gnet "github.com/shirou/gopsutil/v3/net"
)

// Identity is what the agent presents to the central server when polling.
type Identity struct {
	AgentID    string
	MACAddress string
}

// virtualPrefixes are interface names that never carry the host's
// physical MAC: loopback, container bridges, virtual taps.
var virtualPrefixes = []string{"lo", "docker", "br-", "veth", "virbr", "tap", "tun"}

// PhysicalMAC returns the MAC address of the first physical network
// interface. Virtual and loopback interfaces are skipped so the agent's
// identity stays stable across container churn.
func PhysicalMAC() (string, error) {
	ifaces, err := gnet.Interfaces()
	if err != nil {
		return "", fmt.Errorf("listing interfaces: %w", err)
	}

	for _, iface := range ifaces {
		if isVirtual(iface.Name) {
			continue
		}
		addr := strings.ToLower(iface.HardwareAddr)
		if addr == "" || addr == "00:00:00:00:00:00" {
			continue
		}
		return addr, nil
	}

	return "", fmt.Errorf("no physical network interface found")
}

func isVirtual(name string) bool {
	for _, prefix := range virtualPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
