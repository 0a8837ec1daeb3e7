// Package tls provides automatic TLS certificate management for the bridge
// with cross-platform trust store installation.
package tls

import (
	"net"
	"os"
	"strings"
)

// GetLANIPs returns all local IPv4 addresses (non-loopback) of interfaces
// that are up.
func GetLANIPs() ([]string, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var ips []string
	for _, iface := range interfaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}

		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		ips = append(ips, ipv4Hosts(addrs)...)
	}

	return ips, nil
}

// ipv4Hosts returns the non-loopback IPv4 addresses among addrs.
func ipv4Hosts(addrs []net.Addr) []string {
	var ips []string
	for _, addr := range addrs {
		var ip net.IP
		switch v := addr.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}

		if ip != nil && ip.To4() != nil && !ip.IsLoopback() {
			ips = append(ips, ip.String())
		}
	}
	return ips
}

// mDNSHostname returns the machine's ".local" name, or "" when the
// hostname is unknown.
func mDNSHostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return ""
	}
	name = strings.TrimSuffix(strings.ToLower(name), ".")
	if i := strings.IndexByte(name, '.'); i >= 0 {
		name = name[:i]
	}
	return name + ".local"
}

// GetAllHosts returns localhost, the mDNS hostname and LAN IPs for
// certificate generation.
func GetAllHosts() ([]string, error) {
	hosts := []string{"localhost", "127.0.0.1"}
	if local := mDNSHostname(); local != "" {
		hosts = append(hosts, local)
	}

	lanIPs, err := GetLANIPs()
	if err != nil {
		return hosts, err
	}

	hosts = append(hosts, lanIPs...)
	return hosts, nil
}
