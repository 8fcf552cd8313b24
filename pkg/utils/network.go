package utils

import (
	"net"
	"sort"
)

// ExternalIPv4 maps interface names to their non-loopback IPv4 addresses.
func ExternalIPv4() (map[string][]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := map[string][]string{}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		if ips := ipv4Only(addrs); len(ips) > 0 {
			out[iface.Name] = ips
		}
	}
	return out, nil
}

func ipv4Only(addrs []net.Addr) []string {
	var ips []string
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip == nil || ip.IsLoopback() {
			continue
		}
		if v4 := ip.To4(); v4 != nil {
			ips = append(ips, v4.String())
		}
	}
	sort.Strings(ips)
	return ips
}
