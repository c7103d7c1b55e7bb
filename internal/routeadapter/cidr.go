package routeadapter

import "net"

func parseCIDR(cidr string) (net.IP, *net.IPNet, error) {
	ip, ipNet, err := net.ParseCIDR(cidr)
	return ip, ipNet, err
}
