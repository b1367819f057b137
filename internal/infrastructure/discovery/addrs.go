package discovery

import "net"

// broadcastAddrs enumerates the IPv4 broadcast address of every up,
// broadcast-capable interface, so multi-homed hosts announce on every
// network. The limited broadcast address is always included as a fallback.
func broadcastAddrs() []net.IP {
	addrs := []net.IP{net.IPv4bcast}

	ifaces, err := net.Interfaces()
	if err != nil {
		return addrs
	}

	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagBroadcast == 0 {
			continue
		}
		ifAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range ifAddrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			ip := ipNet.IP.To4()
			if ip == nil {
				continue
			}
			bcast := make(net.IP, len(ip))
			for i := range ip {
				bcast[i] = ip[i] | ^ipNet.Mask[i]
			}
			addrs = append(addrs, bcast)
		}
	}
	return addrs
}

// localAddrs returns the set of this host's own IPv4 addresses, used to
// ignore our own broadcasts.
func localAddrs() map[string]struct{} {
	own := make(map[string]struct{})

	ifaces, err := net.Interfaces()
	if err != nil {
		return own
	}
	for _, iface := range ifaces {
		ifAddrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range ifAddrs {
			if ipNet, ok := a.(*net.IPNet); ok {
				if ip := ipNet.IP.To4(); ip != nil {
					own[ip.String()] = struct{}{}
				}
			}
		}
	}
	return own
}
