// Package localaddr resolves the IPv4 address this node announces itself with.
package localaddr

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	log "github.com/sirupsen/logrus"
)

var ErrNoLocalAddress = errors.New("no usable local address found")

// pollInterval is how long Resolve waits between two interface scans.
var pollInterval = time.Second

// interfaceAddrs is replaced in tests.
var interfaceAddrs = systemInterfaceAddrs

type ifaceAddr struct {
	iface string
	ip    net.IP
}

func systemInterfaceAddrs() ([]ifaceAddr, error) {
	interfaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var result []ifaceAddr
	for _, iface := range interfaces {
		if (iface.Flags & net.FlagUp) == 0 {
			continue // Interface is down
		}

		addrs, err := iface.Addrs()
		if err != nil {
			log.Warnf("localaddr: could not get addresses for interface %s: %v", iface.Name, err)
			continue
		}

		for _, addr := range addrs {
			var ip net.IP
			switch v := addr.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			if ip != nil {
				result = append(result, ifaceAddr{iface: iface.Name, ip: ip})
			}
		}
	}
	return result, nil
}

// pick returns the first non-loopback IPv4 address, optionally restricted to one interface.
func pick(addrs []ifaceAddr, iface string) net.IP {
	for _, a := range addrs {
		if iface != "" && a.iface != iface {
			continue
		}
		ip4 := a.ip.To4()
		if ip4 == nil || ip4.IsLoopback() || ip4.IsUnspecified() || ip4.IsLinkLocalUnicast() {
			continue
		}
		return ip4
	}
	return nil
}

// Resolve scans the network interfaces until a usable IPv4 address shows up or timeout elapses.
// An empty iface accepts any interface. After the timeout it returns ErrNoLocalAddress, callers must treat this as fatal.
func Resolve(ctx context.Context, iface string, timeout time.Duration) (net.IP, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	t := time.NewTicker(pollInterval)
	defer t.Stop()

	for {
		addrs, err := interfaceAddrs()
		if err != nil {
			log.Errorf("localaddr: failed to get network interfaces: %v", err)
		} else if ip := pick(addrs, iface); ip != nil {
			log.Infof("localaddr: using local address %s", ip)
			return ip, nil
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w within %v (interface %q)", ErrNoLocalAddress, timeout, iface)
			}
			return nil, ctx.Err()
		case <-t.C:
		}
	}
}

// BroadcastAddress returns the directed broadcast address of the subnet ip belongs to,
// or the limited broadcast address when the subnet cannot be determined.
func BroadcastAddress(ip net.IP) net.IP {
	interfaces, err := net.Interfaces()
	if err != nil {
		return net.IPv4bcast
	}
	for _, iface := range interfaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipnet, ok := addr.(*net.IPNet)
			if !ok || !ipnet.IP.Equal(ip) {
				continue
			}
			if bcast := directedBroadcast(ipnet); bcast != nil {
				return bcast
			}
		}
	}
	return net.IPv4bcast
}

func directedBroadcast(ipnet *net.IPNet) net.IP {
	ip4 := ipnet.IP.To4()
	if ip4 == nil || len(ipnet.Mask) != net.IPv4len {
		return nil
	}
	bcast := make(net.IP, net.IPv4len)
	for i := range ip4 {
		bcast[i] = ip4[i] | ^ipnet.Mask[i]
	}
	return bcast
}
