package discovery

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// ErrNoUsableInterface means no up, non-loopback, non-virtual interface has an IPv4 address.
var ErrNoUsableInterface = errors.New("no usable network interface")

type SelfAddress struct {
	Hostname string
	IP       string
}

// Interface is the part of a network interface used to pick the local address
type Interface struct {
	Name  string
	Flags net.Flags
	Addrs []net.Addr
}

// InterfaceLister enumerates the host's network interfaces
type InterfaceLister func() ([]Interface, error)

// SystemInterfaces lists the host interfaces via the net package
func SystemInterfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Interface, 0, len(ifaces))
	for _, ifi := range ifaces {
		addrs, err := ifi.Addrs()
		if err != nil {
			continue
		}
		out = append(out, Interface{Name: ifi.Name, Flags: ifi.Flags, Addrs: addrs})
	}
	return out, nil
}

func NewSelfAddress() (*SelfAddress, error) {
	return ResolveSelfAddress(SystemInterfaces)
}

// ResolveSelfAddress picks the local IPv4 address from the listed interfaces
func ResolveSelfAddress(list InterfaceLister) (*SelfAddress, error) {
	ip, err := SelectIPv4(list)
	if err != nil {
		return nil, err
	}
	return PinnedSelfAddress(ip)
}

// PinnedSelfAddress uses ip as the local address without scanning interfaces
func PinnedSelfAddress(ip string) (*SelfAddress, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, errors.Join(errors.New("error retrieving hostname"), err)
	}

	return &SelfAddress{
		Hostname: hostname,
		IP:       ip,
	}, nil
}

// Addr returns the TCP address as "IP:Port"
func (sa *SelfAddress) Addr(port uint16) string {
	return net.JoinHostPort(sa.IP, fmt.Sprint(port))
}

// SelectIPv4 returns the IPv4 address of a usable interface. Wireless
// adapters win; otherwise the first usable interface in listing order.
func SelectIPv4(list InterfaceLister) (string, error) {
	ifaces, err := list()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoUsableInterface, err)
	}

	var first string
	for _, ifi := range ifaces {
		if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 || isVirtual(ifi.Name) {
			continue
		}
		ip := firstIPv4(ifi.Addrs)
		if ip == "" {
			continue
		}
		if isWireless(ifi.Name) {
			return ip, nil
		}
		if first == "" {
			first = ip
		}
	}
	if first == "" {
		return "", ErrNoUsableInterface
	}
	return first, nil
}

func firstIPv4(addrs []net.Addr) string {
	for _, a := range addrs {
		var ip net.IP
		switch v := a.(type) {
		case *net.IPNet:
			ip = v.IP
		case *net.IPAddr:
			ip = v.IP
		}
		if ip4 := ip.To4(); ip4 != nil && !ip4.IsLoopback() {
			return ip4.String()
		}
	}
	return ""
}

var virtualPrefixes = []string{
	"docker", "veth", "br-", "virbr", "vmnet", "vboxnet", "tun", "tap", "utun", "zt", "lxc", "cni", "flannel", "kube",
}

func isVirtual(name string) bool {
	name = strings.ToLower(name)
	for _, p := range virtualPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	// Sub-interfaces such as eth0:1
	return strings.Contains(name, ":")
}

func isWireless(name string) bool {
	name = strings.ToLower(name)
	for _, s := range []string{"wireless", "wi-fi", "wifi", "wlan", "wlp", "wlx"} {
		if strings.Contains(name, s) {
			return true
		}
	}
	return false
}
