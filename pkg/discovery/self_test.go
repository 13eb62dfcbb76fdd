package discovery

import (
	"errors"
	"net"
	"testing"
)

func ipNet(s string) net.Addr {
	ip, n, _ := net.ParseCIDR(s)
	n.IP = ip
	return n
}

func lister(ifaces ...Interface) InterfaceLister {
	return func() ([]Interface, error) { return ifaces, nil }
}

var (
	up       = net.FlagUp | net.FlagBroadcast | net.FlagMulticast
	loopback = Interface{Name: "lo", Flags: net.FlagUp | net.FlagLoopback, Addrs: []net.Addr{ipNet("127.0.0.1/8")}}
	ethernet = Interface{Name: "eth0", Flags: up, Addrs: []net.Addr{ipNet("fe80::1/64"), ipNet("192.168.1.10/24")}}
	wireless = Interface{Name: "wlp3s0", Flags: up, Addrs: []net.Addr{ipNet("192.168.1.20/24")}}
	docker   = Interface{Name: "docker0", Flags: up, Addrs: []net.Addr{ipNet("172.17.0.1/16")}}
)

func TestSelectIPv4(t *testing.T) {
	tests := []struct {
		name string
		list InterfaceLister
		want string
	}{
		{"wireless preferred", lister(loopback, ethernet, wireless), "192.168.1.20"},
		{"first usable otherwise", lister(loopback, docker, ethernet), "192.168.1.10"},
		{"down skipped", lister(Interface{Name: "wlan0", Flags: 0, Addrs: []net.Addr{ipNet("10.1.1.1/24")}}, ethernet), "192.168.1.10"},
		{"sub-interface skipped", lister(Interface{Name: "eth0:1", Flags: up, Addrs: []net.Addr{ipNet("10.2.2.2/24")}}, ethernet), "192.168.1.10"},
		{"ipv6 only skipped", lister(Interface{Name: "eth1", Flags: up, Addrs: []net.Addr{ipNet("2001:db8::1/64")}}, wireless), "192.168.1.20"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectIPv4(tt.list)
			if err != nil {
				t.Fatalf("SelectIPv4: %v", err)
			}
			if got != tt.want {
				t.Fatalf("got %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSelectIPv4NoUsableInterface(t *testing.T) {
	if _, err := SelectIPv4(lister(loopback, docker)); !errors.Is(err, ErrNoUsableInterface) {
		t.Fatalf("expected ErrNoUsableInterface, got %v", err)
	}
	failing := func() ([]Interface, error) { return nil, errors.New("netlink unavailable") }
	if _, err := SelectIPv4(failing); !errors.Is(err, ErrNoUsableInterface) {
		t.Fatalf("expected ErrNoUsableInterface, got %v", err)
	}
}

func TestResolveSelfAddress(t *testing.T) {
	sa, err := ResolveSelfAddress(lister(ethernet))
	if err != nil {
		t.Fatalf("ResolveSelfAddress: %v", err)
	}
	if sa.IP != "192.168.1.10" {
		t.Fatalf("IP = %s", sa.IP)
	}
	if sa.Hostname == "" {
		t.Fatal("empty hostname")
	}
	if got := sa.Addr(54321); got != "192.168.1.10:54321" {
		t.Fatalf("Addr = %s", got)
	}
}

func TestPinnedSelfAddress(t *testing.T) {
	sa, err := PinnedSelfAddress("10.0.0.7")
	if err != nil {
		t.Fatalf("PinnedSelfAddress: %v", err)
	}
	if sa.IP != "10.0.0.7" || sa.Hostname == "" {
		t.Fatalf("self = %+v", sa)
	}
	if got := sa.Addr(40480); got != "10.0.0.7:40480" {
		t.Fatalf("Addr = %s", got)
	}
}
