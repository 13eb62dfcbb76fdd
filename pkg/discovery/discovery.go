package discovery

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
)

// BufferSize bounds a received datagram; longer ones are truncated.
const BufferSize = 128

// DiscoveryService listens for discovery beacons from unknown nodes
type DiscoveryService struct {
	Addr   string
	Beacon []byte

	// onMessage sees every datagram, onBeacon only exact beacon matches
	onMessage func(data []byte, addr *net.UDPAddr)
	onBeacon  func(addr *net.UDPAddr)

	conn    *net.UDPConn
	pc      *ipv4.PacketConn
	log     *zap.Logger
	running atomic.Bool
	done    chan struct{}

	errMu sync.Mutex
	err   error
}

// NewDiscoveryService creates a listener on addr (":7653" or a multicast group such as "224.0.0.250:7653")
func NewDiscoveryService(addr string, beacon []byte, onMessage func(data []byte, addr *net.UDPAddr), onBeacon func(addr *net.UDPAddr)) *DiscoveryService {
	return &DiscoveryService{
		Addr:      addr,
		Beacon:    beacon,
		onMessage: onMessage,
		onBeacon:  onBeacon,
		log:       zap.L().Named("discovery"),
		done:      make(chan struct{}),
	}
}

// Start binds the UDP socket and starts the receive loop
func (d *DiscoveryService) Start() error {
	addr, err := net.ResolveUDPAddr("udp4", d.Addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", d.Addr, err)
	}

	group := addr.IP != nil && addr.IP.IsMulticast()
	bind := addr
	if group {
		bind = &net.UDPAddr{Port: addr.Port}
	}
	conn, err := net.ListenUDP("udp4", bind)
	if err != nil {
		return fmt.Errorf("listen %s: %w", d.Addr, err)
	}

	pc := ipv4.NewPacketConn(conn)
	if group {
		if err := pc.JoinGroup(nil, &net.UDPAddr{IP: addr.IP}); err != nil {
			_ = conn.Close()
			return fmt.Errorf("join group %s: %w", addr.IP, err)
		}
	}
	if err := pc.SetControlMessage(ipv4.FlagDst|ipv4.FlagInterface, true); err != nil {
		d.log.Debug("control messages unavailable", zap.Error(err))
	}

	d.conn = conn
	d.pc = pc
	d.running.Store(true)
	d.log.Info("listening", zap.Stringer("addr", conn.LocalAddr()), zap.Bool("multicast", group))

	go d.listen()
	return nil
}

// LocalAddr returns the bound socket address
func (d *DiscoveryService) LocalAddr() net.Addr {
	return d.conn.LocalAddr()
}

// Stop closes the socket to unblock the pending read and waits for the loop to exit
func (d *DiscoveryService) Stop() error {
	if !d.running.Swap(false) {
		return nil
	}
	err := d.conn.Close()
	<-d.done
	return err
}

// Done is closed when the receive loop has exited
func (d *DiscoveryService) Done() <-chan struct{} {
	return d.done
}

// Err returns the read error that ended the loop, nil after Stop
func (d *DiscoveryService) Err() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.err
}

func (d *DiscoveryService) listen() {
	defer close(d.done)

	buf := make([]byte, BufferSize)
	for {
		n, cm, src, err := d.pc.ReadFrom(buf)
		if err != nil {
			if !d.running.Load() {
				d.log.Info("stopped")
				return
			}
			d.log.Error("read failed", zap.Error(err))
			d.errMu.Lock()
			d.err = err
			d.errMu.Unlock()
			d.running.Store(false)
			_ = d.conn.Close()
			return
		}

		udpSrc, ok := src.(*net.UDPAddr)
		if !ok {
			continue
		}
		data := append([]byte(nil), buf[:n]...)
		if cm != nil {
			d.log.Debug("datagram", zap.Stringer("from", udpSrc), zap.Stringer("dst", cm.Dst), zap.Int("ifindex", cm.IfIndex), zap.Int("len", n))
		}

		if d.onMessage != nil {
			d.onMessage(data, udpSrc)
		}
		if d.onBeacon != nil && bytes.Equal(data, d.Beacon) {
			d.onBeacon(udpSrc)
		}
	}
}
