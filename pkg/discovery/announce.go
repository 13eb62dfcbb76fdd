package discovery

import (
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/ipv4"
)

// Announcer sends the discovery beacon so that listening nodes dial us
type Announcer struct {
	Addr     string
	Beacon   []byte
	Interval time.Duration // zero sends once

	conn *net.UDPConn
	log  *zap.Logger
	stop chan struct{}
	done chan struct{}
}

func NewAnnouncer(addr string, beacon []byte, interval time.Duration) *Announcer {
	return &Announcer{
		Addr:     addr,
		Beacon:   beacon,
		Interval: interval,
		log:      zap.L().Named("announce"),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start sends the first beacon and, with a positive interval, keeps sending
// until Stop.
func (a *Announcer) Start() error {
	groupAddr, err := net.ResolveUDPAddr("udp4", a.Addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", a.Addr, err)
	}

	conn, err := net.DialUDP("udp4", nil, groupAddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.Addr, err)
	}
	a.conn = conn

	if groupAddr.IP.IsMulticast() {
		p := ipv4.NewPacketConn(conn)
		if err := p.SetMulticastLoopback(false); err != nil {
			a.log.Debug("failed to disable loopback", zap.Error(err))
		}
		if err := p.SetMulticastTTL(1); err != nil {
			a.log.Debug("failed to set multicast ttl", zap.Error(err))
		}
	}

	if err := a.Announce(); err != nil {
		a.log.Warn("beacon failed", zap.Error(err))
	}

	if a.Interval <= 0 {
		close(a.done)
		return nil
	}
	go a.loop()
	return nil
}

// Announce sends one beacon
func (a *Announcer) Announce() error {
	_, err := a.conn.Write(a.Beacon)
	return err
}

// Stop ends the announce loop and closes the socket
func (a *Announcer) Stop() error {
	select {
	case <-a.stop:
		return nil
	default:
		close(a.stop)
	}
	if a.conn == nil {
		return nil
	}
	<-a.done
	return a.conn.Close()
}

func (a *Announcer) loop() {
	defer close(a.done)

	t := time.NewTicker(a.Interval)
	defer t.Stop()
	for {
		select {
		case <-a.stop:
			return
		case <-t.C:
			if err := a.Announce(); err != nil {
				a.log.Warn("beacon failed", zap.Error(err))
			}
		}
	}
}
