package comms

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/eglochon/lanmesh/pkg/discovery"
)

// Options configures a PeerManager. Only Dialer is required.
type Options struct {
	Dialer  Dialer
	Display Display
	Logger  *zap.Logger
	// ResolveLocal finds the local interface address. Defaults to an
	// interface scan.
	ResolveLocal func() (string, error)
}

// PeerManager owns the set of connected peers and keeps the mesh fully
// connected by introducing every newcomer to the existing peers.
type PeerManager struct {
	dialer  Dialer
	display Display
	log     *zap.Logger
	resolve func() (string, error)

	localMu sync.Mutex
	localIP string

	mu      sync.RWMutex
	running bool
	peers   map[string]*Peer // IP → connected peer
	pending map[string]*Peer // IP → outbound dial in flight

	loops sync.WaitGroup
}

// [NewPeerManager] creates an empty peer manager
func NewPeerManager(opts Options) *PeerManager {
	pm := &PeerManager{
		dialer:  opts.Dialer,
		display: opts.Display,
		log:     opts.Logger,
		resolve: opts.ResolveLocal,
		running: true,
		peers:   make(map[string]*Peer),
		pending: make(map[string]*Peer),
	}
	if pm.display == nil {
		pm.display = nopDisplay{}
	}
	if pm.log == nil {
		pm.log = zap.L().Named("comms")
	}
	if pm.resolve == nil {
		pm.resolve = func() (string, error) {
			sa, err := discovery.NewSelfAddress()
			if err != nil {
				return "", err
			}
			return sa.IP, nil
		}
	}
	return pm
}

// [ResolveLocalAddress] returns the local interface address. It is resolved
// on the first successful call and cached afterwards.
func (pm *PeerManager) ResolveLocalAddress() (string, error) {
	pm.localMu.Lock()
	defer pm.localMu.Unlock()

	if pm.localIP != "" {
		return pm.localIP, nil
	}
	ip, err := pm.resolve()
	if err != nil {
		return "", err
	}
	pm.localIP = ip
	return ip, nil
}

// [HasConnection] reports whether a peer with this address is registered
func (pm *PeerManager) HasConnection(ip string) bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	_, ok := pm.peers[ip]
	return ok
}

// [Peer] returns the registered peer for ip
func (pm *PeerManager) Peer(ip string) (*Peer, bool) {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	p, ok := pm.peers[ip]
	return p, ok
}

// [Peers] returns the addresses of all registered peers, sorted
func (pm *PeerManager) Peers() []string {
	pm.mu.RLock()
	ips := make([]string, 0, len(pm.peers))
	for ip := range pm.peers {
		ips = append(ips, ip)
	}
	pm.mu.RUnlock()
	sort.Strings(ips)
	return ips
}

// [Connect] dials addr unless it is the local address or already connected
// or being dialed. It blocks for the duration of the TCP handshake. On
// failure nothing is registered.
func (pm *PeerManager) Connect(addr string) error {
	return pm.connect(addr, false)
}

func (pm *PeerManager) connect(addr string, quiet bool) error {
	ip := net.ParseIP(addr)
	if ip == nil {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	addr = ip.String()

	local, err := pm.ResolveLocalAddress()
	if err != nil {
		return err
	}
	if addr == local {
		pm.log.Debug("ignoring connect to self", zap.String("peer", addr))
		return nil
	}

	pm.mu.Lock()
	if !pm.running {
		pm.mu.Unlock()
		return ErrClosed
	}
	_, connected := pm.peers[addr]
	_, dialing := pm.pending[addr]
	if connected || dialing {
		pm.mu.Unlock()
		if !quiet {
			pm.display.SystemNotice("You are already connected with this Peer!")
		}
		return nil
	}
	peer := &Peer{IP: addr, Outbound: true, state: StateConnecting}
	pm.pending[addr] = peer
	pm.mu.Unlock()

	pm.display.SystemNotice(fmt.Sprintf("Trying to establish a connection with %s ...", addr))
	conn, err := pm.dialer.Dial(addr)
	if err != nil {
		pm.mu.Lock()
		delete(pm.pending, addr)
		pm.mu.Unlock()
		peer.markDisconnected()

		pm.log.Warn("dial failed", zap.String("peer", addr), zap.Error(err))
		pm.display.SystemNotice(fmt.Sprintf("Something went wrong when trying to connect to %s. No connection has been established.", addr))
		return err
	}

	if _, err := pm.register(peer, conn); err != nil {
		_ = conn.Close()
		if errors.Is(err, ErrDuplicatePeer) && pm.HasConnection(addr) {
			// the peer's own dial reached us first and won the tie-break
			pm.log.Debug("outbound connection superseded", zap.String("peer", addr))
			return nil
		}
		return err
	}
	pm.display.SystemNotice(fmt.Sprintf("Successfully connected to %s.", addr))
	return nil
}

// [RegisterPeer] adds an established inbound connection to the mesh,
// introduces the newcomer to every previously registered peer and starts its
// receive loop. It fails with ErrDuplicatePeer if the address is already
// registered and the existing connection is kept; the caller then owns conn
// and must close it.
func (pm *PeerManager) RegisterPeer(conn *FramedConn) (*Peer, error) {
	peer := &Peer{IP: conn.RemoteIP(), state: StateConnecting}
	if _, err := pm.register(peer, conn); err != nil {
		return nil, err
	}
	return peer, nil
}

// [Accept] registers an inbound connection. If the address is already
// connected and the existing connection is kept, the new one is closed.
func (pm *PeerManager) Accept(conn *FramedConn) error {
	ip := conn.RemoteIP()
	peer := &Peer{IP: ip, state: StateConnecting}
	replaced, err := pm.register(peer, conn)
	if err != nil {
		_ = conn.Close()
		return err
	}
	if !replaced {
		pm.display.SystemNotice(fmt.Sprintf("New Peer at %s has joined the lobby.", ip))
	}
	return nil
}

// keepNew decides between two connections to the same address. Two
// connections in the same direction keep the first. Otherwise both nodes keep
// the connection dialed by the lower address, so a simultaneous open leaves
// the same single link on each side.
func (pm *PeerManager) keepNew(local string, next, cur *Peer) bool {
	if next.Outbound == cur.Outbound || local == "" {
		return false
	}
	outboundWins := lowerAddr(local, next.IP)
	return next.Outbound == outboundWins
}

func lowerAddr(a, b string) bool {
	x, errX := netip.ParseAddr(a)
	y, errY := netip.ParseAddr(b)
	if errX != nil || errY != nil {
		return a < b
	}
	return x.Unmap().Less(y.Unmap())
}

// register inserts peer with conn. replaced reports whether it took the place
// of an existing connection to the same address; existing peers are not
// introduced again in that case.
func (pm *PeerManager) register(peer *Peer, conn *FramedConn) (replaced bool, err error) {
	local, _ := pm.ResolveLocalAddress()

	pm.mu.Lock()
	if pm.pending[peer.IP] == peer {
		delete(pm.pending, peer.IP)
	}
	if !pm.running {
		pm.mu.Unlock()
		peer.markDisconnected()
		return false, ErrClosed
	}
	cur, dup := pm.peers[peer.IP]
	if dup && !pm.keepNew(local, peer, cur) {
		pm.mu.Unlock()
		peer.markDisconnected()
		pm.log.Info("rejecting duplicate peer", zap.String("peer", peer.IP), zap.Bool("outbound", peer.Outbound))
		return false, fmt.Errorf("%w: %s", ErrDuplicatePeer, peer.IP)
	}
	existing := make([]*Peer, 0, len(pm.peers))
	for _, p := range pm.peers {
		if p != cur {
			existing = append(existing, p)
		}
	}
	peer.markConnected(conn)
	pm.peers[peer.IP] = peer
	pm.loops.Add(1)
	pm.mu.Unlock()

	if dup {
		pm.log.Info("replacing duplicate peer connection", zap.String("peer", peer.IP), zap.Bool("outbound", peer.Outbound))
		pm.UnregisterPeer(cur)
		go pm.readLoop(peer)
		return true, nil
	}

	pm.log.Info("peer registered", zap.String("peer", peer.IP), zap.Int("existing", len(existing)))

	// Everyone already in the mesh dials the newcomer.
	if len(existing) > 0 {
		if intro, err := Introduce(peer.IP).Encode(); err == nil {
			_ = pm.sendAll(existing, intro)
			pm.display.MessageSent(Broadcast, intro, true)
		}
	}

	go pm.readLoop(peer)
	return false, nil
}

// [UnregisterPeer] removes the peer and closes its connection. Calling it
// again is a no-op.
func (pm *PeerManager) UnregisterPeer(peer *Peer) {
	pm.mu.Lock()
	if cur, ok := pm.peers[peer.IP]; ok && cur == peer {
		delete(pm.peers, peer.IP)
	}
	pm.mu.Unlock()

	if !peer.markDisconnected() {
		return
	}
	if peer.Conn != nil {
		_ = peer.Conn.Close()
	}
	pm.log.Info("peer unregistered", zap.String("peer", peer.IP))
}

// [HandleFrame] classifies a received frame. Control frames are decoded and
// executed; anything else is chat and goes to the display. A malformed or
// unknown control frame returns ErrProtocolViolation.
func (pm *PeerManager) HandleFrame(peerIP, frame string) error {
	if !IsControlFrame(frame) {
		pm.display.ChatReceived(peerIP, frame)
		return nil
	}

	pm.display.ControlReceived(peerIP, frame)
	d, err := ParseDirective(frame)
	if err != nil {
		return err
	}
	return pm.execute(d)
}

func (pm *PeerManager) execute(d Directive) error {
	switch d.Kind {
	case DirectiveIntroduce:
		local, err := pm.ResolveLocalAddress()
		if err != nil {
			return err
		}
		if d.Address == local || pm.HasConnection(d.Address) {
			return nil
		}
		// Dialing blocks; the receive loop must keep reading.
		go func() {
			if err := pm.connect(d.Address, true); err != nil {
				pm.log.Debug("introduced peer unreachable", zap.String("peer", d.Address), zap.Error(err))
			}
		}()
		return nil
	}
	return fmt.Errorf("%w: unhandled directive %s", ErrProtocolViolation, d.Kind)
}

// [readLoop] feeds frames from a peer into HandleFrame until the connection ends
func (pm *PeerManager) readLoop(peer *Peer) {
	defer pm.loops.Done()

	err := peer.Conn.ReadLoop(pm.HandleFrame)
	closedLocally := peer.Conn.Closed()
	pm.UnregisterPeer(peer)

	switch {
	case errors.Is(err, ErrProtocolViolation):
		pm.log.Warn("closing peer session", zap.String("peer", peer.IP), zap.Error(err))
		pm.display.SystemNotice(fmt.Sprintf("Peer %s sent an invalid control message and has been disconnected.", peer.IP))
	case err != nil:
		pm.log.Warn("peer connection lost", zap.String("peer", peer.IP), zap.Error(err))
		pm.display.SystemNotice(fmt.Sprintf("Connection to %s was lost.", peer.IP))
	case !closedLocally:
		pm.display.SystemNotice(fmt.Sprintf("Peer %s has disconnected.", peer.IP))
	}
}

// [Stop] closes every peer connection and waits for the receive loops to exit.
// Connections that finish dialing afterwards are rejected.
func (pm *PeerManager) Stop() error {
	pm.mu.Lock()
	pm.running = false
	peers := make([]*Peer, 0, len(pm.peers))
	for _, p := range pm.peers {
		peers = append(peers, p)
	}
	pm.mu.Unlock()

	var errs error
	for _, p := range peers {
		if p.markDisconnected() {
			errs = multierr.Append(errs, p.Conn.Close())
		}
	}
	pm.loops.Wait()

	pm.mu.Lock()
	clear(pm.peers)
	pm.mu.Unlock()
	return errs
}
