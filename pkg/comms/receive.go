package comms

import (
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// TCPReceiver listens for incoming peer connections and passes them to the PeerManager
type TCPReceiver struct {
	addr    string
	pm      *PeerManager
	ln      net.Listener
	log     *zap.Logger
	running atomic.Bool
	done    chan struct{}

	errMu sync.Mutex
	err   error
}

// NewTCPReceiver creates a new TCP server bound to the given address (e.g. ":54321")
func NewTCPReceiver(addr string, pm *PeerManager) *TCPReceiver {
	return &TCPReceiver{
		addr: addr,
		pm:   pm,
		log:  zap.L().Named("receiver"),
		done: make(chan struct{}),
	}
}

// Start begins accepting incoming TCP connections and registering them
func (r *TCPReceiver) Start() error {
	ln, err := net.Listen("tcp", r.addr)
	if err != nil {
		return fmt.Errorf("listen failed: %w", err)
	}
	r.ln = ln
	r.running.Store(true)
	r.log.Info("listening", zap.Stringer("addr", ln.Addr()))

	go r.acceptLoop()
	return nil
}

// Addr returns the bound listen address
func (r *TCPReceiver) Addr() net.Addr {
	return r.ln.Addr()
}

// Stop closes the listener, which unblocks the accept loop
func (r *TCPReceiver) Stop() error {
	if !r.running.Swap(false) {
		return nil
	}
	err := r.ln.Close()
	<-r.done
	return err
}

// Done is closed when the accept loop has exited
func (r *TCPReceiver) Done() <-chan struct{} {
	return r.done
}

// Err returns the error that ended the accept loop. It is nil after Stop.
func (r *TCPReceiver) Err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.err
}

func (r *TCPReceiver) acceptLoop() {
	defer close(r.done)

	for {
		conn, err := r.ln.Accept()
		if err != nil {
			if !r.running.Load() {
				r.log.Info("stopped")
				return
			}
			r.log.Error("accept failed", zap.Error(err))
			r.errMu.Lock()
			r.err = err
			r.errMu.Unlock()
			r.running.Store(false)
			_ = r.ln.Close()
			return
		}
		go r.handleConnection(conn)
	}
}

// handleConnection hands the connection to the PeerManager, which closes it
// if the address is already connected.
func (r *TCPReceiver) handleConnection(conn net.Conn) {
	ip := remoteIP(conn)
	if err := r.pm.Accept(NewFramedConn(conn, ip)); err != nil {
		r.log.Debug("inbound connection rejected", zap.String("peer", ip), zap.Error(err))
	}
}

func remoteIP(conn net.Conn) string {
	switch a := conn.RemoteAddr().(type) {
	case *net.TCPAddr:
		return a.IP.String()
	}
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return conn.RemoteAddr().String()
	}
	return host
}
