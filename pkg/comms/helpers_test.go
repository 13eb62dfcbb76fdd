package comms

import (
	"fmt"
	"net"
	"slices"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// recorder is a Display that keeps everything it is shown.
type recorder struct {
	logs *observer.ObservedLogs

	mu       sync.Mutex
	chats    []string
	controls []string
	notices  []string
	sent     []string
}

func (r *recorder) ChatReceived(peer, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chats = append(r.chats, peer+": "+text)
}

func (r *recorder) ControlReceived(peer, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.controls = append(r.controls, peer+": "+text)
}

func (r *recorder) SystemNotice(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, text)
}

func (r *recorder) MessageSent(target, text string, control bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, fmt.Sprintf("%s|%s|%v", target, text, control))
}

func (r *recorder) Chats() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.chats)
}

func (r *recorder) Controls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.controls)
}

func (r *recorder) hasNotice(text string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Contains(r.notices, text)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

// remote is the far end of a piped connection registered with a manager.
type remote struct {
	conn   net.Conn
	frames chan string
}

func newRemote(t *testing.T, pm *PeerManager, ip string) *remote {
	t.Helper()
	local, far := net.Pipe()
	r := &remote{conn: far, frames: make(chan string, 64)}
	go func() {
		defer close(r.frames)
		fr := NewFrameReader(far)
		for {
			f, err := fr.Next()
			if err != nil {
				return
			}
			r.frames <- f
		}
	}()
	t.Cleanup(func() { _ = far.Close() })

	if _, err := pm.RegisterPeer(NewFramedConn(local, ip)); err != nil {
		t.Fatalf("RegisterPeer(%s): %v", ip, err)
	}
	return r
}

func (r *remote) send(t *testing.T, payload string) {
	t.Helper()
	b, err := EncodeFrame(payload)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := r.conn.Write(b); err != nil {
		t.Fatalf("remote write: %v", err)
	}
}

func (r *remote) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got, ok := <-r.frames:
		if !ok {
			t.Fatalf("connection closed, wanted %q", want)
		}
		if got != want {
			t.Fatalf("got frame %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timeout waiting for %q", want)
	}
}

func (r *remote) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case got, ok := <-r.frames:
		if ok {
			t.Fatalf("unexpected frame %q", got)
		}
	case <-time.After(wait):
	}
}

func (r *remote) expectClosed(t *testing.T) {
	t.Helper()
	for {
		select {
		case _, ok := <-r.frames:
			if !ok {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("connection was not closed")
		}
	}
}

func newTestManager(t *testing.T, localIP string, d Dialer) (*PeerManager, *recorder) {
	t.Helper()
	core, logs := observer.New(zap.DebugLevel)
	rec := &recorder{logs: logs}
	pm := NewPeerManager(Options{
		Dialer:       d,
		Display:      rec,
		Logger:       zap.New(core),
		ResolveLocal: func() (string, error) { return localIP, nil },
	})
	t.Cleanup(func() { _ = pm.Stop() })
	return pm, rec
}

// memNet connects managers with in-memory pipes, keyed by synthetic IPs.
type memNet struct {
	mu    sync.Mutex
	nodes map[string]*PeerManager
	dials map[string]int
}

func newMemNet() *memNet {
	return &memNet{nodes: make(map[string]*PeerManager), dials: make(map[string]int)}
}

func (n *memNet) add(t *testing.T, ip string) (*PeerManager, *recorder) {
	t.Helper()
	pm, rec := newTestManager(t, ip, &memDialer{net: n, from: ip})
	n.mu.Lock()
	n.nodes[ip] = pm
	n.mu.Unlock()
	return pm, rec
}

func (n *memNet) dialCount(from, to string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dials[from+">"+to]
}

type memDialer struct {
	net  *memNet
	from string
}

func (d *memDialer) Dial(ip string) (*FramedConn, error) {
	d.net.mu.Lock()
	target, ok := d.net.nodes[ip]
	d.net.dials[d.from+">"+ip]++
	d.net.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: no route to %s", ErrConnectionFailure, ip)
	}

	local, far := net.Pipe()
	go func() { _ = target.Accept(NewFramedConn(far, d.from)) }()
	return NewFramedConn(local, ip), nil
}

// dialFunc adapts a function to Dialer.
type dialFunc func(ip string) (*FramedConn, error)

func (f dialFunc) Dial(ip string) (*FramedConn, error) { return f(ip) }
