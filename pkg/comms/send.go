package comms

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Send delivers a chat payload to one peer, or to every peer when target
// is Broadcast.
func (pm *PeerManager) Send(target, payload string) error {
	if IsControlFrame(payload) {
		return ErrReservedPrefix
	}
	return pm.sendAny(target, payload, false)
}

// SendControl delivers an encoded control directive, routed like Send.
func (pm *PeerManager) SendControl(target string, d Directive) error {
	payload, err := d.Encode()
	if err != nil {
		return err
	}
	return pm.sendAny(target, payload, true)
}

func (pm *PeerManager) sendAny(target, payload string, control bool) error {
	if strings.IndexByte(payload, Terminator) >= 0 {
		return ErrInvalidPayload
	}

	var peers []*Peer
	pm.mu.RLock()
	if target == Broadcast {
		peers = make([]*Peer, 0, len(pm.peers))
		for _, p := range pm.peers {
			peers = append(peers, p)
		}
	} else if p, ok := pm.peers[target]; ok {
		peers = []*Peer{p}
	}
	pm.mu.RUnlock()

	if target != Broadcast && len(peers) == 0 {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, target)
	}

	err := pm.sendAll(peers, payload)
	pm.display.MessageSent(target, payload, control)
	return err
}

// sendAll writes payload to each peer. Peers that were disconnected after
// the snapshot are skipped. Peers whose connection fails are unregistered;
// their errors are combined.
func (pm *PeerManager) sendAll(peers []*Peer, payload string) error {
	var errs error
	for _, p := range peers {
		if !p.IsConnected() {
			continue
		}
		if err := p.Conn.Send(payload); err != nil {
			pm.log.Warn("send failed", zap.String("peer", p.IP), zap.Error(err))
			errs = multierr.Append(errs, err)
			pm.UnregisterPeer(p)
		}
	}
	return errs
}
