package comms

// Broadcast as a send target addresses every connected peer.
const Broadcast = ""

// Display receives everything the operator should see. Implementations
// must be safe for concurrent use; calls arrive from receive loops and
// listeners in parallel.
type Display interface {
	// ChatReceived is called for every chat frame from peer.
	ChatReceived(peer, text string)
	// ControlReceived is called for control traffic. peer is empty when the
	// origin is unknown, e.g. a discovery datagram.
	ControlReceived(peer, text string)
	SystemNotice(text string)
	// MessageSent is called after a send; target is Broadcast for fan-out.
	MessageSent(target, text string, control bool)
}

type nopDisplay struct{}

func (nopDisplay) ChatReceived(string, string) {}
func (nopDisplay) ControlReceived(string, string) {}
func (nopDisplay) SystemNotice(string) {}
func (nopDisplay) MessageSent(string, string, bool) {}
