package comms

import (
	"fmt"
	"net"
	"strings"
)

const (
	// ControlPrefix starts every control frame. Chat payloads may not begin with it.
	ControlPrefix = "$c"
	// ArgDelimiter separates the prefix, directive tag and arguments.
	ArgDelimiter = " "
	tagPrefix    = "/"
)

// DirectiveKind enumerates the control directives understood on the wire.
type DirectiveKind int

const (
	// DirectiveIntroduce tells the receiver to connect to the carried address.
	DirectiveIntroduce DirectiveKind = iota + 1
)

var directiveTags = map[DirectiveKind]string{
	DirectiveIntroduce: "con",
}

func (k DirectiveKind) String() string {
	if tag, ok := directiveTags[k]; ok {
		return tag
	}
	return fmt.Sprintf("DirectiveKind(%d)", int(k))
}

// Directive is a decoded control frame.
type Directive struct {
	Kind DirectiveKind
	// Address is the node to connect to, for DirectiveIntroduce.
	Address string
}

// Introduce builds a peer-introduction directive for addr.
func Introduce(addr string) Directive {
	return Directive{Kind: DirectiveIntroduce, Address: addr}
}

func (d Directive) args() []string {
	switch d.Kind {
	case DirectiveIntroduce:
		return []string{d.Address}
	}
	return nil
}

// Encode renders the directive as a control frame payload,
// e.g. "$c /con 10.0.0.3".
func (d Directive) Encode() (string, error) {
	tag, ok := directiveTags[d.Kind]
	if !ok {
		return "", fmt.Errorf("%w: unknown directive %d", ErrProtocolViolation, int(d.Kind))
	}
	parts := []string{ControlPrefix, tagPrefix + tag}
	for _, a := range d.args() {
		if a == "" || strings.Contains(a, ArgDelimiter) {
			return "", fmt.Errorf("%w: bad argument %q for %s", ErrProtocolViolation, a, d.Kind)
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, ArgDelimiter), nil
}

// IsControlFrame reports whether frame carries the control prefix.
func IsControlFrame(frame string) bool {
	return strings.HasPrefix(frame, ControlPrefix)
}

// ParseDirective decodes a control frame. Frames without the prefix, unknown
// tags, wrong argument counts and invalid addresses all fail with
// ErrProtocolViolation.
func ParseDirective(frame string) (Directive, error) {
	parts := strings.Split(frame, ArgDelimiter)
	if len(parts) < 2 || parts[0] != ControlPrefix {
		return Directive{}, fmt.Errorf("%w: malformed control frame %q", ErrProtocolViolation, frame)
	}
	tag, ok := strings.CutPrefix(parts[1], tagPrefix)
	if !ok {
		return Directive{}, fmt.Errorf("%w: missing directive tag in %q", ErrProtocolViolation, frame)
	}
	args := parts[2:]

	switch tag {
	case directiveTags[DirectiveIntroduce]:
		if len(args) != 1 {
			return Directive{}, fmt.Errorf("%w: %s expects 1 argument, got %d", ErrProtocolViolation, tag, len(args))
		}
		if net.ParseIP(args[0]) == nil {
			return Directive{}, fmt.Errorf("%w: %s carries invalid address %q", ErrProtocolViolation, tag, args[0])
		}
		return Introduce(args[0]), nil
	}
	return Directive{}, fmt.Errorf("%w: unknown directive %q", ErrProtocolViolation, tag)
}
