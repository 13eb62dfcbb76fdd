// Package console is the operator terminal: it renders mesh traffic and
// turns typed lines into chat messages or local commands.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/eglochon/lanmesh/pkg/comms"
)

const (
	clearLine   = "\r\x1b[2K"
	promptText  = "> "
	systemTag   = "[System] "
	controlTag  = "[Control] "
	commandChar = "/"
)

// Mesh is the part of the peer manager the console drives.
type Mesh interface {
	ResolveLocalAddress() (string, error)
	Connect(addr string) error
	Send(target, payload string) error
	Peers() []string
	Peer(ip string) (*comms.Peer, bool)
}

// Console implements comms.Display and reads user input.
type Console struct {
	in   io.Reader
	out  io.Writer
	mesh Mesh

	// Prompt enables the "> " input prompt and line clearing for terminals.
	Prompt bool

	mu sync.Mutex
}

var _ comms.Display = (*Console)(nil)

func New(in io.Reader, out io.Writer) *Console {
	return &Console{in: in, out: out}
}

// Attach sets the mesh commands act on. It must be called before Run.
func (c *Console) Attach(m Mesh) {
	c.mesh = m
}

// Run processes input lines until EOF, /quit or ctx is done.
func (c *Console) Run(ctx context.Context) error {
	c.SystemNotice("Application started. Use \"/help\" to get a list of all commands,")
	c.SystemNotice("or just write a normal message to send a message to all connected Peers.")

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		sc := bufio.NewScanner(c.in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		readErr <- sc.Err()
	}()

	for {
		c.showPrompt()
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			if quit := c.Handle(line); quit {
				return nil
			}
		}
	}
}

// Handle processes one input line and reports whether the user asked to quit.
func (c *Console) Handle(line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case strings.HasPrefix(line, commandChar):
		return c.runCommand(line)
	case comms.IsControlFrame(line):
		c.SystemNotice(fmt.Sprintf("Your message can not begin with %s! Your message has not been sent.", comms.ControlPrefix))
		return false
	}

	c.print("You: " + line)
	if err := c.mesh.Send(comms.Broadcast, line); err != nil {
		c.SystemNotice(fmt.Sprintf("Your message could not be delivered to every Peer: %v", err))
	}
	return false
}

func (c *Console) ChatReceived(peer, text string) {
	c.print(fmt.Sprintf("%s: %s", peer, text))
}

func (c *Console) ControlReceived(peer, text string) {
	if peer == "" {
		peer = "Unknown"
	}
	c.print(fmt.Sprintf("%s%s: %s", controlTag, peer, text))
}

// SystemNotice prints a possibly multi-line message, tagging each line.
func (c *Console) SystemNotice(text string) {
	c.print(systemTag + strings.ReplaceAll(text, "\n", "\n"+systemTag))
}

func (c *Console) MessageSent(target, text string, control bool) {
	if target == comms.Broadcast {
		target = "all"
	}
	prefix := fmt.Sprintf("[Out->%s] ", target)
	if control {
		prefix = fmt.Sprintf("[Out->%s]%s", target, controlTag)
	}
	c.print(prefix + text)
}

func (c *Console) print(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Prompt {
		fmt.Fprint(c.out, clearLine)
	}
	fmt.Fprintln(c.out, s)
	if c.Prompt {
		fmt.Fprint(c.out, promptText)
	}
}

func (c *Console) showPrompt() {
	if !c.Prompt {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, clearLine+promptText)
}
