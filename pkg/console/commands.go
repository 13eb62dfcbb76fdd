package console

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eglochon/lanmesh/pkg/comms"
)

type command struct {
	tag  string
	name string
	args []string
	desc string
	// run returns true to quit
	run func(c *Console, args []string) bool
}

var commands []command

// The table is filled in init because help reads it.
func init() {
	commands = []command{
		{tag: "h", name: "help", desc: "prints a list of all the commands", run: (*Console).help},
		{tag: "q", name: "quit", desc: "closes the application", run: (*Console).quit},
		{tag: "ip", name: "local-ip", desc: "prints the ip address of your local machine", run: (*Console).localIP},
		{tag: "c", name: "connect", args: []string{"ip"}, desc: "tries to establish a connection to the specified ip", run: (*Console).connect},
		{tag: "p", name: "peers", desc: "lists all connected peers", run: (*Console).peers},
	}
}

func lookup(id string) (command, bool) {
	for _, cmd := range commands {
		if cmd.tag == id {
			return cmd, true
		}
	}
	for _, cmd := range commands {
		if cmd.name == id {
			return cmd, true
		}
	}
	return command{}, false
}

func (c *Console) runCommand(line string) bool {
	parts := strings.Fields(strings.TrimPrefix(line, commandChar))
	if len(parts) == 0 {
		c.SystemNotice("\"\" is not a valid Command! Use \"/help\" to get a list of all Commands!")
		return false
	}

	cmd, ok := lookup(parts[0])
	if !ok {
		c.SystemNotice(fmt.Sprintf("%q is not a valid Command! Use \"/help\" to get a list of all Commands!", parts[0]))
		return false
	}
	args := parts[1:]
	if len(args) != len(cmd.args) {
		c.SystemNotice(fmt.Sprintf("Wrong number of Arguments! Expected %d Arguments but found %d Arguments!", len(cmd.args), len(args)))
		return false
	}
	return cmd.run(c, args)
}

func (c *Console) help(_ []string) bool {
	var sb strings.Builder
	sb.WriteString("All Commands:")
	for _, cmd := range commands {
		sb.WriteString("\n" + commandChar + cmd.tag)
		for _, a := range cmd.args {
			sb.WriteString(" <" + a + ">")
		}
		fmt.Fprintf(&sb, " (%s: %s)", cmd.name, cmd.desc)
	}
	c.SystemNotice(sb.String())
	return false
}

func (c *Console) quit(_ []string) bool {
	c.SystemNotice("Closing Application.")
	return true
}

func (c *Console) localIP(_ []string) bool {
	ip, err := c.mesh.ResolveLocalAddress()
	if err != nil {
		c.SystemNotice(fmt.Sprintf("Could not determine your local ip: %v", err))
		return false
	}
	c.SystemNotice(fmt.Sprintf("Your local ip is %s.", ip))
	return false
}

// connect dials in the background; the handshake can take a while.
func (c *Console) connect(args []string) bool {
	addr := args[0]
	go func() {
		err := c.mesh.Connect(addr)
		if errors.Is(err, comms.ErrInvalidAddress) {
			c.SystemNotice("The specified ip was not in a valid format!")
		}
	}()
	return false
}

func (c *Console) peers(_ []string) bool {
	var lines []string
	for _, ip := range c.mesh.Peers() {
		// skip peers that dropped since the listing
		p, ok := c.mesh.Peer(ip)
		if !ok || !p.IsConnected() {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s (connected for %s)", ip, time.Since(p.Since).Truncate(time.Second)))
	}
	if len(lines) == 0 {
		c.SystemNotice("You are not connected to any Peers.")
		return false
	}
	c.SystemNotice(fmt.Sprintf("Connected Peers (%d):\n%s", len(lines), strings.Join(lines, "\n")))
	return false
}
