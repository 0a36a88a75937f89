package singleinstance

// Single-instance ownership over a loopback TCP port. The resident owns the
// port; later launches use it to forward commands instead of starting a
// second hotkey hook.

import (
	"context"
	"errors"
)

// ErrAlreadyRunning is returned by Server.Start when another resident answers
// on the port.
var ErrAlreadyRunning = errors.New("another instance is already running")

const DefaultPort = 49560

// Commands a client can forward to the resident.
const (
	CommandCapture = "CAPTURE"
	CommandReset   = "RESET"
	CommandStatus  = "STATUS"
)

// Server owns the TCP endpoint and answers forwarded commands.
type Server interface {
	// Start binds 127.0.0.1:port and begins accepting clients.
	Start(ctx context.Context) error
	// Port returns the bound TCP port, or 0 if not started.
	Port() int
	// Next returns the next accepted connection as a Conn, or ctx error.
	Next(ctx context.Context) (Conn, error)
	// Close releases ownership and stops accepting clients.
	Close() error
}

// Conn represents one client connection and exposes request + response API.
type Conn interface {
	Request() Request
	RespondSuccess(text string) error
	RespondError(msg string) error
	Close() error
}

// Request represents a single forwarded command.
type Request struct {
	Command string
}

// Client forwards one command to a resident.
type Client interface {
	// Send delivers cmd and waits for the reply. If no resident answers,
	// returns delegated=false, err=nil.
	Send(ctx context.Context, cmd string) (delegated bool, text string, err error)
}

// NewServer returns TCP implementation bound to port (DefaultPort when <= 0).
func NewServer(port int) Server { return newTcpServer(normalizePort(port)) }

// NewClient returns TCP implementation targeting port (DefaultPort when <= 0).
func NewClient(port int) Client { return newTcpClient(normalizePort(port)) }

func normalizePort(port int) int {
	if port <= 0 || port > 65535 {
		return DefaultPort
	}
	return port
}
