package singleinstance

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"
)

type tcpClient struct {
	port int
}

func newTcpClient(port int) *tcpClient { return &tcpClient{port: port} }

func (c *tcpClient) Send(ctx context.Context, cmd string) (bool, string, error) {
	addr := net.JoinHostPort(residentHost, fmt.Sprint(c.port))
	if !ping(addr, 300*time.Millisecond) {
		return false, "", nil
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false, "", nil
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	w := bufio.NewWriter(conn)
	if _, err := w.WriteString(cmd + "\n"); err != nil {
		return true, "", err
	}
	if err := w.Flush(); err != nil {
		return true, "", err
	}

	br := bufio.NewReader(conn)
	status, err := br.ReadString('\n')
	if err != nil {
		return true, "", err
	}
	body, _ := io.ReadAll(br)
	switch status {
	case statusOK:
		return true, string(body), nil
	case statusError:
		return true, "", errors.New(string(body))
	default:
		return true, "", fmt.Errorf("unexpected reply %q", status)
	}
}

// ping reports whether a resident answers on addr.
func ping(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(timeout))
	w := bufio.NewWriter(conn)
	if _, err := w.WriteString(pingRequest); err != nil {
		return false
	}
	if err := w.Flush(); err != nil {
		return false
	}
	resp, err := bufio.NewReader(conn).ReadString('\n')
	return err == nil && resp == pongResponse
}
