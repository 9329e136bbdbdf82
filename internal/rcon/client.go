// Package rcon runs single commands against game servers speaking the
// Source RCON protocol.
package rcon

import (
	"context"
	"net"
	"strconv"
	"time"

	gorcon "github.com/gorcon/rcon"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/reedfamily/rconwatch/internal/config"
)

const DefaultTimeout = 10 * time.Second

// Client opens a fresh connection for every query. It never retries.
type Client struct {
	Timeout time.Duration
}

func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{Timeout: timeout}
}

type result struct {
	body string
	err  error
}

// Query dials srv, authenticates, executes command and closes the
// connection. Dial, auth and reply together must finish within the client
// timeout or the earlier ctx deadline, otherwise a *TimeoutError is returned.
// Other failures come back as *ConnectionError.
func (c *Client) Query(ctx context.Context, srv config.ServerConfig, command string) (string, error) {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	deadline, _ := ctx.Deadline()
	budget := time.Until(deadline)
	if budget <= 0 {
		return "", &TimeoutError{Server: srv.Name, After: timeout}
	}

	addr := net.JoinHostPort(srv.Host, strconv.Itoa(srv.Port))
	done := make(chan result, 1)

	go func() {
		body, err := exec(addr, srv.Password, command, budget)
		done <- result{body: body, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			return "", classify(srv.Name, timeout, res.err)
		}
		return res.body, nil
	case <-ctx.Done():
		// exec is bounded by the same budget and closes its own connection.
		log.WithField("server", srv.Name).Debug("rcon query abandoned at deadline")
		return "", &TimeoutError{Server: srv.Name, After: timeout}
	}
}

func exec(addr, password, command string, budget time.Duration) (string, error) {
	conn, err := gorcon.Dial(addr, password,
		gorcon.SetDialTimeout(budget),
		gorcon.SetDeadline(budget),
	)
	if err != nil {
		return "", errors.Wrap(err, "dial")
	}
	defer conn.Close()

	body, err := conn.Execute(command)
	if err != nil {
		return "", errors.Wrapf(err, "execute %q", command)
	}
	return body, nil
}

func classify(server string, timeout time.Duration, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TimeoutError{Server: server, After: timeout}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Server: server, After: timeout}
	}
	return &ConnectionError{Server: server, Err: err}
}
