// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agentclient speaks the passagent line protocol from the
// client side. One Client wraps one connection; requests on it are
// serialized because the agent answers one request per connection at a
// time.
package agentclient

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/bureau-foundation/passagent/lib/announce"
	"github.com/bureau-foundation/passagent/lib/protocol"
	"github.com/bureau-foundation/passagent/lib/secret"
)

// ErrClosed is returned by calls on a Client whose connection has been
// closed, either by Close or after a failed or cancelled request.
var ErrClosed = errors.New("agent connection closed")

// ReplyError is an ERR reply from the agent.
type ReplyError struct {
	Reason string
}

func (e *ReplyError) Error() string {
	return "agent: " + e.Reason
}

// IsReason reports whether err is an ERR reply with the given reason.
func IsReason(err error, reason string) bool {
	var reply *ReplyError
	return errors.As(err, &reply) && reply.Reason == reason
}

// GetPassRequest describes one passphrase request.
type GetPassRequest struct {
	ID           string
	Prompt       string
	Description  string
	ErrorMessage string

	// Repeat asks for a fresh prompt even if the id is cached.
	Repeat bool

	// AsData asks for the secret in data lines rather than inline.
	AsData bool
}

// Client is a connection to a running agent. A request that fails
// after it was sent, including one whose context ends, closes the
// connection: the agent cancels the request when it sees the hangup,
// and a reply arriving later can never be read by another call.
type Client struct {
	mu     sync.Mutex
	conn   *net.UnixConn
	reader *bufio.Reader
	broken error
}

// Dial connects to the agent listening at socketPath.
func Dial(ctx context.Context, socketPath string) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting to agent at %s: %w", socketPath, err)
	}
	return &Client{
		conn:   conn.(*net.UnixConn),
		reader: bufio.NewReaderSize(conn, protocol.MaxLineLength+2),
	}, nil
}

// DialEnvironment connects to the agent named by PASSAGENT_INFO.
func DialEnvironment(ctx context.Context) (*Client, error) {
	info, err := announce.Lookup(os.Getenv)
	if err != nil {
		return nil, err
	}
	return Dial(ctx, info.Socket)
}

// Close closes the connection. The agent treats this as a cancel of
// any request still outstanding on it. Closing twice returns nil.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.broken != nil {
		return nil
	}
	c.broken = ErrClosed
	return c.conn.Close()
}

// GetPass asks the agent for the secret of request.ID. The call blocks
// while the agent prompts the user; cancelling ctx closes the wait by
// expiring the connection deadline. The caller must Close the returned
// buffer.
func (c *Client) GetPass(ctx context.Context, request GetPassRequest) (*secret.Buffer, error) {
	var flags protocol.Flags
	if request.Repeat {
		flags |= protocol.FlagRepeat
	}
	if request.AsData {
		flags |= protocol.FlagPassAsData
	}

	response, err := c.roundTrip(ctx, protocol.Request{
		Verb:         protocol.VerbGetPass,
		ID:           request.ID,
		Flags:        flags,
		Prompt:       request.Prompt,
		Description:  request.Description,
		ErrorMessage: request.ErrorMessage,
	})
	if err != nil {
		return nil, err
	}
	if len(response.Data) == 0 {
		return nil, errors.New("agent returned OK without a secret")
	}
	buffer, err := secret.NewFromBytes(response.Data)
	if err != nil {
		secret.Zero(response.Data)
		return nil, fmt.Errorf("storing secret: %w", err)
	}
	return buffer, nil
}

// ClearPass removes id from the agent's cache.
func (c *Client) ClearPass(ctx context.Context, id string) error {
	response, err := c.roundTrip(ctx, protocol.Request{
		Verb: protocol.VerbClearPass,
		ID:   id,
	})
	if err != nil {
		return err
	}
	secret.Zero(response.Data)
	return nil
}

func (c *Client) roundTrip(ctx context.Context, request protocol.Request) (protocol.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.broken != nil {
		return protocol.Response{}, fmt.Errorf("sending %s: %w", request.Verb, c.broken)
	}
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetDeadline(deadline)
	} else {
		c.conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
	})
	defer stop()

	line := protocol.AppendRequest(nil, request)
	if _, err := c.conn.Write(line); err != nil {
		c.abandon()
		return protocol.Response{}, contextError(ctx, fmt.Errorf("sending %s: %w", request.Verb, err))
	}

	response, err := protocol.ReadResponse(c.reader)
	if err != nil {
		c.abandon()
		return protocol.Response{}, contextError(ctx, fmt.Errorf("reading %s reply: %w", request.Verb, err))
	}
	if !response.OK {
		return protocol.Response{}, &ReplyError{Reason: response.Reason}
	}
	return response, nil
}

// abandon closes the connection after a request whose reply will not
// be read. Called with mu held.
func (c *Client) abandon() {
	c.broken = ErrClosed
	c.conn.Close()
}

// contextError prefers the context's error when it caused the failure.
func contextError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", ctxErr, err)
	}
	return err
}
