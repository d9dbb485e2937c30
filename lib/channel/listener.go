// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package channel

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/bureau-foundation/passagent/lib/netutil"
	"github.com/bureau-foundation/passagent/lib/protocol"
	"github.com/bureau-foundation/passagent/lib/secret"
	"github.com/bureau-foundation/passagent/lib/slot"
)

// SocketName is the file name of the agent socket inside its directory.
const SocketName = "S.passagent"

// writeTimeout bounds how long the loop blocks writing one reply.
const writeTimeout = 10 * time.Second

// eventBuffer is the capacity of the events channel.
const eventBuffer = 64

// ErrLineTooLong is carried by a Line event whose line exceeded
// protocol.MaxLineLength. The excess was discarded.
var ErrLineTooLong = errors.New("request line too long")

// ErrInUse is returned by Listen when another agent answers on the
// socket path.
var ErrInUse = errors.New("socket already in use by a running agent")

// livenessTimeout bounds the check for a live agent on the socket path.
const livenessTimeout = time.Second

// ErrUnknownConnection is returned when a handle no longer names a
// registered connection.
var ErrUnknownConnection = errors.New("unknown connection")

// EventKind discriminates Event.
type EventKind int

const (
	// Accepted carries a new connection that passed the peer check.
	// Pass it to Register.
	Accepted EventKind = iota + 1
	// Line carries one request line, without the newline.
	Line
	// Closed reports that the peer went away or the connection failed.
	Closed
)

func (k EventKind) String() string {
	switch k {
	case Accepted:
		return "accepted"
	case Line:
		return "line"
	case Closed:
		return "closed"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is produced by the I/O goroutines and consumed by the loop.
type Event struct {
	Kind EventKind

	// Conn names the connection for Line and Closed events.
	Conn slot.Handle

	// Peer is set for Accepted events.
	Peer Peer

	// Data is the request line for Line events.
	Data []byte

	// Err is ErrLineTooLong on an oversized Line event, or the
	// unexpected read error that ended a connection on Closed.
	Err error

	accepted *net.UnixConn
}

// Options configures Listen.
type Options struct {
	// Directory holds the socket. It is created with mode 0700 if
	// missing. When empty, a fresh private directory is created under
	// the system temporary directory and removed by Close.
	Directory string

	Logger *slog.Logger

	// AllowPeer decides whether a peer may connect. The default admits
	// only the agent's own uid.
	AllowPeer func(Peer) bool
}

type connection struct {
	conn    *net.UnixConn
	peer    Peer
	pending bool
}

// Listener is the agent's endpoint.
type Listener struct {
	directory    string
	ownDirectory bool
	path         string
	logger       *slog.Logger
	allowPeer    func(Peer) bool

	listener *net.UnixListener
	events   chan Event
	done     chan struct{}
	waiter   sync.WaitGroup

	connections slot.Table[*connection]
	closed      bool
}

// Listen creates the socket and starts accepting. A socket left at the
// path by an agent that is no longer running is removed first; one
// that still accepts connections makes Listen fail with ErrInUse.
func Listen(options Options) (*Listener, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	allowPeer := options.AllowPeer
	if allowPeer == nil {
		uid := uint32(os.Getuid())
		allowPeer = func(peer Peer) bool { return peer.UID == uid }
	}

	directory := options.Directory
	ownDirectory := false
	if directory == "" {
		created, err := os.MkdirTemp("", "passagent-")
		if err != nil {
			return nil, fmt.Errorf("creating socket directory: %w", err)
		}
		directory = created
		ownDirectory = true
	} else if err := preparePrivateDirectory(directory); err != nil {
		return nil, err
	}

	path := filepath.Join(directory, SocketName)
	cleanup := func() {
		if ownDirectory {
			os.RemoveAll(directory)
		}
	}

	if conn, err := net.DialTimeout("unix", path, livenessTimeout); err == nil {
		conn.Close()
		cleanup()
		return nil, fmt.Errorf("listening on %s: %w", path, ErrInUse)
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		cleanup()
		return nil, fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("listening on %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		listener.Close()
		cleanup()
		return nil, fmt.Errorf("restricting socket permissions: %w", err)
	}

	l := &Listener{
		directory:    directory,
		ownDirectory: ownDirectory,
		path:         path,
		logger:       logger,
		allowPeer:    allowPeer,
		listener:     listener,
		events:       make(chan Event, eventBuffer),
		done:         make(chan struct{}),
	}
	l.waiter.Add(1)
	go l.acceptLoop()

	logger.Info("listening", "path", path)
	return l, nil
}

// preparePrivateDirectory creates directory with mode 0700, or checks
// that an existing one is a real directory owned by this uid, and
// tightens its mode.
func preparePrivateDirectory(directory string) error {
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return fmt.Errorf("creating socket directory %s: %w", directory, err)
	}
	info, err := os.Lstat(directory)
	if err != nil {
		return fmt.Errorf("checking socket directory %s: %w", directory, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("socket directory %s is not a directory", directory)
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok && int(stat.Uid) != os.Getuid() {
		return fmt.Errorf("socket directory %s is owned by uid %d", directory, stat.Uid)
	}
	if info.Mode().Perm() != 0o700 {
		if err := os.Chmod(directory, 0o700); err != nil {
			return fmt.Errorf("restricting socket directory %s: %w", directory, err)
		}
	}
	return nil
}

// Path returns the socket path.
func (l *Listener) Path() string { return l.path }

// Events returns the channel the loop consumes.
func (l *Listener) Events() <-chan Event { return l.events }

// Count returns the number of registered connections.
func (l *Listener) Count() int { return l.connections.Len() }

// send delivers an event unless the listener is shutting down.
func (l *Listener) send(event Event) bool {
	select {
	case l.events <- event:
		return true
	case <-l.done:
		return false
	}
}

func (l *Listener) acceptLoop() {
	defer l.waiter.Done()
	for {
		conn, err := l.listener.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			select {
			case <-l.done:
				return
			default:
			}
			l.logger.Error("accept failed", "error", err)
			continue
		}

		peer, err := peerCredentials(conn)
		if err != nil {
			l.logger.Warn("refusing connection", "error", err)
			conn.Close()
			continue
		}
		if !l.allowPeer(peer) {
			l.logger.Warn("refusing connection from foreign peer", "uid", peer.UID, "pid", peer.PID)
			conn.Close()
			continue
		}

		if !l.send(Event{Kind: Accepted, Peer: peer, accepted: conn}) {
			conn.Close()
			return
		}
	}
}

// Register adds the connection carried by an Accepted event to the
// table and starts reading from it.
func (l *Listener) Register(event Event) (slot.Handle, error) {
	if event.Kind != Accepted || event.accepted == nil {
		return slot.Handle{}, fmt.Errorf("registering %s event", event.Kind)
	}
	if l.closed {
		event.accepted.Close()
		return slot.Handle{}, net.ErrClosed
	}
	handle := l.connections.Insert(&connection{conn: event.accepted, peer: event.Peer})
	l.waiter.Add(1)
	go l.readLoop(handle, event.accepted)
	l.logger.Debug("client connected", "conn", handle, "pid", event.Peer.PID)
	return handle, nil
}

func (l *Listener) readLoop(handle slot.Handle, conn *net.UnixConn) {
	defer l.waiter.Done()
	reader := bufio.NewReaderSize(conn, protocol.MaxLineLength+1)
	for {
		line, err := readRequestLine(reader)
		if err != nil && !errors.Is(err, ErrLineTooLong) {
			var closeErr error
			if netutil.Classify(err) != netutil.Hangup {
				closeErr = err
			}
			l.send(Event{Kind: Closed, Conn: handle, Err: closeErr})
			return
		}
		if !l.send(Event{Kind: Line, Conn: handle, Data: line, Err: err}) {
			return
		}
	}
}

// readRequestLine returns the next line without its newline. An
// oversized line is consumed through its newline and reported as
// ErrLineTooLong.
func readRequestLine(reader *bufio.Reader) ([]byte, error) {
	fragment, err := reader.ReadSlice('\n')
	if err == nil {
		line := make([]byte, len(fragment)-1)
		copy(line, fragment)
		return line, nil
	}
	if !errors.Is(err, bufio.ErrBufferFull) {
		return nil, err
	}
	for errors.Is(err, bufio.ErrBufferFull) {
		_, err = reader.ReadSlice('\n')
	}
	if err != nil {
		return nil, err
	}
	return nil, ErrLineTooLong
}

// Decode turns a Line event into a request. On a protocol error, or
// when the connection already has a request outstanding, it answers
// ERR itself and returns false.
func (l *Listener) Decode(event Event) (protocol.Request, bool) {
	entry, ok := l.connections.Get(event.Conn)
	if !ok {
		return protocol.Request{}, false
	}
	if entry.pending {
		l.write(event.Conn, entry, protocol.Errorf("request already pending"))
		return protocol.Request{}, false
	}
	if event.Err != nil {
		l.write(event.Conn, entry, protocol.Errorf("%v", event.Err))
		return protocol.Request{}, false
	}
	request, err := protocol.ParseRequest(event.Data)
	if err != nil {
		l.logger.Debug("malformed request", "conn", event.Conn, "error", err)
		l.write(event.Conn, entry, protocol.Errorf("%v", err))
		return protocol.Request{}, false
	}
	entry.pending = true
	return request, true
}

// Reply answers the outstanding request on conn.
func (l *Listener) Reply(conn slot.Handle, reply protocol.Reply) error {
	entry, ok := l.connections.Get(conn)
	if !ok {
		return ErrUnknownConnection
	}
	entry.pending = false
	return l.write(conn, entry, reply)
}

func (l *Listener) write(handle slot.Handle, entry *connection, reply protocol.Reply) error {
	encoded := protocol.AppendReply(nil, reply)
	defer secret.Zero(encoded)

	entry.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := entry.conn.Write(encoded); err != nil {
		// The reader sees the closed socket and reports Closed.
		entry.conn.Close()
		switch netutil.Classify(err) {
		case netutil.Stalled:
			l.logger.Warn("client stopped reading replies", "conn", handle)
		case netutil.Failure:
			l.logger.Warn("writing reply failed", "conn", handle, "error", err)
		}
		return fmt.Errorf("writing reply: %w", err)
	}
	return nil
}

// Release closes conn and removes it from the table. Releasing an
// unknown handle is a no-op.
func (l *Listener) Release(conn slot.Handle) {
	entry, ok := l.connections.Remove(conn)
	if !ok {
		return
	}
	entry.conn.Close()
	l.logger.Debug("client disconnected", "conn", conn)
}

// drainEvents discards events the loop never consumed, closing
// connections that were accepted but not yet registered.
func (l *Listener) drainEvents() {
	for {
		select {
		case event := <-l.events:
			if event.accepted != nil {
				event.accepted.Close()
			}
		default:
			return
		}
	}
}

// Close stops accepting, closes every connection, waits for the I/O
// goroutines, and removes the socket. A directory created by Listen is
// removed too.
func (l *Listener) Close() error {
	if l.closed {
		return nil
	}
	l.closed = true
	close(l.done)
	err := l.listener.Close()
	l.connections.Each(func(_ slot.Handle, entry *connection) {
		entry.conn.Close()
	})
	l.waiter.Wait()
	l.connections = slot.Table[*connection]{}
	l.drainEvents()

	if removeErr := os.Remove(l.path); removeErr != nil && !os.IsNotExist(removeErr) {
		err = errors.Join(err, removeErr)
	}
	if l.ownDirectory {
		if removeErr := os.RemoveAll(l.directory); removeErr != nil {
			err = errors.Join(err, removeErr)
		}
	}
	return err
}
