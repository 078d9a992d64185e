// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package server

import (
	"bufio"
	"log/slog"
	"net"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/iox"
	"code.hybscloud.com/lfq"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"code.hybscloud.com/tickrpc"
	"code.hybscloud.com/tickrpc/internal/wire"
)

// msgConn exchanges whole messages regardless of framing.
// ReadMessage is called by one goroutine and WriteMessage by one other.
type msgConn interface {
	ReadMessage() ([]byte, error)
	WriteMessage(b []byte) error
	Close() error
	RemoteAddr() net.Addr
}

// tcpConn frames messages with varint length prefixes.
type tcpConn struct {
	net.Conn
	r *bufio.Reader
}

func newTCPConn(c net.Conn) *tcpConn {
	return &tcpConn{Conn: c, r: bufio.NewReader(c)}
}

func (c *tcpConn) ReadMessage() ([]byte, error) {
	return wire.ReadFrame(c.r)
}

func (c *tcpConn) WriteMessage(b []byte) error {
	return wire.WriteFrame(c.Conn, b)
}

// wsConn carries one message per binary WebSocket message.
type wsConn struct {
	*websocket.Conn
}

func (c wsConn) ReadMessage() ([]byte, error) {
	for {
		typ, b, err := c.Conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if typ == websocket.BinaryMessage {
			return b, nil
		}
	}
}

func (c wsConn) WriteMessage(b []byte) error {
	return c.Conn.WriteMessage(websocket.BinaryMessage, b)
}

// inbound is a decoded request travelling from a reader goroutine to the
// scheduler.
type inbound struct {
	id     tickrpc.RequestID
	wireID uint64
	call   tickrpc.Call
}

// link is the state shared by the I/O goroutines of one connection and the
// scheduler: a bounded SPSC outbound queue and a close flag. backlog holds
// messages that did not fit in out and is scheduler-owned.
type link struct {
	mc      msgConn
	out     lfq.SPSC[[]byte]
	backlog [][]byte
	limit   int
	closed  atomix.Uint32
	log     *slog.Logger
}

func (l *link) init(mc msgConn, capacity int, log *slog.Logger) {
	l.mc = mc
	l.out.Init(capacity)
	l.limit = capacity
	l.log = log
}

// isClosed reports whether either side has closed the connection.
func (l *link) isClosed() bool {
	return l.closed.Load() != 0
}

// close closes the underlying connection once.
func (l *link) close() error {
	if l.closed.Add(1) != 1 {
		return nil
	}
	return l.mc.Close()
}

// send queues an encoded message for the writer goroutine without blocking.
// Called on the scheduler goroutine. A message that does not fit is held in
// the backlog; a peer whose backlog outgrows the queue capacity is not
// reading and its connection is closed.
func (l *link) send(b []byte) {
	if l.isClosed() {
		return
	}
	if l.flush() && l.out.Enqueue(&b) == nil {
		return
	}
	if len(l.backlog) >= l.limit {
		l.log.Warn("peer not reading, closing connection", "backlog", len(l.backlog))
		l.backlog = nil
		_ = l.close()
		return
	}
	l.backlog = append(l.backlog, b)
}

// flush moves backlogged messages into the outbound queue in order and
// reports whether the backlog is empty. Called on the scheduler goroutine.
func (l *link) flush() bool {
	for len(l.backlog) > 0 {
		if l.out.Enqueue(&l.backlog[0]) != nil {
			return false
		}
		l.backlog[0] = nil
		l.backlog = l.backlog[1:]
	}
	l.backlog = nil
	return true
}

// writeLoop drains the outbound queue onto the connection until it closes.
func (l *link) writeLoop() {
	var bo iox.Backoff
	for {
		b, err := l.out.Dequeue()
		if err != nil {
			if l.isClosed() {
				return
			}
			bo.Wait()
			continue
		}
		bo.Reset()
		if err := l.mc.WriteMessage(b); err != nil {
			l.log.Debug("write failed", "err", err)
			_ = l.close()
			return
		}
	}
}

// client is an RPC connection.
//
// The reader goroutine is the single producer of in; the scheduler is its
// single consumer. The scheduler is the single producer of out; the writer
// goroutine is its single consumer. wireIDs and streams are scheduler-owned.
type client struct {
	link
	id      uuid.UUID
	name    string
	in      lfq.SPSC[inbound]
	wireIDs map[tickrpc.RequestID]uint64
}

func newClient(mc msgConn, id uuid.UUID, name string, capacity int, log *slog.Logger) *client {
	c := &client{
		id:      id,
		name:    name,
		wireIDs: make(map[tickrpc.RequestID]uint64),
	}
	c.link.init(mc, capacity, log.With("client", c.id, "remote", mc.RemoteAddr()))
	c.in.Init(capacity)
	return c
}

// readLoop decodes requests and hands them to the scheduler until the
// connection fails or closes. In echo mode every message is written back
// verbatim instead, and the writer goroutine is not started.
func (c *client) readLoop(echo bool) {
	defer c.close()
	var bo iox.Backoff
	for {
		b, err := c.mc.ReadMessage()
		if err != nil {
			if !c.isClosed() {
				c.log.Debug("client disconnected", "err", err)
			}
			return
		}
		if echo {
			if err := c.mc.WriteMessage(b); err != nil {
				return
			}
			continue
		}
		var req wire.Request
		if err := req.Unmarshal(b); err != nil {
			c.log.Warn("malformed request", "err", err)
			return
		}
		item := inbound{
			id:     tickrpc.NextRequestID(),
			wireID: req.ID,
			call:   tickrpc.Call{Service: req.Service, Procedure: req.Procedure, Args: req.Args},
		}
		for c.in.Enqueue(&item) != nil {
			if c.isClosed() {
				return
			}
			bo.Wait()
		}
		bo.Reset()
	}
}

// drain moves every queued request into the scheduler's inbox.
func (c *client) drain(in *tickrpc.Inbox) {
	for {
		item, err := c.in.Dequeue()
		if err != nil {
			return
		}
		c.wireIDs[item.id] = item.wireID
		in.Push(tickrpc.Request{ID: item.id, Client: c.id, Call: item.call})
	}
}

// streamConn is the stream connection paired with an RPC client.
type streamConn struct {
	link
	client uuid.UUID
}

func newStreamConn(mc msgConn, client uuid.UUID, capacity int, log *slog.Logger) *streamConn {
	sc := &streamConn{client: client}
	sc.link.init(mc, capacity, log.With("stream", client, "remote", mc.RemoteAddr()))
	return sc
}

// watch closes the stream connection when the peer hangs up. Stream
// connections carry no client messages after the handshake.
func (sc *streamConn) watch() {
	defer sc.close()
	for {
		if _, err := sc.mc.ReadMessage(); err != nil {
			return
		}
	}
}
