// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package server hosts tickrpc procedures over an RPC transport and a
// stream transport, each bound to its own TCP port.
//
// I/O runs on per-connection goroutines that only exchange messages with
// the scheduler through bounded lock-free queues from
// [code.hybscloud.com/lfq]; every request is executed on the scheduler
// goroutine via [Server.Poll], and every reply leaves via [Server.Deliver].
// The scheduler never blocks on a connection: replies to a peer that stops
// reading are held briefly and the connection is closed when they pile up.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/lfq"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"code.hybscloud.com/tickrpc"
	"code.hybscloud.com/tickrpc/internal/wire"
)

// acceptBacklog bounds connections accepted but not yet seen by the scheduler.
const acceptBacklog = 64

// ErrStarted is returned by Start on a Server that was already started.
var ErrStarted = errors.New("server: already started")

// Server is a tickrpc.Host serving one RPC and one stream transport.
type Server struct {
	id   uuid.UUID
	cfg  Config
	rt   *tickrpc.Runtime
	log  *slog.Logger
	echo bool

	started atomix.Uint32
	stopped atomix.Uint32

	rpcLn    net.Listener
	streamLn net.Listener
	httpSrvs []*http.Server
	wg       sync.WaitGroup

	// Handoff from accepting goroutines to the scheduler.
	acceptedRPC    lfq.MPSC[*client]
	acceptedStream lfq.MPSC[*streamConn]

	// live tracks open connections for Stop and stream pairing. A nil
	// client is reserved by a handshake in progress.
	mu   sync.Mutex
	live map[uuid.UUID]*client
	subs map[*streamConn]struct{}

	// Scheduler-owned.
	clients     map[uuid.UUID]*client
	streamConns map[uuid.UUID]*streamConn
	streams     streamTable
	tick        uint64
}

// New returns an unstarted Server. cfg is validated here.
func New(rt *tickrpc.Runtime, cfg Config, log *slog.Logger) (*Server, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	s := &Server{
		id:          uuid.New(),
		cfg:         cfg,
		rt:          rt,
		log:         log.With("server", cfg.Name),
		echo:        cfg.Protocol == WebSocketsEcho,
		live:        make(map[uuid.UUID]*client),
		subs:        make(map[*streamConn]struct{}),
		clients:     make(map[uuid.UUID]*client),
		streamConns: make(map[uuid.UUID]*streamConn),
		streams:     newStreamTable(),
	}
	s.acceptedRPC.Init(acceptBacklog)
	s.acceptedStream.Init(acceptBacklog)
	return s, nil
}

// ID returns the server's unique identifier.
func (s *Server) ID() uuid.UUID { return s.id }

// Name returns the configured server name.
func (s *Server) Name() string { return s.cfg.Name }

// Protocol returns the configured protocol.
func (s *Server) Protocol() Protocol { return s.cfg.Protocol }

// Running reports whether the server is started and not stopped.
func (s *Server) Running() bool {
	return s.started.Load() != 0 && s.stopped.Load() == 0
}

// RPCPort returns the port the RPC transport is bound to, or 0 before Start.
func (s *Server) RPCPort() int { return listenerPort(s.rpcLn) }

// StreamPort returns the port the stream transport is bound to, or 0 before Start.
func (s *Server) StreamPort() int { return listenerPort(s.streamLn) }

func listenerPort(ln net.Listener) int {
	if ln == nil {
		return 0
	}
	if addr, ok := ln.Addr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// Start binds both transports and begins accepting connections.
// A Server is started at most once.
func (s *Server) Start() error {
	if s.started.Add(1) != 1 {
		return ErrStarted
	}
	rpcLn, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Bind, strconv.Itoa(int(s.cfg.RPCPort))))
	if err != nil {
		s.stopped.Add(1)
		return fmt.Errorf("server: bind rpc: %w", err)
	}
	streamLn, err := net.Listen("tcp", net.JoinHostPort(s.cfg.Bind, strconv.Itoa(int(s.cfg.StreamPort))))
	if err != nil {
		s.stopped.Add(1)
		_ = rpcLn.Close()
		return fmt.Errorf("server: bind stream: %w", err)
	}
	s.rpcLn, s.streamLn = rpcLn, streamLn

	if s.cfg.Protocol.websockets() {
		s.serveHTTP(rpcLn, http.HandlerFunc(s.handleRPCWebSocket))
		s.serveHTTP(streamLn, http.HandlerFunc(s.handleStreamWebSocket))
	} else {
		s.wg.Add(2)
		go s.acceptLoop(rpcLn, s.handshakeRPC)
		go s.acceptLoop(streamLn, s.handshakeStream)
	}
	s.log.Info("server started",
		"id", s.id, "protocol", s.cfg.Protocol, "bind", s.cfg.Bind,
		"rpc_port", s.RPCPort(), "stream_port", s.StreamPort())
	return nil
}

// Stop closes both transports and every open connection. Pending calls of
// the closed clients are dropped on the scheduler's next poll.
func (s *Server) Stop() error {
	if s.started.Load() == 0 || s.stopped.Add(1) != 1 {
		return nil
	}
	var result *multierror.Error
	for _, hs := range s.httpSrvs {
		if err := hs.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if !s.cfg.Protocol.websockets() {
		for _, ln := range []net.Listener{s.rpcLn, s.streamLn} {
			if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
				result = multierror.Append(result, err)
			}
		}
	}

	s.mu.Lock()
	for _, c := range s.live {
		if c == nil {
			continue
		}
		if err := c.close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
	}
	for sc := range s.subs {
		if err := sc.close(); err != nil && !errors.Is(err, net.ErrClosed) {
			result = multierror.Append(result, err)
		}
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.log.Info("server stopped", "id", s.id)
	return result.ErrorOrNil()
}

// reserve allocates a client identifier and marks it live, so a stream
// connection may pair with it as soon as the handshake is answered.
func (s *Server) reserve() uuid.UUID {
	id := uuid.New()
	s.mu.Lock()
	s.live[id] = nil
	s.mu.Unlock()
	return id
}

func (s *Server) untrackID(id uuid.UUID) {
	s.mu.Lock()
	delete(s.live, id)
	s.mu.Unlock()
}

func (s *Server) untrackStream(sc *streamConn) {
	s.mu.Lock()
	delete(s.subs, sc)
	s.mu.Unlock()
}

// knows reports whether an RPC client with id is connected.
func (s *Server) knows(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.live[id]
	return ok
}

// startClient hands c to the scheduler and starts its I/O goroutines.
// It reports false and closes c when the server is stopping or the
// scheduler is too far behind to adopt it.
func (s *Server) startClient(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Running() {
		delete(s.live, c.id)
		_ = c.close()
		return false
	}
	if err := s.acceptedRPC.Enqueue(&c); err != nil {
		s.log.Warn("accept backlog full", "client", c.id)
		delete(s.live, c.id)
		_ = c.close()
		return false
	}
	s.live[c.id] = c
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.untrackID(c.id)
		c.readLoop(s.echo)
	}()
	if !s.echo {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			c.writeLoop()
		}()
	}
	s.log.Debug("client connected", "client", c.id, "name", c.name, "remote", c.mc.RemoteAddr())
	return true
}

// startStream hands sc to the scheduler and starts its I/O goroutines.
func (s *Server) startStream(sc *streamConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.Running() {
		_ = sc.close()
		return false
	}
	if err := s.acceptedStream.Enqueue(&sc); err != nil {
		s.log.Warn("accept backlog full", "client", sc.client)
		_ = sc.close()
		return false
	}
	s.subs[sc] = struct{}{}
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		defer s.untrackStream(sc)
		sc.watch()
	}()
	go func() {
		defer s.wg.Done()
		sc.writeLoop()
	}()
	s.log.Debug("stream connected", "client", sc.client, "remote", sc.mc.RemoteAddr())
	return true
}

// Poll implements tickrpc.Host. It adopts newly accepted connections,
// drains every client's inbound queue, flushes backlogged replies, and
// reports closed clients.
func (s *Server) Poll(in *tickrpc.Inbox) {
	for {
		c, err := s.acceptedRPC.Dequeue()
		if err != nil {
			break
		}
		s.clients[c.id] = c
	}
	for {
		sc, err := s.acceptedStream.Dequeue()
		if err != nil {
			break
		}
		if old, ok := s.streamConns[sc.client]; ok {
			_ = old.close()
		}
		s.streamConns[sc.client] = sc
	}

	for id, c := range s.clients {
		c.drain(in)
		c.flush()
		if c.isClosed() {
			in.Drop(id)
			delete(s.clients, id)
			s.streams.removeClient(id)
			if sc, ok := s.streamConns[id]; ok {
				_ = sc.close()
			}
		}
	}
	for id, sc := range s.streamConns {
		sc.flush()
		if sc.isClosed() {
			delete(s.streamConns, id)
		}
	}
}

// Deliver implements tickrpc.Host. It encodes the result and queues it on
// the originating client's connection; results for departed clients are
// discarded.
func (s *Server) Deliver(resp tickrpc.Response) {
	c, ok := s.clients[resp.Client]
	if !ok {
		return
	}
	wireID, ok := c.wireIDs[resp.ID]
	if !ok {
		return
	}
	delete(c.wireIDs, resp.ID)

	msg := encodeResult(wireID, resp.Result)
	b, err := msg.Marshal()
	if err != nil {
		b, _ = (&wire.Response{ID: wireID, Error: &wire.Error{Kind: wire.KindCallFailed, Message: err.Error()}}).Marshal()
	}
	c.send(b)
}

// encodeResult converts a Result into its wire form.
func encodeResult(id uint64, r tickrpc.Result) wire.Response {
	if r.Err == nil {
		return wire.Response{ID: id, Value: r.Value}
	}
	kind := wire.KindCallFailed
	if errors.Is(r.Err, tickrpc.ErrLookupFailed) {
		kind = wire.KindLookupFailed
	}
	return wire.Response{ID: id, Error: &wire.Error{Kind: kind, Message: r.Err.Error()}}
}

// Clients returns the number of RPC clients known to the scheduler.
func (s *Server) Clients() int {
	return len(s.clients)
}
