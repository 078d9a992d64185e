// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package server

import (
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"code.hybscloud.com/tickrpc/internal/wire"
)

// HandshakeTimeout bounds the connection handshake on the TCP transport.
const HandshakeTimeout = 5 * time.Second

const wsBufferSize = 4096

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// acceptLoop accepts TCP connections until ln is closed and runs the
// handshake for each on its own goroutine.
func (s *Server) acceptLoop(ln net.Listener, handshake func(*tcpConn)) {
	defer s.wg.Done()
	for {
		nc, err := ln.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Warn("accept failed", "err", err)
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			handshake(newTCPConn(nc))
		}()
	}
}

// readHandshake reads one ConnectionRequest within HandshakeTimeout.
// On failure it answers with the matching status and closes tc.
func (s *Server) readHandshake(tc *tcpConn) (wire.ConnectionRequest, bool) {
	var req wire.ConnectionRequest
	_ = tc.SetDeadline(time.Now().Add(HandshakeTimeout))
	b, err := tc.ReadMessage()
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			s.reject(tc, wire.StatusTimeout, "handshake timed out")
		} else {
			_ = tc.Close()
		}
		return req, false
	}
	if err := req.Unmarshal(b); err != nil {
		s.reject(tc, wire.StatusMalformedMessage, err.Error())
		return req, false
	}
	return req, true
}

func (s *Server) reject(tc *tcpConn, status wire.ConnectionStatus, msg string) {
	s.log.Debug("handshake rejected", "remote", tc.RemoteAddr(), "status", status, "reason", msg)
	resp := wire.ConnectionResponse{Status: status, Message: msg}
	_ = tc.WriteMessage(resp.Marshal())
	_ = tc.Close()
}

// accept answers a successful handshake and clears the deadline.
func (s *Server) accept(tc *tcpConn, id uuid.UUID) bool {
	resp := wire.ConnectionResponse{Status: wire.StatusOK, ClientIdentifier: id[:]}
	if err := tc.WriteMessage(resp.Marshal()); err != nil {
		_ = tc.Close()
		return false
	}
	_ = tc.SetDeadline(time.Time{})
	return true
}

func (s *Server) handshakeRPC(tc *tcpConn) {
	req, ok := s.readHandshake(tc)
	if !ok {
		return
	}
	if req.Type != wire.ConnectionRPC {
		s.reject(tc, wire.StatusWrongType, "connection request must be for an rpc connection")
		return
	}
	id := s.reserve()
	if !s.accept(tc, id) {
		s.untrackID(id)
		return
	}
	s.startClient(newClient(tc, id, req.ClientName, s.cfg.QueueCapacity, s.log))
}

func (s *Server) handshakeStream(tc *tcpConn) {
	req, ok := s.readHandshake(tc)
	if !ok {
		return
	}
	if req.Type != wire.ConnectionStream {
		s.reject(tc, wire.StatusWrongType, "connection request must be for a stream connection")
		return
	}
	id, err := uuid.FromBytes(req.ClientIdentifier)
	if err != nil {
		s.reject(tc, wire.StatusMalformedMessage, "client identifier is not a uuid")
		return
	}
	if !s.knows(id) {
		s.reject(tc, wire.StatusMalformedMessage, "no rpc client with identifier "+id.String())
		return
	}
	if !s.accept(tc, id) {
		return
	}
	s.startStream(newStreamConn(tc, id, s.cfg.QueueCapacity, s.log))
}

// serveHTTP runs an HTTP server for the WebSocket upgrade on ln.
func (s *Server) serveHTTP(ln net.Listener, h http.Handler) {
	hs := &http.Server{Handler: h, ReadHeaderTimeout: HandshakeTimeout}
	s.httpSrvs = append(s.httpSrvs, hs)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := hs.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("http serve failed", "err", err)
		}
	}()
}

// handleRPCWebSocket upgrades an RPC connection. The client name is taken
// from the "name" query parameter and the assigned identifier is returned
// in the X-Client-Id response header.
func (s *Server) handleRPCWebSocket(w http.ResponseWriter, r *http.Request) {
	id := s.reserve()
	ws, err := upgrader.Upgrade(w, r, http.Header{"X-Client-Id": {id.String()}})
	if err != nil {
		s.untrackID(id)
		s.log.Debug("websocket upgrade failed", "err", err)
		return
	}
	s.startClient(newClient(wsConn{ws}, id, r.URL.Query().Get("name"), s.cfg.QueueCapacity, s.log))
}

// handleStreamWebSocket upgrades a stream connection for the RPC client
// named by the "id" query parameter.
func (s *Server) handleStreamWebSocket(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		http.Error(w, "missing or malformed client id", http.StatusBadRequest)
		return
	}
	if !s.knows(id) {
		http.Error(w, "no rpc client with identifier "+id.String(), http.StatusNotFound)
		return
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "err", err)
		return
	}
	s.startStream(newStreamConn(wsConn{ws}, id, s.cfg.QueueCapacity, s.log))
}
