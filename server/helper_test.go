// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package server_test

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"code.hybscloud.com/tickrpc"
	"code.hybscloud.com/tickrpc/internal/testservice"
	"code.hybscloud.com/tickrpc/internal/wire"
	"code.hybscloud.com/tickrpc/server"
)

const ioTimeout = 10 * time.Second

// startServer runs a started server and its scheduler until the test ends.
func startServer(t *testing.T, proto server.Protocol) *server.Server {
	t.Helper()
	return startServerWith(t, server.Config{Protocol: proto})
}

func startServerWith(t *testing.T, cfg server.Config) *server.Server {
	t.Helper()
	reg := tickrpc.NewRegistry()
	vessel := &testservice.Vessel{Climb: 10}
	require.NoError(t, testservice.Register(reg, vessel))

	rt := tickrpc.NewRuntime(reg)
	srv, err := server.New(rt, cfg, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Register(reg))
	require.NoError(t, srv.Start())

	sched := tickrpc.NewScheduler(rt, tickrpc.Config{Rate: 200})
	sched.OnTick(vessel.Advance)
	sched.Add(srv)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	t.Cleanup(func() {
		require.NoError(t, srv.Stop())
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(ioTimeout):
			t.Error("scheduler did not stop with the server")
		}
		cancel()
	})
	return srv
}

func addr(port int) string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(port))
}

// tcpPeer is one framed TCP connection of a test client.
type tcpPeer struct {
	conn net.Conn
	r    *bufio.Reader
}

func dialTCP(t *testing.T, port int) *tcpPeer {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr(port), ioTimeout)
	require.NoError(t, err)
	require.NoError(t, conn.SetDeadline(time.Now().Add(ioTimeout)))
	t.Cleanup(func() { _ = conn.Close() })
	return &tcpPeer{conn: conn, r: bufio.NewReader(conn)}
}

func (p *tcpPeer) write(t *testing.T, b []byte) {
	t.Helper()
	require.NoError(t, wire.WriteFrame(p.conn, b))
}

func (p *tcpPeer) read(t *testing.T) []byte {
	t.Helper()
	b, err := wire.ReadFrame(p.r)
	require.NoError(t, err)
	return b
}

func (p *tcpPeer) handshake(t *testing.T, req wire.ConnectionRequest) wire.ConnectionResponse {
	t.Helper()
	p.write(t, req.Marshal())
	var resp wire.ConnectionResponse
	require.NoError(t, resp.Unmarshal(p.read(t)))
	return resp
}

// connectRPC opens an RPC connection and returns it with the assigned id.
func connectRPC(t *testing.T, srv *server.Server, name string) (*tcpPeer, uuid.UUID) {
	t.Helper()
	p := dialTCP(t, srv.RPCPort())
	resp := p.handshake(t, wire.ConnectionRequest{Type: wire.ConnectionRPC, ClientName: name})
	require.Equal(t, wire.StatusOK, resp.Status, resp.Message)
	id, err := uuid.FromBytes(resp.ClientIdentifier)
	require.NoError(t, err)
	return p, id
}

func connectStream(t *testing.T, srv *server.Server, id uuid.UUID) *tcpPeer {
	t.Helper()
	p := dialTCP(t, srv.StreamPort())
	resp := p.handshake(t, wire.ConnectionRequest{Type: wire.ConnectionStream, ClientIdentifier: id[:]})
	require.Equal(t, wire.StatusOK, resp.Status, resp.Message)
	return p
}

func (p *tcpPeer) send(t *testing.T, id uint64, service, procedure string, args ...any) {
	t.Helper()
	b, err := (&wire.Request{ID: id, Service: service, Procedure: procedure, Args: args}).Marshal()
	require.NoError(t, err)
	p.write(t, b)
}

func (p *tcpPeer) receive(t *testing.T) wire.Response {
	t.Helper()
	var resp wire.Response
	require.NoError(t, resp.Unmarshal(p.read(t)))
	return resp
}

// call sends one request and waits for its response.
func (p *tcpPeer) call(t *testing.T, service, procedure string, args ...any) wire.Response {
	t.Helper()
	p.send(t, 1, service, procedure, args...)
	resp := p.receive(t)
	require.Equal(t, uint64(1), resp.ID)
	return resp
}

func (p *tcpPeer) update(t *testing.T) wire.StreamUpdate {
	t.Helper()
	var u wire.StreamUpdate
	require.NoError(t, u.Unmarshal(p.read(t)))
	return u
}
