// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package server

import (
	"log/slog"
	"net"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"code.hybscloud.com/tickrpc"
	"code.hybscloud.com/tickrpc/internal/testservice"
)

// stalledConn is a connection whose peer never reads.
type stalledConn struct {
	closes int
}

func (c *stalledConn) ReadMessage() ([]byte, error) { return nil, net.ErrClosed }
func (c *stalledConn) WriteMessage([]byte) error    { return nil }
func (c *stalledConn) RemoteAddr() net.Addr         { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)} }
func (c *stalledConn) Close() error {
	c.closes++
	return nil
}

func TestLinkSendNeverBlocks(t *testing.T) {
	mc := &stalledConn{}
	var l link
	l.init(mc, 2, slog.New(slog.DiscardHandler))

	// No writer drains the queue: two messages fit, two wait in the backlog.
	for i := range 4 {
		l.send([]byte{byte(i)})
	}
	require.False(t, l.isClosed())
	require.Len(t, l.backlog, 2)

	// Draining one slot lets the oldest backlogged message through first.
	b, err := l.out.Dequeue()
	require.NoError(t, err)
	require.Equal(t, []byte{0}, b)
	require.False(t, l.flush())
	require.Len(t, l.backlog, 1)
	require.Equal(t, []byte{3}, l.backlog[0])

	// A backlog at the limit closes the connection.
	l.send([]byte{4})
	l.send([]byte{5})
	require.True(t, l.isClosed())
	require.Equal(t, 1, mc.closes)
	require.Nil(t, l.backlog)

	l.send([]byte{6})
	require.Equal(t, 1, mc.closes)
}

func TestAddStreamWithoutArgs(t *testing.T) {
	reg := tickrpc.NewRegistry()
	require.NoError(t, testservice.Register(reg, &testservice.Vessel{}))
	rt := tickrpc.NewRuntime(reg)
	srv, err := New(rt, Config{}, nil)
	require.NoError(t, err)
	require.NoError(t, srv.Register(reg))

	add := func(client uuid.UUID, args ...any) uint64 {
		cont := tickrpc.NewContinuation(rt, tickrpc.CallContext{Client: client, Request: tickrpc.NextRequestID()},
			tickrpc.Call{Service: ServiceName, Procedure: "AddStream", Args: args})
		res, next, err := cont.Step()
		require.NoError(t, err)
		require.Nil(t, next)
		require.NoError(t, res.Err)
		return uint64(res.Value.(int64))
	}

	a, b := uuid.New(), uuid.New()
	idA := add(a, "Nav", "Altitude")
	idB := add(b, "Nav", "Altitude")
	require.NotEqual(t, idA, idB)
	require.Equal(t, idA, add(a, "Nav", "Altitude", []any{}))

	stA, stB := srv.streams.byID[idA], srv.streams.byID[idB]
	require.Empty(t, stA.call.Args)
	require.Empty(t, stB.call.Args)
	stA.call.Args = append(stA.call.Args, 1.0)
	require.Empty(t, stB.call.Args)
}
