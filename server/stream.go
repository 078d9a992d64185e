// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package server

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"code.hybscloud.com/tickrpc"
	"code.hybscloud.com/tickrpc/internal/wire"
)

// stream is a call re-evaluated once per tick on behalf of a client.
// A suspending evaluation is resumed on later ticks instead of restarted.
type stream struct {
	id     uint64
	key    string
	client uuid.UUID
	call   tickrpc.Call
	sig    *tickrpc.Signature
	cc     tickrpc.CallContext
	cont   *tickrpc.Continuation
	last   []byte
}

// streamTable is scheduler-owned.
type streamTable struct {
	next  uint64
	all   []*stream
	byID  map[uint64]*stream
	byKey map[string]*stream
}

func newStreamTable() streamTable {
	return streamTable{byID: make(map[uint64]*stream), byKey: make(map[string]*stream)}
}

// streamKey identifies identical calls made by one client.
func streamKey(client uuid.UUID, call tickrpc.Call) (string, error) {
	args, err := wire.MarshalValue(call.Args)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s/%s/%x", client, call.Name(), args), nil
}

// add registers a stream for call and returns its id. A client that
// requests an identical stream twice gets the existing id.
func (t *streamTable) add(client uuid.UUID, call tickrpc.Call, sig *tickrpc.Signature) (uint64, error) {
	key, err := streamKey(client, call)
	if err != nil {
		return 0, err
	}
	if st, ok := t.byKey[key]; ok {
		return st.id, nil
	}
	t.next++
	st := &stream{
		id:     t.next,
		key:    key,
		client: client,
		call:   call,
		sig:    sig,
		cc:     tickrpc.CallContext{Client: client, Request: tickrpc.NextRequestID()},
	}
	t.all = append(t.all, st)
	t.byID[st.id] = st
	t.byKey[key] = st
	return st.id, nil
}

// remove deletes a stream owned by client and reports whether it existed.
func (t *streamTable) remove(client uuid.UUID, id uint64) bool {
	st, ok := t.byID[id]
	if !ok || st.client != client {
		return false
	}
	t.drop(func(s *stream) bool { return s == st })
	return true
}

// removeClient deletes every stream owned by client.
func (t *streamTable) removeClient(client uuid.UUID) {
	t.drop(func(s *stream) bool { return s.client == client })
}

func (t *streamTable) drop(match func(*stream) bool) {
	t.all = slices.DeleteFunc(t.all, func(st *stream) bool {
		if !match(st) {
			return false
		}
		if st.cont != nil {
			st.cont.Discard()
			st.cont = nil
		}
		delete(t.byID, st.id)
		delete(t.byKey, st.key)
		return true
	})
}

func (t *streamTable) count(client uuid.UUID) int {
	n := 0
	for _, st := range t.all {
		if st.client == client {
			n++
		}
	}
	return n
}

// evaluate steps st once. It returns the result, its encoding, and true
// when the evaluation completed with a result different from the last one
// sent.
func (st *stream) evaluate(exec *tickrpc.Executor) (wire.StreamResult, []byte, bool) {
	cont := st.cont
	if cont == nil {
		cont = tickrpc.Prepare(exec, st.sig, st.cc, st.call)
	}
	res, next, err := cont.Step()
	st.cont = next
	if next != nil {
		return wire.StreamResult{}, nil, false
	}
	if err != nil {
		res = tickrpc.ErrorResult(err)
	}
	out := wire.StreamResult{ID: st.id, Response: encodeResult(0, res)}
	b, err := out.Response.Marshal()
	if err != nil {
		out.Response = encodeResult(0, tickrpc.ErrorResult(err))
		b, _ = out.Response.Marshal()
	}
	if st.last != nil && bytes.Equal(b, st.last) {
		return wire.StreamResult{}, nil, false
	}
	return out, b, true
}

type pendingUpdate struct {
	msg     wire.StreamUpdate
	streams []*stream
	encoded [][]byte
}

// Update implements tickrpc.Updater. Every stream is evaluated once and the
// changed results are sent to each client's stream connection in a single
// StreamUpdate. Clients without a stream connection have their streams
// evaluated, and receive the latest results once they connect.
func (s *Server) Update(tick uint64) {
	s.tick = tick
	if len(s.streams.all) == 0 {
		return
	}
	updates := make(map[uuid.UUID]*pendingUpdate)
	// Stream bodies may add or remove streams.
	for _, st := range slices.Clone(s.streams.all) {
		if s.streams.byID[st.id] != st {
			continue
		}
		r, enc, changed := st.evaluate(s.rt.Executor)
		if !changed {
			continue
		}
		u, ok := updates[st.client]
		if !ok {
			u = &pendingUpdate{}
			updates[st.client] = u
		}
		u.msg.Results = append(u.msg.Results, r)
		u.streams = append(u.streams, st)
		u.encoded = append(u.encoded, enc)
	}
	for client, u := range updates {
		sc, ok := s.streamConns[client]
		if !ok || sc.isClosed() {
			continue
		}
		b, err := u.msg.Marshal()
		if err != nil {
			s.log.Warn("encode stream update", "client", client, "err", err)
			continue
		}
		sc.send(b)
		// A result counts as sent once queued; unsent results are retried.
		for i, st := range u.streams {
			st.last = u.encoded[i]
		}
	}
}
