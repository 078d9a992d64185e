// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package server

import (
	"fmt"

	"code.hybscloud.com/kont"
	"github.com/hashicorp/go-multierror"

	"code.hybscloud.com/tickrpc"
)

// ServiceName is the name of the built-in service.
const ServiceName = "KRPC"

// Register adds the built-in KRPC service of s to reg. The procedures act
// on this server's clients and streams; a Registry serves the KRPC
// service of at most one Server.
func (s *Server) Register(reg *tickrpc.Registry) error {
	var result *multierror.Error
	for _, sig := range s.services() {
		if err := reg.Register(sig); err != nil {
			result = multierror.Append(result, err)
		}
	}
	return result.ErrorOrNil()
}

func (s *Server) services() []tickrpc.Signature {
	return []tickrpc.Signature{
		{
			Service: ServiceName, Procedure: "GetClientID",
			Returns: tickrpc.KindString,
			Doc:     "Returns the identifier of the calling client.",
			Body:    s.getClientID,
		},
		{
			Service: ServiceName, Procedure: "GetClientName",
			Returns: tickrpc.KindString,
			Doc:     "Returns the name the calling client connected with.",
			Body:    s.getClientName,
		},
		{
			Service: ServiceName, Procedure: "GetStatus",
			Returns: tickrpc.KindMap,
			Doc:     "Returns the server version and counters.",
			Body:    s.getStatus,
		},
		{
			Service: ServiceName, Procedure: "AddStream",
			Params: []tickrpc.Parameter{
				{Name: "service", Kind: tickrpc.KindString},
				{Name: "procedure", Kind: tickrpc.KindString},
				{Name: "args", Kind: tickrpc.KindList, Optional: true},
			},
			Returns: tickrpc.KindInt,
			Doc:     "Re-evaluates a call every tick and sends changed results on the stream connection. Returns the stream id.",
			Body:    s.addStream,
		},
		{
			Service: ServiceName, Procedure: "RemoveStream",
			Params:  []tickrpc.Parameter{{Name: "id", Kind: tickrpc.KindInt}},
			Returns: tickrpc.KindNone,
			Doc:     "Removes a stream of the calling client. Unknown ids are ignored.",
			Body:    s.removeStream,
		},
	}
}

func (s *Server) getClientID(cc tickrpc.CallContext, _ []any) kont.Eff[any] {
	return tickrpc.Return(cc.Client.String())
}

func (s *Server) getClientName(cc tickrpc.CallContext, _ []any) kont.Eff[any] {
	c, ok := s.clients[cc.Client]
	if !ok {
		return tickrpc.Throw(fmt.Errorf("unknown client %s", cc.Client))
	}
	return tickrpc.Return(c.name)
}

func (s *Server) getStatus(cc tickrpc.CallContext, _ []any) kont.Eff[any] {
	return tickrpc.Return(map[string]any{
		"version":  Version,
		"server":   s.id.String(),
		"name":     s.cfg.Name,
		"protocol": string(s.cfg.Protocol),
		"tick":     s.tick,
		"clients":  len(s.clients),
		"streams":  len(s.streams.all),
		"owned":    s.streams.count(cc.Client),
	})
}

func (s *Server) addStream(cc tickrpc.CallContext, args []any) kont.Eff[any] {
	service, procedure := args[0].(string), args[1].(string)
	list, _ := args[2].([]any)
	call := tickrpc.Call{Service: service, Procedure: procedure, Args: list}
	sig, err := s.rt.Resolver.Resolve(service, procedure)
	if err != nil {
		return tickrpc.Throw(err)
	}
	id, err := s.streams.add(cc.Client, call, &sig)
	if err != nil {
		return tickrpc.Throw(fmt.Errorf("stream %s: %w", call.Name(), err))
	}
	s.log.Debug("stream added", "client", cc.Client, "stream", id, "call", call.Name())
	return tickrpc.Return(int64(id))
}

func (s *Server) removeStream(cc tickrpc.CallContext, args []any) kont.Eff[any] {
	id := args[0].(int64)
	if id > 0 && s.streams.remove(cc.Client, uint64(id)) {
		s.log.Debug("stream removed", "client", cc.Client, "stream", id)
	}
	return tickrpc.Return(nil)
}
