// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package wire encodes the messages exchanged between clients and the
// server in protocol buffer wire format. Procedure values travel as
// embedded google.protobuf.Value messages.
package wire

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrMalformed is matched by every decoding error.
var ErrMalformed = errors.New("wire: malformed message")

// ConnectionType distinguishes RPC and stream connections in a handshake.
type ConnectionType int32

const (
	ConnectionRPC ConnectionType = iota
	ConnectionStream
)

// ConnectionStatus is the handshake verdict.
type ConnectionStatus int32

const (
	StatusOK ConnectionStatus = iota
	StatusMalformedMessage
	StatusTimeout
	StatusWrongType
)

// Error kinds carried by Error.Kind.
const (
	KindLookupFailed = "LookupFailed"
	KindCallFailed   = "CallFailed"
)

// ConnectionRequest opens an RPC or stream connection.
// A stream connection names the RPC client it belongs to in ClientIdentifier.
type ConnectionRequest struct {
	Type             ConnectionType
	ClientName       string
	ClientIdentifier []byte
}

// ConnectionResponse answers a ConnectionRequest.
type ConnectionResponse struct {
	Status           ConnectionStatus
	Message          string
	ClientIdentifier []byte
}

// Request is one procedure call. ID is chosen by the client and echoed in
// the Response, since suspended calls may complete out of order.
type Request struct {
	ID        uint64
	Service   string
	Procedure string
	Args      []any
}

// Error describes a failed call.
type Error struct {
	Kind    string
	Message string
}

func (e *Error) Error() string { return e.Kind + ": " + e.Message }

// Response is the terminal result of the Request with the same ID.
// Exactly one of Value and Error is meaningful.
type Response struct {
	ID    uint64
	Value any
	Error *Error
}

// StreamResult is the latest result of one stream.
type StreamResult struct {
	ID       uint64
	Response Response
}

// StreamUpdate carries the stream results that changed in one tick.
type StreamUpdate struct {
	Results []StreamResult
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

// field is one decoded top-level field. Bytes aliases the input buffer.
type field struct {
	Num    protowire.Number
	Varint uint64
	Bytes  []byte
}

// walk decodes b field by field, skipping fields of unknown wire types.
func walk(b []byte, fn func(f field) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		var f field
		f.Num = num
		switch typ {
		case protowire.VarintType:
			f.Varint, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.Bytes, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n >= 0 {
				b = b[n:]
				continue
			}
		}
		if n < 0 {
			return fmt.Errorf("%w: %w", ErrMalformed, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

// MarshalValue encodes v as a google.protobuf.Value.
// Supported: nil, bool, numbers, string, []byte, []any, map[string]any.
func MarshalValue(v any) ([]byte, error) {
	pv, err := structpb.NewValue(v)
	if err != nil {
		return nil, fmt.Errorf("wire: encode value: %w", err)
	}
	return proto.Marshal(pv)
}

// UnmarshalValue decodes a google.protobuf.Value. Numbers decode as float64.
func UnmarshalValue(b []byte) (any, error) {
	var pv structpb.Value
	if err := proto.Unmarshal(b, &pv); err != nil {
		return nil, fmt.Errorf("%w: value: %w", ErrMalformed, err)
	}
	return pv.AsInterface(), nil
}

// Marshal encodes m.
func (m *ConnectionRequest) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.Type))
	b = appendString(b, 2, m.ClientName)
	b = appendBytes(b, 3, m.ClientIdentifier)
	return b
}

// Unmarshal decodes b into m.
func (m *ConnectionRequest) Unmarshal(b []byte) error {
	*m = ConnectionRequest{}
	return walk(b, func(f field) error {
		switch f.Num {
		case 1:
			m.Type = ConnectionType(f.Varint)
		case 2:
			m.ClientName = string(f.Bytes)
		case 3:
			m.ClientIdentifier = append([]byte(nil), f.Bytes...)
		}
		return nil
	})
}

// Marshal encodes m.
func (m *ConnectionResponse) Marshal() []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(m.Status))
	b = appendString(b, 2, m.Message)
	b = appendBytes(b, 3, m.ClientIdentifier)
	return b
}

// Unmarshal decodes b into m.
func (m *ConnectionResponse) Unmarshal(b []byte) error {
	*m = ConnectionResponse{}
	return walk(b, func(f field) error {
		switch f.Num {
		case 1:
			m.Status = ConnectionStatus(f.Varint)
		case 2:
			m.Message = string(f.Bytes)
		case 3:
			m.ClientIdentifier = append([]byte(nil), f.Bytes...)
		}
		return nil
	})
}

// Marshal encodes m.
func (m *Request) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, m.ID)
	b = appendString(b, 2, m.Service)
	b = appendString(b, 3, m.Procedure)
	for _, arg := range m.Args {
		v, err := MarshalValue(arg)
		if err != nil {
			return nil, err
		}
		// Always emitted, even when empty, to preserve argument positions.
		b = protowire.AppendTag(b, 4, protowire.BytesType)
		b = protowire.AppendBytes(b, v)
	}
	return b, nil
}

// Unmarshal decodes b into m.
func (m *Request) Unmarshal(b []byte) error {
	*m = Request{}
	return walk(b, func(f field) error {
		switch f.Num {
		case 1:
			m.ID = f.Varint
		case 2:
			m.Service = string(f.Bytes)
		case 3:
			m.Procedure = string(f.Bytes)
		case 4:
			v, err := UnmarshalValue(f.Bytes)
			if err != nil {
				return err
			}
			m.Args = append(m.Args, v)
		}
		return nil
	})
}

func (e *Error) marshal() []byte {
	var b []byte
	b = appendString(b, 1, e.Kind)
	b = appendString(b, 2, e.Message)
	return b
}

// Marshal encodes m.
func (m *Response) Marshal() ([]byte, error) {
	var b []byte
	b = appendVarint(b, 1, m.ID)
	if m.Error != nil {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		return protowire.AppendBytes(b, m.Error.marshal()), nil
	}
	v, err := MarshalValue(m.Value)
	if err != nil {
		return nil, err
	}
	return appendBytes(b, 2, v), nil
}

// Unmarshal decodes b into m.
func (m *Response) Unmarshal(b []byte) error {
	*m = Response{}
	return walk(b, func(f field) error {
		switch f.Num {
		case 1:
			m.ID = f.Varint
		case 2:
			v, err := UnmarshalValue(f.Bytes)
			if err != nil {
				return err
			}
			m.Value = v
		case 3:
			e := &Error{}
			err := walk(f.Bytes, func(f field) error {
				switch f.Num {
				case 1:
					e.Kind = string(f.Bytes)
				case 2:
					e.Message = string(f.Bytes)
				}
				return nil
			})
			if err != nil {
				return err
			}
			m.Error = e
		}
		return nil
	})
}

// Marshal encodes m.
func (m *StreamUpdate) Marshal() ([]byte, error) {
	var b []byte
	for i := range m.Results {
		r := &m.Results[i]
		resp, err := r.Response.Marshal()
		if err != nil {
			return nil, err
		}
		var rb []byte
		rb = appendVarint(rb, 1, r.ID)
		rb = appendBytes(rb, 2, resp)
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, rb)
	}
	return b, nil
}

// Unmarshal decodes b into m.
func (m *StreamUpdate) Unmarshal(b []byte) error {
	*m = StreamUpdate{}
	return walk(b, func(f field) error {
		if f.Num != 1 {
			return nil
		}
		var r StreamResult
		err := walk(f.Bytes, func(f field) error {
			switch f.Num {
			case 1:
				r.ID = f.Varint
			case 2:
				return r.Response.Unmarshal(f.Bytes)
			}
			return nil
		})
		if err != nil {
			return err
		}
		m.Results = append(m.Results, r)
		return nil
	})
}
