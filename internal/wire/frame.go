// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxFrameSize bounds a single decoded frame.
const MaxFrameSize = 4 << 20

// ErrFrameTooLarge is returned when a frame header exceeds MaxFrameSize.
var ErrFrameTooLarge = errors.New("wire: frame too large")

// FrameReader is satisfied by *bufio.Reader.
type FrameReader interface {
	io.Reader
	io.ByteReader
}

// AppendFrame appends msg to b prefixed with its varint length.
func AppendFrame(b, msg []byte) []byte {
	b = protowire.AppendVarint(b, uint64(len(msg)))
	return append(b, msg...)
}

// WriteFrame writes msg to w prefixed with its varint length, in one Write.
func WriteFrame(w io.Writer, msg []byte) error {
	buf := AppendFrame(make([]byte, 0, len(msg)+binary.MaxVarintLen64), msg)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one varint-length-prefixed frame from r.
// A clean EOF before the header returns io.EOF.
func ReadFrame(r FrameReader) ([]byte, error) {
	n, err := binary.ReadUvarint(r)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("%w: frame header: %w", ErrMalformed, err)
	}
	if n > MaxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("wire: frame body: %w", err)
	}
	return buf, nil
}
