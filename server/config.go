// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package server

import (
	"errors"
	"fmt"
	"net"

	"github.com/kelseyhightower/envconfig"
)

// Version is the server version reported by KRPC.GetStatus.
const Version = "0.1.0"

var (
	// ErrBindAddress is returned for a bind address that is not an IP literal.
	ErrBindAddress = errors.New("server: failed to parse bind address")
	// ErrProtocol is returned for an unsupported protocol name.
	ErrProtocol = errors.New("server: protocol not supported")
)

// Protocol selects the framing used by both transports.
type Protocol string

const (
	// ProtobufOverTCP frames each message with a varint length prefix.
	ProtobufOverTCP Protocol = "protobuf"
	// ProtobufOverWebSockets sends one binary WebSocket message per frame.
	ProtobufOverWebSockets Protocol = "websockets"
	// WebSocketsEcho is ProtobufOverWebSockets whose RPC transport echoes
	// every message back unprocessed.
	WebSocketsEcho Protocol = "websockets-echo"
)

// ParseProtocol validates a protocol name.
func ParseProtocol(s string) (Protocol, error) {
	switch p := Protocol(s); p {
	case ProtobufOverTCP, ProtobufOverWebSockets, WebSocketsEcho:
		return p, nil
	}
	return "", fmt.Errorf("%w: %q", ErrProtocol, s)
}

func (p Protocol) websockets() bool {
	return p == ProtobufOverWebSockets || p == WebSocketsEcho
}

// Config configures a Server. Port 0 binds an ephemeral port.
type Config struct {
	Name       string   `envconfig:"NAME" default:"TestServer"`
	Bind       string   `envconfig:"BIND" default:"127.0.0.1"`
	RPCPort    uint16   `envconfig:"RPC_PORT"`
	StreamPort uint16   `envconfig:"STREAM_PORT"`
	Protocol   Protocol `envconfig:"TYPE" default:"protobuf"`
	// QueueCapacity bounds each connection's inbound and outbound queues.
	// It is at least 2.
	QueueCapacity int `envconfig:"QUEUE_CAPACITY" default:"64"`
}

// LoadConfig reads a Config from environment variables named
// <PREFIX>_NAME, <PREFIX>_BIND, <PREFIX>_RPC_PORT, and so on.
func LoadConfig(prefix string) (Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("server: load config: %w", err)
	}
	return cfg, nil
}

// Validate checks the bind address and protocol.
func (c Config) Validate() error {
	if net.ParseIP(c.Bind) == nil {
		return fmt.Errorf("%w: %q", ErrBindAddress, c.Bind)
	}
	if _, err := ParseProtocol(string(c.Protocol)); err != nil {
		return err
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Name == "" {
		c.Name = "TestServer"
	}
	if c.Bind == "" {
		c.Bind = "127.0.0.1"
	}
	if c.Protocol == "" {
		c.Protocol = ProtobufOverTCP
	}
	switch {
	case c.QueueCapacity <= 0:
		c.QueueCapacity = 64
	case c.QueueCapacity < 2:
		c.QueueCapacity = 2
	}
}
