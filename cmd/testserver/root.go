// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/spf13/cobra"

	"code.hybscloud.com/tickrpc"
	"code.hybscloud.com/tickrpc/internal/testservice"
	"code.hybscloud.com/tickrpc/server"
)

// tickRate is the scheduler rate of the test server in ticks per second.
const tickRate = 60

// errReported marks a failure whose message was already printed.
var errReported = errors.New("testserver: reported")

// options holds the command-line flags.
type options struct {
	cfg         server.Config
	protocol    string
	debug       bool
	quiet       bool
	serverDebug bool
	climb       float64
}

// newRootCommand creates the testserver command. Flag defaults come from
// TESTSERVER_* environment variables.
func newRootCommand(ctx context.Context) *cobra.Command {
	env, envErr := server.LoadConfig("testserver")
	opts := &options{cfg: env, protocol: string(env.Protocol)}

	cmd := &cobra.Command{
		Use:           "testserver",
		Short:         "A tickrpc test server for client library tests",
		Long:          "A tickrpc test server for the client library unit tests.",
		Version:       server.Version,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if envErr != nil {
				return envErr
			}
			return run(ctx, cmd, opts)
		},
	}
	cmd.SetVersionTemplate("TestServer version {{.Version}}\n")

	f := cmd.Flags()
	f.StringVar(&opts.cfg.Bind, "bind", env.Bind, "Address to bind the server to. If unspecified, the loopback address is used (127.0.0.1).")
	f.Uint16Var(&opts.cfg.RPCPort, "rpc-port", env.RPCPort, "Port number to use for the RPC server. If unspecified, use an ephemeral port.")
	f.Uint16Var(&opts.cfg.StreamPort, "stream-port", env.StreamPort, "Port number to use for the stream server. If unspecified, use an ephemeral port.")
	f.StringVar(&opts.protocol, "type", string(env.Protocol), "Type of server to run. Either protobuf, websockets or websockets-echo.")
	f.BoolVar(&opts.debug, "debug", false, "Set log level to 'debug', defaults to 'info'")
	f.BoolVar(&opts.quiet, "quiet", false, "Set log level to 'warning'")
	f.BoolVar(&opts.serverDebug, "server-debug", false, "Output debug information about the server")
	f.Float64Var(&opts.climb, "climb", 1, "Altitude the simulated vessel gains per tick")
	cmd.MarkFlagsMutuallyExclusive("debug", "quiet")

	return cmd
}

// newLogger creates a text logger on w at the level selected by the flags.
func newLogger(opts *options, w io.Writer) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case opts.debug:
		level = slog.LevelDebug
	case opts.quiet:
		level = slog.LevelWarn
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func run(ctx context.Context, cmd *cobra.Command, opts *options) error {
	out := cmd.OutOrStdout()
	if net.ParseIP(opts.cfg.Bind) == nil {
		fmt.Fprintln(out, "Failed to parse bind address.")
		return errReported
	}
	proto, err := server.ParseProtocol(opts.protocol)
	if err != nil {
		fmt.Fprintf(out, "Server type '%s' not supported\n", opts.protocol)
		return errReported
	}
	opts.cfg.Protocol = proto

	log := newLogger(opts, cmd.ErrOrStderr())

	reg := tickrpc.NewRegistry()
	vessel := &testservice.Vessel{Climb: opts.climb}
	if err := testservice.Register(reg, vessel); err != nil {
		return err
	}
	rt := tickrpc.NewRuntime(reg)
	srv, err := server.New(rt, opts.cfg, log)
	if err != nil {
		return err
	}
	if err := srv.Register(reg); err != nil {
		return err
	}

	log.Info("starting server")
	if err := srv.Start(); err != nil {
		return err
	}
	log.Info("server started successfully",
		"type", proto, "bind", opts.cfg.Bind,
		"rpc_port", srv.RPCPort(), "stream_port", srv.StreamPort())

	sched := tickrpc.NewScheduler(rt, tickrpc.Config{
		Rate:   tickRate,
		Debug:  opts.serverDebug,
		Report: out,
		Logger: log,
	})
	sched.OnTick(vessel.Advance)
	sched.Add(srv)

	runErr := sched.Run(ctx)
	stopErr := srv.Stop()
	stats := sched.Stats()
	log.Info("server stopped", "ticks", stats.Ticks, "mean_period", stats.Mean, "overruns", stats.Overruns)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return stopErr
}
