// Copyright 2025 Chainvault Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainvault/chainvault/node"
)

type serverFlags struct {
	flagset   *flag.FlagSet
	address   string
	port      uint
	dataDir   string
	blockSize uint
	debug     bool
}

func newServerFlags() *serverFlags {
	f := &serverFlags{
		flagset: flag.NewFlagSet(os.Args[0], flag.ExitOnError),
	}
	f.flagset.StringVar(
		&f.address,
		"address",
		"",
		"address to listen on (defaults to all interfaces)",
	)
	f.flagset.UintVar(
		&f.port,
		"port",
		node.DefaultListenPort,
		"port to listen on",
	)
	f.flagset.StringVar(
		&f.dataDir,
		"data-dir",
		"",
		"directory for the chain log (empty keeps the chain in memory)",
	)
	f.flagset.UintVar(
		&f.blockSize,
		"block-size",
		0,
		"block size enforced for all clients (0 uses the default)",
	)
	f.flagset.BoolVar(&f.debug, "debug", false, "enable debug logging")
	return f
}

func main() {
	f := newServerFlags()
	if err := f.flagset.Parse(os.Args[1:]); err != nil {
		fmt.Printf("failed to parse command args: %s\n", err)
		os.Exit(1)
	}
	logLevel := slog.LevelInfo
	if f.debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(
		slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}),
	)
	n, err := node.New(
		node.NewConfig(
			node.WithLogger(logger),
			node.WithListenAddress(f.address),
			node.WithListenPort(f.port),
			node.WithDataDir(f.dataDir),
			node.WithBlockSize(uint32(f.blockSize)),
		),
	)
	if err != nil {
		logger.Error("failed to create node", "error", err)
		os.Exit(1)
	}
	if err := n.Start(); err != nil {
		logger.Error("failed to start node", "error", err)
		os.Exit(1)
	}
	// Run until interrupted
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-signalChan
	logger.Info("shutting down", "signal", sig.String())
	if err := n.Stop(); err != nil {
		logger.Error("failed to stop node", "error", err)
		os.Exit(1)
	}
}
