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

package node

import (
	"log/slog"

	"github.com/chainvault/chainvault/chunk"
	"github.com/chainvault/chainvault/store"
)

// DefaultListenPort is the port the node listens on when none is configured
const DefaultListenPort = 10005

// Config holds the node configuration
type Config struct {
	logger        *slog.Logger
	listenAddress string
	listenPort    uint
	dataDir       string
	blockSize     uint32
	store         store.Store
}

func (c *Config) populateDefaults() {
	if c.logger == nil {
		c.logger = slog.New(slog.DiscardHandler)
	}
	if c.blockSize == 0 {
		c.blockSize = chunk.DefaultBlockSize
	}
}

// ConfigOptionFunc is a function that modifies the node config
type ConfigOptionFunc func(*Config)

// NewConfig creates a new node config with the provided options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		listenPort: DefaultListenPort,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithLogger specifies the logger to use
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		c.logger = logger
	}
}

// WithListenAddress specifies the address to listen on
func WithListenAddress(address string) ConfigOptionFunc {
	return func(c *Config) {
		c.listenAddress = address
	}
}

// WithListenPort specifies the port to listen on
func WithListenPort(port uint) ConfigOptionFunc {
	return func(c *Config) {
		c.listenPort = port
	}
}

// WithDataDir specifies the directory for the chain log. An empty data dir
// keeps the chain in memory only.
func WithDataDir(dataDir string) ConfigOptionFunc {
	return func(c *Config) {
		c.dataDir = dataDir
	}
}

// WithBlockSize specifies the block size enforced for all clients
func WithBlockSize(blockSize uint32) ConfigOptionFunc {
	return func(c *Config) {
		c.blockSize = blockSize
	}
}

// WithStore specifies the store to use, overriding the data dir setting
func WithStore(s store.Store) ConfigOptionFunc {
	return func(c *Config) {
		c.store = s
	}
}
