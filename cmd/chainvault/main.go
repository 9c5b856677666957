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

	"github.com/chainvault/chainvault"
	"github.com/chainvault/chainvault/chain"
	"github.com/chainvault/chainvault/node"
)

type globalFlags struct {
	flagset *flag.FlagSet
	address string
	debug   bool
}

func newGlobalFlags() *globalFlags {
	f := &globalFlags{
		flagset: flag.NewFlagSet(os.Args[0], flag.ExitOnError),
	}
	f.flagset.StringVar(
		&f.address,
		"address",
		fmt.Sprintf("localhost:%d", node.DefaultListenPort),
		"TCP address to connect to in address:port format",
	)
	f.flagset.BoolVar(&f.debug, "debug", false, "enable debug logging")
	return f
}

func (f *globalFlags) connect() *chainvault.Connection {
	logLevel := slog.LevelInfo
	if f.debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}),
	)
	conn, err := chainvault.NewConnection(
		chainvault.WithLogger(logger),
	)
	if err != nil {
		fmt.Printf("failed to create connection: %s\n", err)
		os.Exit(1)
	}
	if err := conn.Dial("tcp", f.address); err != nil {
		fmt.Printf("failed to connect to %s: %s\n", f.address, err)
		os.Exit(1)
	}
	return conn
}

func main() {
	f := newGlobalFlags()
	if err := f.flagset.Parse(os.Args[1:]); err != nil {
		fmt.Printf("failed to parse command args: %s\n", err)
		os.Exit(1)
	}
	args := f.flagset.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}
	switch args[0] {
	case "add":
		addCommand(f, args[1:])
	case "check":
		checkCommand(f, args[1:])
	case "get":
		getCommand(f, args[1:])
	case "verify":
		verifyCommand(f)
	default:
		fmt.Printf("unknown command: %s\n", args[0])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Printf("Usage: %s [flags] <command>\n\n", os.Args[0])
	fmt.Println("Commands:")
	fmt.Println("  add <file>           store a file and print its hash")
	fmt.Println("  check <file|hash>    check whether a file or hash is in the chain")
	fmt.Println("  get <hash> [file]    fetch a file by hash (prints to stdout by default)")
	fmt.Println("  verify               verify the integrity of the server's chain")
}

func addCommand(f *globalFlags, args []string) {
	if len(args) != 1 {
		fmt.Println("add requires a file argument")
		os.Exit(1)
	}
	content, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Printf("failed to read %s: %s\n", args[0], err)
		os.Exit(1)
	}
	conn := f.connect()
	defer conn.Close()
	fileHash, err := conn.AddFile(content)
	if err != nil {
		fmt.Printf("failed to store file: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("stored %s as %s\n", args[0], fileHash)
}

// resolveCheckHash interprets the argument as a base58 hash first and falls
// back to hashing the contents of the named file
func resolveCheckHash(arg string) (chain.Hash, error) {
	if hash, err := chain.ParseHash(arg); err == nil {
		return hash, nil
	}
	content, err := os.ReadFile(arg)
	if err != nil {
		return chain.Hash{}, fmt.Errorf(
			"argument is neither a valid hash nor a readable file: %s",
			arg,
		)
	}
	return chain.HashData(content), nil
}

func checkCommand(f *globalFlags, args []string) {
	if len(args) != 1 {
		fmt.Println("check requires a file or hash argument")
		os.Exit(1)
	}
	hash, err := resolveCheckHash(args[0])
	if err != nil {
		fmt.Printf("%s\n", err)
		os.Exit(1)
	}
	conn := f.connect()
	defer conn.Close()
	present, err := conn.CheckHash(hash)
	if err != nil {
		fmt.Printf("check failed: %s\n", err)
		os.Exit(1)
	}
	if present {
		fmt.Printf("%s is present in the chain\n", hash)
	} else {
		fmt.Printf("%s is not in the chain\n", hash)
	}
}

func getCommand(f *globalFlags, args []string) {
	if len(args) < 1 || len(args) > 2 {
		fmt.Println("get requires a hash argument and an optional output file")
		os.Exit(1)
	}
	hash, err := chain.ParseHash(args[0])
	if err != nil {
		fmt.Printf("invalid hash: %s\n", err)
		os.Exit(1)
	}
	conn := f.connect()
	defer conn.Close()
	content, err := conn.GetFile(hash)
	if err != nil {
		fmt.Printf("failed to fetch file: %s\n", err)
		os.Exit(1)
	}
	if len(args) == 2 {
		if err := os.WriteFile(args[1], content, 0o644); err != nil {
			fmt.Printf("failed to write %s: %s\n", args[1], err)
			os.Exit(1)
		}
		fmt.Printf("wrote %d bytes to %s\n", len(content), args[1])
	} else {
		os.Stdout.Write(content)
	}
}

func verifyCommand(f *globalFlags) {
	conn := f.connect()
	defer conn.Close()
	result, err := conn.VerifyChain()
	if err != nil {
		fmt.Printf("verify failed: %s\n", err)
		os.Exit(1)
	}
	if result.Ok {
		fmt.Println("chain verified")
	} else {
		fmt.Printf("chain corrupt at block %d\n", result.BrokenIndex)
		os.Exit(1)
	}
}
