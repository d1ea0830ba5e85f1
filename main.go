/*
Hermes is a chunked parallel file transfer tool. A server keeps a flat
directory of files; clients upload, download, list and delete them over a
small binary TCP protocol. Uploads and downloads split a file into byte
ranges that move concurrently, each on its own connection.

Usage:

	hermes [flags] serve
	hermes [flags] upload <path>
	hermes [flags] download <name> [destination]
	hermes [flags] list
	hermes [flags] delete <name>
	hermes [flags] ping

Flags may also be given as HERMES_* environment variables, in a .env file,
or in hermes.yaml.
*/
package main

import (
	"fmt"
	"os"

	"hermeshub/internal/client"
	"hermeshub/internal/config"
	"hermeshub/internal/logging"
	"hermeshub/internal/server"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	// Parse command line arguments
	cfg, err := config.Parse(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hermes: %v\n", err)
		fmt.Fprintln(os.Stderr, "usage: hermes [flags] serve|upload|download|list|delete|ping [args]")
		return 2
	}

	if err := logging.SetupLogger(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "hermes: failed to setup logging: %v\n", err)
		return 1
	}
	defer logging.Sync()

	logging.LogConfig(cfg)

	// Run in appropriate mode
	if cfg.IsServer() {
		if err := server.Run(cfg); err != nil {
			logging.LogError(err, "server")
			return 1
		}
		return 0
	}

	if err := client.Run(cfg); err != nil {
		logging.LogError(err, "client")
		fmt.Fprintf(os.Stderr, "hermes: %v\n", err)
		return 1
	}
	return 0
}
