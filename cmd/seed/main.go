// Package main seeds the local attendance database with demo data.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	seedcmd "github.com/louisbranch/rollcall/internal/cmd/seed"
	entrypoint "github.com/louisbranch/rollcall/internal/platform/cmd"
)

func main() {
	cfg, err := seedcmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix(entrypoint.LogPrefix(entrypoint.ServiceSeed))
	ctx, stop := entrypoint.SignalContext(context.Background())
	defer stop()

	if err := seedcmd.Run(ctx, cfg, os.Stdout); err != nil {
		log.Fatalf("seed: %v", err)
	}
}
