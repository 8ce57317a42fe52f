// Package main starts the attendance board service.
package main

import (
	"context"
	"flag"
	"log"
	"os"

	attendancecmd "github.com/louisbranch/rollcall/internal/cmd/attendance"
	entrypoint "github.com/louisbranch/rollcall/internal/platform/cmd"
)

func main() {
	cfg, err := attendancecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix(entrypoint.LogPrefix(entrypoint.ServiceAttendance))
	ctx, stop := entrypoint.SignalContext(context.Background())
	defer stop()

	if err := attendancecmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
