// Command aggregator runs one aggregation server.
//
//	aggregator <port>
//
// Settings come from the environment; see package config. On SIGINT or
// SIGTERM the server writes a snapshot before exiting.
package main

import (
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dreamware/stratus/internal/aggregator"
	"github.com/dreamware/stratus/internal/config"
)

// logFatal is a variable so tests can intercept fatal exits.
var logFatal = log.Fatalf

func main() {
	port, err := parseArgs(os.Args[1:])
	if err != nil {
		logFatal("usage: aggregator <port>: %v", err)
		return
	}

	srv, err := aggregator.New(config.Aggregator(port))
	if err != nil {
		logFatal("start: %v", err)
		return
	}
	srv.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	if err := srv.CreateSnapshot(); err != nil {
		log.Printf("snapshot: %v", err)
	}
	_ = srv.Close()
}

func parseArgs(args []string) (int, error) {
	if len(args) != 1 {
		return 0, errors.New("expected exactly one argument")
	}
	return config.ParsePort(args[0])
}
