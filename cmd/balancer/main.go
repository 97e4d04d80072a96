// Command balancer runs the load balancer with its built-in replica.
//
//	balancer <port>
//
// The built-in replica binds the first free port above <port>. On SIGINT
// or SIGTERM the built-in replica writes a snapshot before exiting.
package main

import (
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dreamware/stratus/internal/balancer"
	"github.com/dreamware/stratus/internal/config"
)

// logFatal is a variable so tests can intercept fatal exits.
var logFatal = log.Fatalf

func main() {
	port, err := parseArgs(os.Args[1:])
	if err != nil {
		logFatal("usage: balancer <port>: %v", err)
		return
	}

	b, err := balancer.New(config.Balancer(port))
	if err != nil {
		logFatal("start: %v", err)
		return
	}
	b.Start()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	shutdown(b)
}

// shutdown snapshots the built-in replica and closes the balancer.
func shutdown(b *balancer.Balancer) {
	if srv := b.BuiltIn(); srv != nil && srv.IsUp() {
		if err := srv.CreateSnapshot(); err != nil {
			log.Printf("snapshot: %v", err)
		}
	}
	_ = b.Close()
}

func parseArgs(args []string) (int, error) {
	if len(args) != 1 {
		return 0, errors.New("expected exactly one argument")
	}
	return config.ParsePort(args[0])
}
