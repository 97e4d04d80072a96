// Command getclient fetches one station record.
//
//	getclient <host:port> [stationId]
//
// Without a station id it sends GET "/" and prints the 204 reply.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/dreamware/stratus/internal/client"
)

// logFatal is a variable so tests can intercept fatal exits.
var logFatal = log.Fatalf

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		logFatal("getclient: %v", err)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	addr, station, err := client.ParseGetArgs(args)
	if err != nil {
		return err
	}
	c := client.NewGetClient(addr, station)
	resp, err := c.Run(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, resp.String())
	return err
}
