// Command contentserver uploads one observation file.
//
//	contentserver <host:port> <file>
//
// It syncs its clock with GET "/", sends the file as a PUT and prints the
// acknowledgement.
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
		logFatal("contentserver: %v", err)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	addr, file, err := client.ParseContentArgs(args)
	if err != nil {
		return err
	}
	c := client.NewContentClient(addr, file)
	resp, err := c.Run(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, resp.String())
	return err
}
