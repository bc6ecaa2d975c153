// spectractl sends one command to a spectrometer daemon and prints the response.
//
// Usage:
//
//	spectractl [-addr host:port] [-device n] <command> [args]
//	spectractl -list
//
// Bulk responses are printed one value per line. The exit status is 1 on transport errors,
// 2 when the daemon dropped the request and 3 on a failure status.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/arloliu/go-spectrad/client"
	"github.com/arloliu/go-spectrad/wire"
)

// commands returning a length prefixed payload
var bulkCommands = []wire.Command{
	wire.CmdGetSpectrum,
	wire.CmdGetWavelengths,
	wire.CmdGetLastSpectrum,
	wire.CmdGetRawSpectrum,
}

func main() {
	addr := flag.String("addr", "127.0.0.1:1865", "daemon address")
	index := flag.Int("device", 0, "device index")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	list := flag.Bool("list", false, "list the command names and exit")
	flag.Parse()

	if *list {
		for _, cmd := range wire.Commands() {
			fmt.Printf("0x%04X %s\n", uint16(cmd), cmd)
		}
		return
	}

	if flag.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: spectractl [-addr host:port] [-device n] <command> [args]")
		os.Exit(1)
	}

	cmd, ok := wire.LookupCommand(flag.Arg(0))
	if !ok {
		fmt.Fprintf(os.Stderr, "spectractl: unknown command %q\n", flag.Arg(0))
		os.Exit(1)
	}
	args := strings.Join(flag.Args()[1:], " ")

	os.Exit(run(*addr, *index, cmd, args, *timeout))
}

func run(addr string, index int, cmd wire.Command, args string, timeout time.Duration) int {
	c, err := client.New(addr, client.WithTimeout(timeout))
	if err != nil {
		fmt.Fprintln(os.Stderr, "spectractl:", err)
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	resp, err := c.Do(ctx, cmd, index, args)
	if errors.Is(err, client.ErrNoResponse) {
		fmt.Fprintln(os.Stderr, "spectractl:", err)
		return 2
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "spectractl:", err)
		return 1
	}

	if resp.Status != wire.StatusSuccess {
		fmt.Fprintf(os.Stderr, "spectractl: %s: %s\n", resp.Status, resp.Text())
		return 3
	}

	if !slices.Contains(bulkCommands, cmd) {
		fmt.Println(resp.Text())
		return 0
	}

	body, err := resp.BulkBody()
	if err != nil {
		fmt.Fprintln(os.Stderr, "spectractl:", err)
		return 1
	}

	if cmd == wire.CmdGetRawSpectrum {
		_, _ = os.Stdout.Write(body)
		return 0
	}

	for _, field := range strings.Fields(string(body)) {
		fmt.Println(field)
	}

	return 0
}
