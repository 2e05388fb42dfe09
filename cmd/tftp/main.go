// Command tftp fetches or stores a single file on a TFTP server.
//
//	tftp -server host[:port] get remote local
//	tftp -server host[:port] put remote local
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/anacrolix/tagflag"

	"github.com/sheerbytes/tftp/internal/client"
	"github.com/sheerbytes/tftp/internal/logging"
	"github.com/sheerbytes/tftp/pkg/wire"
)

var flags = struct {
	Server   string        `help:"server host or host:port"`
	Timeout  time.Duration `help:"per-block retransmission timeout"`
	Retries  int           `help:"sends of one block before giving up"`
	LogLevel string        `help:"log level (debug, info, warn, error)"`
	tagflag.StartPos
	Command string `help:"get or put"`
	Remote  string `help:"remote filename"`
	Local   string `help:"local path"`
}{
	Timeout:  5 * time.Second,
	Retries:  5,
	LogLevel: "info",
}

func main() {
	tagflag.Parse(&flags)
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "tftp:", err)
		os.Exit(1)
	}
}

func run() error {
	if flags.Server == "" {
		return fmt.Errorf("-server is required")
	}
	addr := flags.Server
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, strconv.Itoa(wire.DefaultPort))
	}

	c := &client.Client{
		ServerAddr: addr,
		Timeout:    flags.Timeout,
		Retries:    flags.Retries,
		Log:        logging.New("tftp", flags.LogLevel),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch flags.Command {
	case "get":
		return c.Get(ctx, flags.Remote, flags.Local)
	case "put":
		return c.Put(ctx, flags.Local, flags.Remote)
	}
	return fmt.Errorf("unknown command %q (want get or put)", flags.Command)
}
