// Command nyxdb is a minimal dial-and-query example: connect to a server,
// run one query, print its rows. It does not parse a DSN or read
// environment variables for credentials beyond what flag.FlagSet offers
// directly — real callers build config.Config themselves (spec §6).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/nyxdb/nyxdb-go/config"
	"github.com/nyxdb/nyxdb-go/nyxdb"
)

var version = "dev"

func main() {
	fs := flag.NewFlagSet("nyxdb", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "nyxdb — run one query against a server\n\nUsage:\n  nyxdb [flags] <query>\n\nFlags:\n")
		fs.PrintDefaults()
	}

	showVersion := fs.Bool("version", false, "show version and exit")
	host := fs.String("host", "localhost", "server host")
	port := fs.Int("port", 5656, "server port")
	user := fs.String("user", "admin", "user name")
	password := fs.String("password", "", "password")
	database := fs.String("database", "main", "database name")
	timeout := fs.Duration("timeout", 10*time.Second, "query timeout")

	_ = fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("nyxdb %s\n", version)
		return
	}

	if fs.NArg() < 1 {
		fs.Usage()
		os.Exit(1)
	}

	cfg := config.Config{
		Host:     *host,
		Port:     *port,
		User:     *user,
		Password: *password,
		Database: *database,
		Log: func(e config.LogEntry) {
			fmt.Fprintf(os.Stderr, "%s: %s: %v\n", e.Source, e.Message, e.Err)
		},
	}

	if err := run(cfg, fs.Arg(0), *timeout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg config.Config, query string, timeout time.Duration) error {
	c := nyxdb.Connect(cfg)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rows, err := c.Query(ctx, query, nil)
	if err != nil {
		return fmt.Errorf("query: %w", err)
	}
	for _, row := range rows {
		fmt.Printf("%v\n", row)
	}
	return nil
}
