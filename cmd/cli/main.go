// Command sk-admin manages sonickeeper accounts directly in the record store.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/and161185/sonickeeper/internal/errs"
	"github.com/and161185/sonickeeper/internal/logging"
	"github.com/and161185/sonickeeper/internal/migrate"
	"github.com/and161185/sonickeeper/internal/repository/postgres"
	"github.com/and161185/sonickeeper/internal/service"
)

func usage() {
	fmt.Fprintf(os.Stderr, `sk-admin
Usage:
  sk-admin [-dsn DSN] [-v] <cmd> [args]

Commands:
  version
  migrate    [up|version]
  user list
  user add      -u <name> [-mail <addr>] [-admin] [-p <password>]
  user delete   <name|id>
  user setadmin <name|id> true|false
  user passwd   <name|id> [-p <password>]
  user rename   <name|id> <new name>

The DSN defaults to $SK_DSN. Passwords are prompted for when -p is omitted.
`)
	os.Exit(2)
}

var (
	version   = "dev"
	buildDate = "unknown"
)

// main opens the record store and dispatches to the subcommand.
func main() {
	dsn := flag.String("dsn", os.Getenv("SK_DSN"), "PostgreSQL DSN")
	verbose := flag.Bool("v", false, "development logging")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch flag.Arg(0) {
	case "version":
		fmt.Printf("sk-admin %s (%s)\n", version, buildDate)
		return
	case "migrate":
		if *dsn == "" {
			fail(errors.New("need -dsn or SK_DSN"))
		}
		if err := runMigrate(ctx, *dsn, flag.Args()[1:], os.Stdout); err != nil {
			fail(err)
		}
		return
	}

	if *dsn == "" {
		fail(errors.New("need -dsn or SK_DSN"))
	}
	logger, err := logging.New(*verbose)
	if err != nil {
		fail(err)
	}
	if !*verbose {
		logger = logger.WithOptions(zap.IncreaseLevel(zap.WarnLevel))
	}
	defer func() { _ = logger.Sync() }()

	db, err := postgres.New(ctx, *dsn)
	if err != nil {
		fail(err)
	}
	defer db.Close()
	store := postgres.NewStore(db)

	a := &app{
		accounts:     service.NewAccountService(store, nil, nil, 0, logger),
		users:        store.Repos().Users,
		out:          os.Stdout,
		readPassword: promptPassword(os.Stdin, os.Stderr),
	}
	if err := a.run(ctx, flag.Args()); err != nil {
		db.Close()
		fail(err)
	}
}

func runMigrate(ctx context.Context, dsn string, args []string, out io.Writer) error {
	sub := "up"
	if len(args) > 0 {
		sub = args[0]
	}
	switch sub {
	case "up":
		if err := migrate.Up(ctx, dsn); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		fallthrough
	case "version":
		v, err := migrate.Version(ctx, dsn)
		if err != nil {
			return fmt.Errorf("migrate version: %w", err)
		}
		fmt.Fprintf(out, "schema version %d\n", v)
		return nil
	default:
		return fmt.Errorf("unknown migrate command %q", sub)
	}
}

// promptPassword reads without echo from a terminal and falls back to a plain line otherwise.
func promptPassword(in *os.File, prompt io.Writer) func(string) (string, error) {
	lines := bufio.NewReader(in)
	return func(label string) (string, error) {
		fmt.Fprint(prompt, label)
		if term.IsTerminal(int(in.Fd())) {
			b, err := term.ReadPassword(int(in.Fd()))
			fmt.Fprintln(prompt)
			return string(b), err
		}
		s, err := lines.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && s != "") {
			return "", err
		}
		return strings.TrimRight(s, "\r\n"), nil
	}
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// fail prints the user-facing message plus the cause and exits.
func fail(err error) {
	msg := errs.MessageOf(err)
	if errs.CodeOf(err) == errs.CodeInternal || msg == err.Error() {
		fmt.Fprintln(os.Stderr, "error:", err)
	} else {
		fmt.Fprintf(os.Stderr, "error: %s (%v)\n", msg, err)
	}
	os.Exit(1)
}
