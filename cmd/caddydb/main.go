// Command caddydb imports Caddyfiles into a SQLite database, edits them there, and exports them
// back byte for byte.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/urfave/cli/v2"

	"go.spiff.io/caddyfile"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "devel"

func main() {
	// Use a minimal logger until settings are loaded.
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, os.Stdout, os.Stderr, os.Args)
	stop()

	if err != nil {
		var exit cli.ExitCoder
		if errors.As(err, &exit) {
			if msg := exit.Error(); msg != "" {
				fmt.Fprintln(os.Stderr, msg)
			}
			os.Exit(exit.ExitCode())
		}
		fmt.Fprintln(os.Stderr, errorMessage(err))
		os.Exit(1)
	}
}

// errorMessage formats err for the user, naming the stage it occurred in when known.
func errorMessage(err error) string {
	var se caddyfile.StageError
	if errors.As(err, &se) {
		return fmt.Sprintf("caddydb: %s: %v", se.Stage(), err)
	}
	return "caddydb: " + err.Error()
}

// run executes the command line args, with args[0] being the program name.
func run(ctx context.Context, outW, errW io.Writer, args []string) error {
	return newApp(outW, errW).RunContext(ctx, args)
}
