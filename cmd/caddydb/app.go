package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/urfave/cli/v2"
	"golang.org/x/term"

	"go.spiff.io/caddyfile/internal/caddybin"
	"go.spiff.io/caddyfile/internal/ctxlog"
	"go.spiff.io/caddyfile/internal/fileops"
	"go.spiff.io/caddyfile/internal/settings"
	"go.spiff.io/caddyfile/store"
)

// exitUsage is the exit code for invalid command lines and settings.
const exitUsage = 2

// app holds the state shared by all commands. It is filled in by before.
type app struct {
	out, errOut io.Writer

	settings settings.Settings
	files    fileops.Access
	// validator overrides the caddy binary named by the settings.
	validator caddybin.Validator
}

// flagSettings maps global flags to the settings they override.
var flagSettings = map[string]string{
	"db":         "database",
	"name":       "config-name",
	"log-level":  "log-level",
	"log-format": "log-format",
}

func newApp(outW, errW io.Writer) *cli.App {
	a := &app{out: outW, errOut: errW}
	return &cli.App{
		Name:      "caddydb",
		Usage:     "keep Caddyfiles in a database and edit them losslessly",
		Version:   version,
		Writer:    outW,
		ErrWriter: errW,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "settings `FILE` (default $CADDYDB_CONFIG or ~/.config/caddydb/config.toml)"},
			&cli.StringFlag{Name: "db", Usage: "SQLite database `PATH`"},
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "config `NAME` to operate on"},
			&cli.StringFlag{Name: "log-level", Usage: "log `LEVEL`: debug, info, warn, or error"},
			&cli.StringFlag{Name: "log-format", Usage: "log `FORMAT`: text or json"},
		},
		Before: a.before,
		// Exit codes are handled by main so that run can be tested.
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			a.importCommand(),
			a.exportCommand(),
			a.renderCommand(),
			a.diffCommand(),
			a.listCommand(),
			a.showCommand(),
			a.dumpCommand(),
			a.tokensCommand(),
			a.validateCommand(),
			a.deleteCommand(),
			a.blockCommand(),
			a.directiveCommand(),
			a.argCommand(),
			a.kvCommand(),
		},
	}
}

func (a *app) before(c *cli.Context) error {
	src := settings.DefaultSource()
	if path := c.String("config"); path != "" {
		src = settings.Source{Path: path, DropInDir: path + ".d"}
	}
	s, err := src.Read()
	if err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	if err := s.ApplyEnv(os.LookupEnv); err != nil {
		return cli.Exit(err.Error(), exitUsage)
	}
	for flag, key := range flagSettings {
		if !c.IsSet(flag) {
			continue
		}
		if err := s.Set(key, c.String(flag)); err != nil {
			return cli.Exit(fmt.Sprintf("--%s: %v", flag, err), exitUsage)
		}
	}
	a.settings = s

	logger := newLogger(s.LogLevel, s.LogFormat, a.errOut)
	c.Context = ctxlog.WithLogger(c.Context, logger)
	logger.Debug("Loaded settings", "path", src.Path, "database", s.Database, "config", s.ConfigName)

	if a.files == nil {
		a.files = fileops.OS{Program: c.App.Name, Config: c.String("config")}
	}
	return nil
}

// newLogger creates a logger writing to outW in the given format, "text" or "json".
func newLogger(level slog.Level, format string, outW io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(outW, opts)
	} else {
		handler = slog.NewTextHandler(outW, opts)
	}
	return slog.New(handler)
}

// withStore opens the database for the duration of fn.
func (a *app) withStore(c *cli.Context, fn func(ctx context.Context, s *store.Store) error) error {
	ctx := c.Context
	s, err := store.Open(ctx, a.settings.Database, store.WithVersion(version))
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s)
}

// caddyfile returns the --caddyfile flag of c, or the Caddyfile named in the settings.
func (a *app) caddyfile(c *cli.Context) string {
	if c.IsSet("caddyfile") {
		return c.String("caddyfile")
	}
	return a.settings.Caddyfile
}

func (a *app) caddy() (caddybin.Validator, error) {
	if a.validator != nil {
		return a.validator, nil
	}
	return caddybin.Lookup(a.settings.CaddyBin)
}

// spin shows a spinner with msg on the error output while it is a terminal. The returned
// function stops it.
func (a *app) spin(msg string) (stop func()) {
	f, ok := a.errOut.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return func() {}
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(f))
	s.Suffix = " " + msg
	s.Start()
	return s.Stop
}

func usageError(format string, args ...any) error {
	return cli.Exit(fmt.Sprintf(format, args...), exitUsage)
}
