package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kr/pretty"
	"github.com/urfave/cli/v2"

	"go.spiff.io/caddyfile"
	"go.spiff.io/caddyfile/internal/caddybin"
	"go.spiff.io/caddyfile/internal/ctxlog"
	"go.spiff.io/caddyfile/internal/drift"
	"go.spiff.io/caddyfile/internal/fileops"
	"go.spiff.io/caddyfile/internal/locate"
	"go.spiff.io/caddyfile/store"
)

func caddyfileFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "caddyfile",
		Aliases: []string{"f"},
		Usage:   "Caddyfile `PATH`",
	}
}

func (a *app) importCommand() *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "import a Caddyfile, replacing the stored config",
		Description: "The Caddyfile is searched for starting from --caddyfile: the path itself, a\n" +
			"Caddyfile beside it or inside it, and its parent directories. Without a path,\n" +
			"the default locations such as /etc/caddy/Caddyfile are searched.",
		Flags:  []cli.Flag{caddyfileFlag()},
		Action: a.importAction,
	}
}

func (a *app) importAction(c *cli.Context) error {
	path, err := locate.Find(a.caddyfile(c))
	if err != nil {
		return err
	}
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	src, err := a.files.ReadFile(path)
	if err != nil {
		return err
	}

	name := a.settings.ConfigName
	return a.withStore(c, func(ctx context.Context, s *store.Store) error {
		stop := a.spin("Importing " + path)
		sum, err := s.Ingest(ctx, name, path, src)
		stop()
		if err != nil {
			return err
		}

		fmt.Fprintf(a.out, "Imported %d site(s) from %s into config %q\n", sum.Sites, path, name)
		for _, label := range sum.Blocks {
			fmt.Fprintf(a.out, "  %s\n", label)
		}
		for _, imp := range sum.Imports {
			fmt.Fprintf(a.out, "  import %s\n", imp)
		}
		for _, d := range sum.Degraded {
			fmt.Fprintf(a.out, "warning: %v\n", d)
		}
		return nil
	})
}

func (a *app) exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "write the stored config to its Caddyfile",
		Flags: []cli.Flag{
			caddyfileFlag(),
			&cli.BoolFlag{Name: "stdout", Usage: "write to standard output instead of a file"},
			&cli.BoolFlag{Name: "validate", Usage: "check the config with caddy validate before writing it"},
			&cli.BoolFlag{Name: "reload", Usage: "run caddy reload with the written Caddyfile"},
		},
		Action: a.exportAction,
	}
}

func (a *app) exportAction(c *cli.Context) error {
	name := a.settings.ConfigName
	return a.withStore(c, func(ctx context.Context, s *store.Store) error {
		cfg, err := s.Config(ctx, name)
		if err != nil {
			return err
		}
		target := a.caddyfile(c)
		if target == "" {
			target = cfg.Path
		}
		if target == "" && !c.Bool("stdout") {
			return usageError("config %q has no Caddyfile path: use --caddyfile or --stdout", name)
		}
		if c.Bool("reload") && c.Bool("stdout") {
			return usageError("export: --reload cannot be used with --stdout")
		}

		if c.Bool("validate") {
			text, err := s.Render(ctx, name)
			if err != nil {
				return err
			}
			if err := a.validate(ctx, text); err != nil {
				return err
			}
		}

		var buf bytes.Buffer
		if err := s.Export(ctx, name, &buf); err != nil {
			return err
		}
		if c.Bool("stdout") {
			_, err := a.out.Write(buf.Bytes())
			return err
		}
		if err := a.files.WriteFile(target, buf.Bytes()); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "Exported config %q to %s\n", name, target)

		if c.Bool("reload") {
			bin, err := caddybin.Lookup(a.settings.CaddyBin)
			if err != nil {
				return err
			}
			if err := bin.Reload(ctx, target); err != nil {
				return fmt.Errorf("reload: %w", err)
			}
			fmt.Fprintln(a.out, "Reloaded caddy")
		}
		return nil
	})
}

func (a *app) renderCommand() *cli.Command {
	return &cli.Command{
		Name:  "render",
		Usage: "print the stored config as a Caddyfile",
		Action: func(c *cli.Context) error {
			return a.withStore(c, func(ctx context.Context, s *store.Store) error {
				text, err := s.Render(ctx, a.settings.ConfigName)
				if err != nil {
					return err
				}
				_, err = a.out.Write(text)
				return err
			})
		},
	}
}

func (a *app) diffCommand() *cli.Command {
	return &cli.Command{
		Name:  "diff",
		Usage: "compare the stored config with its Caddyfile",
		Description: "Prints a unified diff from the Caddyfile on disk to the stored config.\n" +
			"Exits with status 1 if they differ.",
		Flags:  []cli.Flag{caddyfileFlag()},
		Action: a.diffAction,
	}
}

func (a *app) diffAction(c *cli.Context) error {
	name := a.settings.ConfigName
	return a.withStore(c, func(ctx context.Context, s *store.Store) error {
		cfg, err := s.Config(ctx, name)
		if err != nil {
			return err
		}
		target := a.caddyfile(c)
		if target == "" {
			target = cfg.Path
		}
		stored, err := s.Load(ctx, name)
		if err != nil {
			return err
		}
		var buf bytes.Buffer
		if err := caddyfile.Format(&buf, stored); err != nil {
			return err
		}
		generated := buf.Bytes()

		var r *drift.Report
		current, err := a.files.ReadFile(target)
		if err != nil {
			r = drift.Failed(target, generated, err)
		} else {
			r = drift.Compare(target, generated, current)
		}

		for _, line := range r.Diff {
			fmt.Fprintln(a.out, line)
		}
		fmt.Fprintln(a.out, r.Summary())
		if r.Err == nil {
			a.printStructure(stored, target, current)
		}
		var perm *fileops.PermissionError
		if errors.As(r.Err, &perm) && perm.Command != "" {
			fmt.Fprintln(a.out, "Run:", perm.Command)
		}
		if !r.InSync {
			return cli.Exit("", 1)
		}
		return nil
	})
}

// printStructure prints the block by block comparison of the stored file with the target's
// contents. A target that does not parse is reported instead.
func (a *app) printStructure(stored *caddyfile.File, target string, current []byte) {
	f, err := caddyfile.Parse(target, current)
	if err != nil {
		fmt.Fprintf(a.out, "Structure: %s does not parse: %v\n", target, err)
		return
	}
	st, err := drift.CompareStructure(stored, f)
	if err != nil {
		fmt.Fprintf(a.out, "Structure: %v\n", err)
		return
	}
	fmt.Fprintln(a.out, st.Summary())
}

func (a *app) listCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "list stored configs",
		Action: func(c *cli.Context) error {
			return a.withStore(c, func(ctx context.Context, s *store.Store) error {
				cfgs, err := s.Configs(ctx)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tPATH\tIMPORTED\tEXPORTED\tHASH")
				for _, cfg := range cfgs {
					hash := cfg.ContentHash
					if len(hash) > 12 {
						hash = hash[:12]
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", cfg.Name, cfg.Path,
						timestamp(cfg.LastImportedAt), timestamp(cfg.LastExportedAt), hash)
				}
				return tw.Flush()
			})
		},
	}
}

func timestamp(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func (a *app) showCommand() *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "show the blocks, directives and key/value lines of the stored config with their indexes",
		Action: func(c *cli.Context) error {
			return a.withStore(c, func(ctx context.Context, s *store.Store) error {
				f, err := s.Load(ctx, a.settings.ConfigName)
				if err != nil {
					return err
				}
				a.show(f)
				return nil
			})
		},
	}
}

func (a *app) show(f *caddyfile.File) {
	for i, blk := range f.Blocks {
		fmt.Fprintf(a.out, "[%d] %s\n", i, blk.Summary())
		for j, d := range blk.Directives {
			fmt.Fprintf(a.out, "    [%d] %s\n", j, directiveLine(d))
			body, ok := d.Body.(*caddyfile.KeyValueBody)
			if !ok {
				continue
			}
			for k, kv := range body.Pairs {
				line := strings.TrimSpace(kv.Key + " " + kv.Value)
				if kv.Section != "" {
					line = kv.Section + " > " + line
				}
				fmt.Fprintf(a.out, "        (%d) %s\n", k, line)
			}
		}
	}
}

// directiveLine returns the words of a directive's first line separated by single spaces.
func directiveLine(d *caddyfile.Directive) string {
	words := make([]string, 0, len(d.Args)+3)
	if d.Matcher != "" {
		words = append(words, "@"+d.Matcher)
	}
	if d.Name != "" {
		words = append(words, d.Name)
	}
	words = append(words, d.ArgValues()...)
	switch d.Body.(type) {
	case caddyfile.RawBody:
		words = append(words, "{ raw }")
	case *caddyfile.KeyValueBody:
		words = append(words, "{")
	}
	return strings.Join(words, " ")
}

func (a *app) dumpCommand() *cli.Command {
	return &cli.Command{
		Name:  "dump",
		Usage: "print the parse tree of a Caddyfile or of the stored config",
		Flags: []cli.Flag{caddyfileFlag()},
		Action: func(c *cli.Context) error {
			if c.IsSet("caddyfile") {
				f, err := a.parseFile(c.String("caddyfile"))
				if err != nil {
					return err
				}
				pretty.Fprintf(a.out, "%# v\n", f)
				return nil
			}
			return a.withStore(c, func(ctx context.Context, s *store.Store) error {
				f, err := s.Load(ctx, a.settings.ConfigName)
				if err != nil {
					return err
				}
				pretty.Fprintf(a.out, "%# v\n", f)
				return nil
			})
		},
	}
}

func (a *app) parseFile(path string) (*caddyfile.File, error) {
	src, err := a.files.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return caddyfile.Parse(path, src)
}

func (a *app) tokensCommand() *cli.Command {
	return &cli.Command{
		Name:      "tokens",
		Usage:     "print the tokens of a Caddyfile",
		ArgsUsage: "PATH",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return usageError("tokens: expected one PATH argument")
			}
			path := c.Args().First()
			src, err := a.files.ReadFile(path)
			if err != nil {
				return err
			}
			toks, err := caddyfile.Tokenize(path, src)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			for _, tok := range toks {
				fmt.Fprintf(tw, "%d:%d\t%v\t%q\n", tok.Start.Line, tok.Start.Column, tok.Kind, tok.Raw)
			}
			return tw.Flush()
		},
	}
}

func (a *app) validateCommand() *cli.Command {
	return &cli.Command{
		Name:  "validate",
		Usage: "check the stored config, or a Caddyfile, with caddy validate",
		Flags: []cli.Flag{caddyfileFlag()},
		Action: func(c *cli.Context) error {
			if c.IsSet("caddyfile") {
				src, err := a.files.ReadFile(c.String("caddyfile"))
				if err != nil {
					return err
				}
				return a.validate(c.Context, src)
			}
			return a.withStore(c, func(ctx context.Context, s *store.Store) error {
				text, err := s.Render(ctx, a.settings.ConfigName)
				if err != nil {
					return err
				}
				return a.validate(ctx, text)
			})
		},
	}
}

func (a *app) validate(ctx context.Context, src []byte) error {
	v, err := a.caddy()
	if err != nil {
		return err
	}
	if err := v.Validate(ctx, src); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	ctxlog.FromContext(ctx).Info("Configuration is valid")
	fmt.Fprintln(a.out, "Valid configuration")
	return nil
}

func (a *app) deleteCommand() *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "delete a stored config",
		ArgsUsage: "NAME",
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return usageError("delete: expected one NAME argument")
			}
			name := c.Args().First()
			return a.withStore(c, func(ctx context.Context, s *store.Store) error {
				if err := s.DeleteConfig(ctx, name); err != nil {
					return err
				}
				fmt.Fprintf(a.out, "Deleted config %q\n", name)
				return nil
			})
		},
	}
}
