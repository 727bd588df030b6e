package main

import (
	"context"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	"go.spiff.io/caddyfile/store"
)

// Edit commands address rows by the indexes printed by show. Argument values are raw tokens:
// quote them for caddy as well as for the shell, e.g. '"hello world"'.

func atFlag() cli.Flag {
	return &cli.IntFlag{Name: "at", Value: -1, Usage: "insert at `INDEX` instead of appending"}
}

func matcherFlag() cli.Flag {
	return &cli.StringFlag{Name: "matcher", Aliases: []string{"m"}, Usage: "matcher `NAME`, with or without '@'"}
}

func sectionFlag() cli.Flag {
	return &cli.StringFlag{Name: "section", Aliases: []string{"s"}, Usage: "section `NAME` of the key/value line"}
}

// positions parses the first len(names) arguments of c as integers and returns them along
// with the remaining arguments. At least more further arguments must follow.
func positions(c *cli.Context, more int, names ...string) ([]int, []string, error) {
	args := c.Args().Slice()
	if len(args) < len(names)+more {
		return nil, nil, usageError("%s: expected arguments %s", c.Command.FullName(), c.Command.ArgsUsage)
	}
	ints := make([]int, len(names))
	for i, name := range names {
		n, err := strconv.Atoi(args[i])
		if err != nil || n < 0 {
			return nil, nil, usageError("%s: invalid %s %q", c.Command.FullName(), name, args[i])
		}
		ints[i] = n
	}
	return ints, args[len(names):], nil
}

// editAction runs fn against an open store, with a Ref to the configured config.
func (a *app) editAction(fn func(ctx context.Context, s *store.Store, c *cli.Context, ref store.Ref) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		return a.withStore(c, func(ctx context.Context, s *store.Store) error {
			return fn(ctx, s, c, store.Ref{Config: a.settings.ConfigName, Block: -1, Line: -1, Index: -1})
		})
	}
}

func (a *app) blockCommand() *cli.Command {
	return &cli.Command{
		Name:  "block",
		Usage: "edit server blocks",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "add a server block; with no labels, add the global options block",
				ArgsUsage: "[LABEL...]",
				Flags:     []cli.Flag{atFlag()},
				Action: a.editAction(func(ctx context.Context, s *store.Store, c *cli.Context, ref store.Ref) error {
					ref.Block = c.Int("at")
					return s.CreateBlock(ctx, ref, c.Args().Slice())
				}),
			},
			{
				Name:      "labels",
				Usage:     "replace the site labels of a server block",
				ArgsUsage: "BLOCK LABEL...",
				Action: a.editAction(func(ctx context.Context, s *store.Store, c *cli.Context, ref store.Ref) error {
					pos, labels, err := positions(c, 1, "BLOCK")
					if err != nil {
						return err
					}
					ref.Block = pos[0]
					return s.UpdateBlockLabels(ctx, ref, labels)
				}),
			},
			{
				Name:      "rm",
				Usage:     "delete a server block",
				ArgsUsage: "BLOCK",
				Action: a.editAction(func(ctx context.Context, s *store.Store, c *cli.Context, ref store.Ref) error {
					pos, _, err := positions(c, 0, "BLOCK")
					if err != nil {
						return err
					}
					ref.Block = pos[0]
					return s.DeleteBlock(ctx, ref)
				}),
			},
		},
	}
}

func directiveSpec(c *cli.Context, words []string) store.DirectiveSpec {
	return store.DirectiveSpec{
		Matcher: strings.TrimPrefix(c.String("matcher"), "@"),
		Name:    words[0],
		Args:    words[1:],
	}
}

func (a *app) directiveCommand() *cli.Command {
	return &cli.Command{
		Name:  "directive",
		Usage: "edit directive lines",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "add a directive line to a block",
				ArgsUsage: "BLOCK NAME [ARG...]",
				Flags:     []cli.Flag{atFlag(), matcherFlag()},
				Action: a.editAction(func(ctx context.Context, s *store.Store, c *cli.Context, ref store.Ref) error {
					pos, words, err := positions(c, 1, "BLOCK")
					if err != nil {
						return err
					}
					ref.Block, ref.Line = pos[0], c.Int("at")
					return s.CreateDirective(ctx, ref, directiveSpec(c, words))
				}),
			},
			{
				Name:      "set",
				Usage:     "replace the name, matcher and arguments of a directive line",
				ArgsUsage: "BLOCK LINE NAME [ARG...]",
				Flags:     []cli.Flag{matcherFlag()},
				Action: a.editAction(func(ctx context.Context, s *store.Store, c *cli.Context, ref store.Ref) error {
					pos, words, err := positions(c, 1, "BLOCK", "LINE")
					if err != nil {
						return err
					}
					ref.Block, ref.Line = pos[0], pos[1]
					return s.UpdateDirective(ctx, ref, directiveSpec(c, words))
				}),
			},
			{
				Name:      "rm",
				Usage:     "delete a directive line",
				ArgsUsage: "BLOCK LINE",
				Action: a.editAction(func(ctx context.Context, s *store.Store, c *cli.Context, ref store.Ref) error {
					pos, _, err := positions(c, 0, "BLOCK", "LINE")
					if err != nil {
						return err
					}
					ref.Block, ref.Line = pos[0], pos[1]
					return s.DeleteDirective(ctx, ref)
				}),
			},
		},
	}
}

func (a *app) argCommand() *cli.Command {
	return &cli.Command{
		Name:  "arg",
		Usage: "edit directive arguments",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "add an argument to a directive",
				ArgsUsage: "BLOCK LINE VALUE",
				Flags:     []cli.Flag{atFlag()},
				Action: a.editAction(func(ctx context.Context, s *store.Store, c *cli.Context, ref store.Ref) error {
					pos, rest, err := positions(c, 1, "BLOCK", "LINE")
					if err != nil {
						return err
					}
					ref.Block, ref.Line, ref.Index = pos[0], pos[1], c.Int("at")
					return s.CreateArg(ctx, ref, rest[0])
				}),
			},
			{
				Name:      "set",
				Usage:     "replace an argument of a directive",
				ArgsUsage: "BLOCK LINE INDEX VALUE",
				Action: a.editAction(func(ctx context.Context, s *store.Store, c *cli.Context, ref store.Ref) error {
					pos, rest, err := positions(c, 1, "BLOCK", "LINE", "INDEX")
					if err != nil {
						return err
					}
					ref.Block, ref.Line, ref.Index = pos[0], pos[1], pos[2]
					return s.UpdateArg(ctx, ref, rest[0])
				}),
			},
			{
				Name:      "rm",
				Usage:     "delete an argument of a directive",
				ArgsUsage: "BLOCK LINE INDEX",
				Action: a.editAction(func(ctx context.Context, s *store.Store, c *cli.Context, ref store.Ref) error {
					pos, _, err := positions(c, 0, "BLOCK", "LINE", "INDEX")
					if err != nil {
						return err
					}
					ref.Block, ref.Line, ref.Index = pos[0], pos[1], pos[2]
					return s.DeleteArg(ctx, ref)
				}),
			},
		},
	}
}

func keyValueSpec(c *cli.Context, words []string) store.KeyValueSpec {
	return store.KeyValueSpec{
		Section: c.String("section"),
		Key:     words[0],
		Value:   strings.Join(words[1:], " "),
	}
}

func (a *app) kvCommand() *cli.Command {
	return &cli.Command{
		Name:  "kv",
		Usage: "edit key/value lines of a directive's body",
		Subcommands: []*cli.Command{
			{
				Name:      "add",
				Usage:     "add a key/value line to a directive's body",
				ArgsUsage: "BLOCK LINE KEY [VALUE...]",
				Flags:     []cli.Flag{atFlag(), sectionFlag()},
				Action: a.editAction(func(ctx context.Context, s *store.Store, c *cli.Context, ref store.Ref) error {
					pos, words, err := positions(c, 1, "BLOCK", "LINE")
					if err != nil {
						return err
					}
					ref.Block, ref.Line, ref.Index = pos[0], pos[1], c.Int("at")
					return s.CreateKeyValue(ctx, ref, keyValueSpec(c, words))
				}),
			},
			{
				Name:      "set",
				Usage:     "replace a key/value line of a directive's body",
				ArgsUsage: "BLOCK LINE INDEX KEY [VALUE...]",
				Flags:     []cli.Flag{sectionFlag()},
				Action: a.editAction(func(ctx context.Context, s *store.Store, c *cli.Context, ref store.Ref) error {
					pos, words, err := positions(c, 1, "BLOCK", "LINE", "INDEX")
					if err != nil {
						return err
					}
					ref.Block, ref.Line, ref.Index = pos[0], pos[1], pos[2]
					return s.UpdateKeyValue(ctx, ref, keyValueSpec(c, words))
				}),
			},
			{
				Name:      "rm",
				Usage:     "delete a key/value line of a directive's body",
				ArgsUsage: "BLOCK LINE INDEX",
				Action: a.editAction(func(ctx context.Context, s *store.Store, c *cli.Context, ref store.Ref) error {
					pos, _, err := positions(c, 0, "BLOCK", "LINE", "INDEX")
					if err != nil {
						return err
					}
					ref.Block, ref.Line, ref.Index = pos[0], pos[1], pos[2]
					return s.DeleteKeyValue(ctx, ref)
				}),
			},
		},
	}
}
