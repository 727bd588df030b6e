package store

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

const editSource = "# sites\n" +
	"a.com {\n" +
	"\troot * /srv # docs\n" +
	"\n" +
	"\theader {\n" +
	"\t\tX-A b\n" +
	"\t}\n" +
	"\tfile_server\n" +
	"}\n" +
	"\n" +
	"b.com {\n" +
	"\trespond \"b\"\n" +
	"}\n"

type editCase struct {
	Name string
	Src  string // defaults to editSource
	Edit func(context.Context, *Store) error
	Want string
}

func (c editCase) Run(t *testing.T) {
	t.Run(c.Name, func(t *testing.T) {
		s := openStore(t)
		src := c.Src
		if src == "" {
			src = editSource
		}
		ingest(t, s, "main", src)

		require.NoError(t, c.Edit(context.Background(), s))
		got := render(t, s, "main")
		require.Equal(t, c.Want, got)

		// The edited text must round trip on its own.
		ingest(t, s, "again", got)
		require.Equal(t, got, render(t, s, "again"))
		requireContiguous(t, s, "main")
	})
}

// requireContiguous checks that every ordering column of a config runs 0..n-1 within its
// parent.
func requireContiguous(t *testing.T, s *Store, name string) {
	t.Helper()
	for i, blk := range snapshot(t, s, name) {
		require.Equal(t, i-1, blk.BlockIndex)
		for j, site := range blk.Sites {
			require.Equal(t, j, site.LabelIndex)
		}
		for j, frag := range blk.Fragments {
			require.Equal(t, j, frag.FragmentIndex)
		}
		for j, d := range blk.Directives {
			require.Equal(t, j, d.LineIndex)
			for k, arg := range d.Args {
				require.Equal(t, k, arg.ArgIndex)
			}
			for k, kv := range d.KeyValues {
				require.Equal(t, k, kv.KVIndex)
			}
		}
	}
}

func ref(block, line, index int) Ref {
	return Ref{Config: "main", Block: block, Line: line, Index: index}
}

func TestEditArgs(t *testing.T) {
	cases := []editCase{
		{
			Name: "Update",
			Edit: func(ctx context.Context, s *Store) error {
				return s.UpdateArg(ctx, ref(0, 0, 1), "/var/www")
			},
			Want: strings.Replace(editSource, "/srv", "/var/www", 1),
		},
		{
			Name: "UpdateQuoted",
			Edit: func(ctx context.Context, s *Store) error {
				return s.UpdateArg(ctx, ref(1, 0, 0), `"hello, world"`)
			},
			Want: strings.Replace(editSource, `"b"`, `"hello, world"`, 1),
		},
		{
			Name: "Append",
			Edit: func(ctx context.Context, s *Store) error {
				return s.CreateArg(ctx, ref(1, 0, -1), "200")
			},
			Want: strings.Replace(editSource, `respond "b"`, `respond "b" 200`, 1),
		},
		{
			Name: "Insert",
			Edit: func(ctx context.Context, s *Store) error {
				return s.CreateArg(ctx, ref(0, 0, 1), "/a")
			},
			Want: strings.Replace(editSource, "root * /srv", "root * /a /srv", 1),
		},
		{
			Name: "Delete",
			Edit: func(ctx context.Context, s *Store) error {
				return s.DeleteArg(ctx, ref(0, 0, 0))
			},
			Want: strings.Replace(editSource, "root * /srv", "root /srv", 1),
		},
	}
	for _, c := range cases {
		c.Run(t)
	}
}

func TestEditDirectives(t *testing.T) {
	cases := []editCase{
		{
			Name: "Append",
			Edit: func(ctx context.Context, s *Store) error {
				return s.CreateDirective(ctx, ref(0, -1, 0), DirectiveSpec{Name: "encode", Args: []string{"gzip"}})
			},
			Want: strings.Replace(editSource, "\tfile_server\n", "\tfile_server\n\tencode gzip\n", 1),
		},
		{
			Name: "InsertFirst",
			Edit: func(ctx context.Context, s *Store) error {
				return s.CreateDirective(ctx, ref(1, 0, 0), DirectiveSpec{
					Matcher: "api",
					Name:    "reverse_proxy",
					Args:    []string{"localhost:9000"},
				})
			},
			Want: strings.Replace(editSource, "b.com {\n", "b.com {\n\t@api reverse_proxy localhost:9000\n", 1),
		},
		{
			Name: "EmptyBlock",
			Src:  "a {\n}\n",
			Edit: func(ctx context.Context, s *Store) error {
				return s.CreateDirective(ctx, ref(0, -1, 0), DirectiveSpec{Name: "respond", Args: []string{"ok"}})
			},
			Want: "a {\n\trespond ok\n}\n",
		},
		{
			Name: "SpaceIndent",
			Src:  "a {\n    root /srv\n}\n",
			Edit: func(ctx context.Context, s *Store) error {
				return s.CreateDirective(ctx, ref(0, -1, 0), DirectiveSpec{Name: "file_server"})
			},
			Want: "a {\n    root /srv\n    file_server\n}\n",
		},
		{
			Name: "Unbraced",
			Src:  "import a\nimport b",
			Edit: func(ctx context.Context, s *Store) error {
				return s.CreateDirective(ctx, ref(0, -1, 0), DirectiveSpec{Name: "import", Args: []string{"c"}})
			},
			Want: "import a\nimport b\nimport c\n",
		},
		{
			Name: "UnbracedFirst",
			Src:  "import a\n",
			Edit: func(ctx context.Context, s *Store) error {
				return s.CreateDirective(ctx, ref(0, 0, 0), DirectiveSpec{Name: "import", Args: []string{"z"}})
			},
			Want: "import z\nimport a\n",
		},
		{
			Name: "Update",
			Edit: func(ctx context.Context, s *Store) error {
				return s.UpdateDirective(ctx, ref(0, 0, 0), DirectiveSpec{Matcher: "static", Name: "root", Args: []string{"/www"}})
			},
			Want: strings.Replace(editSource, "\troot * /srv # docs", "\t@static root /www # docs", 1),
		},
		{
			Name: "UpdateKeepsSpacing",
			Src:  "a {\n\tfoo  x\t\ty\n}\n",
			Edit: func(ctx context.Context, s *Store) error {
				return s.UpdateDirective(ctx, ref(0, 0, 0), DirectiveSpec{Name: "bar", Args: []string{"1", "2", "3"}})
			},
			Want: "a {\n\tbar  1\t\t2 3\n}\n",
		},
		{
			Name: "UpdateKeepsBody",
			Edit: func(ctx context.Context, s *Store) error {
				return s.UpdateDirective(ctx, ref(0, 1, 0), DirectiveSpec{Name: "header", Args: []string{"/api/*"}})
			},
			Want: strings.Replace(editSource, "\theader {", "\theader /api/* {", 1),
		},
		{
			Name: "Delete",
			Edit: func(ctx context.Context, s *Store) error {
				return s.DeleteDirective(ctx, ref(0, 1, 0))
			},
			Want: strings.Replace(editSource, "\n\theader {\n\t\tX-A b\n\t}\n", "", 1),
		},
		{
			Name: "DeleteOnly",
			Edit: func(ctx context.Context, s *Store) error {
				return s.DeleteDirective(ctx, ref(1, 0, 0))
			},
			Want: strings.Replace(editSource, "b.com {\n\trespond \"b\"\n}\n", "b.com {\n}\n", 1),
		},
		{
			Name: "DeleteFirst",
			Src:  "a {\n\tfoo\n\tbar\n}\n",
			Edit: func(ctx context.Context, s *Store) error {
				return s.DeleteDirective(ctx, ref(0, 0, 0))
			},
			Want: "a {\n\tbar\n}\n",
		},
		{
			Name: "DeleteInserted",
			Src:  "a {\n\tfoo\n\tbar\n}\n",
			Edit: func(ctx context.Context, s *Store) error {
				if err := s.CreateDirective(ctx, ref(0, 0, 0), DirectiveSpec{Name: "baz"}); err != nil {
					return err
				}
				return s.DeleteDirective(ctx, ref(0, 0, 0))
			},
			Want: "a {\n\tfoo\n\tbar\n}\n",
		},
	}
	for _, c := range cases {
		c.Run(t)
	}
}

func TestEditKeyValues(t *testing.T) {
	cases := []editCase{
		{
			Name: "Append",
			Edit: func(ctx context.Context, s *Store) error {
				return s.CreateKeyValue(ctx, ref(0, 1, -1), KeyValueSpec{Key: "X-B", Value: "c"})
			},
			Want: strings.Replace(editSource, "\t\tX-A b\n", "\t\tX-A b\n\t\tX-B c\n", 1),
		},
		{
			Name: "Section",
			Edit: func(ctx context.Context, s *Store) error {
				return s.CreateKeyValue(ctx, ref(0, 1, -1), KeyValueSpec{Section: "s", Key: "k", Value: "v"})
			},
			Want: strings.Replace(editSource, "\t\tX-A b\n", "\t\tX-A b\n\t\ts {\n\t\t\tk v\n\t\t}\n", 1),
		},
		{
			Name: "NewBody",
			Edit: func(ctx context.Context, s *Store) error {
				return s.CreateKeyValue(ctx, ref(0, 2, -1), KeyValueSpec{Key: "browse"})
			},
			Want: strings.Replace(editSource, "\tfile_server\n", "\tfile_server {\n\t\tbrowse\n\t}\n", 1),
		},
		{
			Name: "EmptyRawBody",
			Src:  "a {\n\tfoo {\n\t}\n}\n",
			Edit: func(ctx context.Context, s *Store) error {
				return s.CreateKeyValue(ctx, ref(0, 0, 0), KeyValueSpec{Key: "k", Value: "v"})
			},
			Want: "a {\n\tfoo {\n\t\tk v\n\t}\n}\n",
		},
		{
			Name: "Update",
			Edit: func(ctx context.Context, s *Store) error {
				return s.UpdateKeyValue(ctx, ref(0, 1, 0), KeyValueSpec{Key: "X-A", Value: `"x y"`})
			},
			Want: strings.Replace(editSource, "\t\tX-A b\n", "\t\tX-A \"x y\"\n", 1),
		},
		{
			Name: "Delete",
			Edit: func(ctx context.Context, s *Store) error {
				return s.DeleteKeyValue(ctx, ref(0, 1, 0))
			},
			Want: strings.Replace(editSource, "\t\tX-A b\n", "", 1),
		},
	}
	for _, c := range cases {
		c.Run(t)
	}
}

func TestEditKeyValues_RawBody(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	src := storeCorpus["RawBody"]
	ingest(t, s, "main", src)

	err := s.CreateKeyValue(ctx, ref(0, 0, -1), KeyValueSpec{Key: "format", Value: "json"})
	require.ErrorIs(t, err, ErrRawBody)
	err = s.DeleteKeyValue(ctx, ref(0, 0, 0))
	require.ErrorIs(t, err, ErrRawBody)
	require.Equal(t, src, render(t, s, "main"))
}

func TestEditBlocks(t *testing.T) {
	cases := []editCase{
		{
			Name: "Append",
			Edit: func(ctx context.Context, s *Store) error {
				return s.CreateBlock(ctx, ref(-1, 0, 0), []string{"c.com", "www.c.com"})
			},
			Want: editSource + "\nc.com, www.c.com {\n}\n",
		},
		{
			Name: "Insert",
			Edit: func(ctx context.Context, s *Store) error {
				return s.CreateBlock(ctx, ref(0, 0, 0), []string{"z.com"})
			},
			Want: "# sites\n\nz.com {\n}\n" + strings.TrimPrefix(editSource, "# sites\n"),
		},
		{
			Name: "AppendNoNewline",
			Src:  "a {\n}",
			Edit: func(ctx context.Context, s *Store) error {
				return s.CreateBlock(ctx, ref(-1, 0, 0), []string{"b"})
			},
			Want: "a {\n}\n\nb {\n}\n",
		},
		{
			Name: "Global",
			Src:  "a {\n}\n",
			Edit: func(ctx context.Context, s *Store) error {
				if err := s.CreateBlock(ctx, ref(0, 0, 0), nil); err != nil {
					return err
				}
				return s.CreateDirective(ctx, ref(0, -1, 0), DirectiveSpec{Name: "debug"})
			},
			Want: "{\n\tdebug\n}\na {\n}\n",
		},
		{
			Name: "Relabel",
			Edit: func(ctx context.Context, s *Store) error {
				return s.UpdateBlockLabels(ctx, ref(1, 0, 0), []string{"b.com", "www.b.com"})
			},
			Want: strings.Replace(editSource, "b.com {", "b.com, www.b.com {", 1),
		},
		{
			Name: "RelabelKeepsSeparators",
			Src:  "a,\n\tb {\n}\n",
			Edit: func(ctx context.Context, s *Store) error {
				return s.UpdateBlockLabels(ctx, ref(0, 0, 0), []string{"x", "y", "z"})
			},
			Want: "x,\n\ty, z {\n}\n",
		},
		{
			Name: "Delete",
			Edit: func(ctx context.Context, s *Store) error {
				return s.DeleteBlock(ctx, ref(0, 0, 0))
			},
			Want: "# sites\n\nb.com {\n\trespond \"b\"\n}\n",
		},
	}
	for _, c := range cases {
		c.Run(t)
	}
}

func TestDeleteBlock_Cascade(t *testing.T) {
	s := openStore(t)
	ingest(t, s, "main", editSource)

	require.NoError(t, s.DeleteBlock(context.Background(), ref(0, 0, 0)))
	require.EqualValues(t, 1, count(t, s, &Directive{}))
	require.EqualValues(t, 1, count(t, s, &DirectiveArg{}))
	require.EqualValues(t, 1, count(t, s, &ServerBlockSite{}))
	require.Zero(t, count(t, s, &DirectiveKeyValue{}))

	// The remaining block is now block 0.
	require.NoError(t, s.UpdateArg(context.Background(), ref(0, 0, 0), `"c"`))
	require.Equal(t, "# sites\n\nb.com {\n\trespond \"c\"\n}\n", render(t, s, "main"))
}

func TestEdit_InvalidArg(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	ingest(t, s, "main", editSource)

	edits := map[string]func() error{
		"ArgSpace":     func() error { return s.CreateArg(ctx, ref(0, 0, -1), "a b") },
		"ArgBrace":     func() error { return s.UpdateArg(ctx, ref(0, 0, 0), "{") },
		"ArgEmpty":     func() error { return s.CreateArg(ctx, ref(0, 0, -1), "") },
		"ArgComment":   func() error { return s.CreateArg(ctx, ref(0, 0, -1), "#x") },
		"ArgOpenQuote": func() error { return s.CreateArg(ctx, ref(0, 0, -1), `"x`) },
		"NameMatcher":  func() error { return s.CreateDirective(ctx, ref(0, -1, 0), DirectiveSpec{Name: "@x"}) },
		"NameQuoted":   func() error { return s.CreateDirective(ctx, ref(0, -1, 0), DirectiveSpec{Name: `"x"`}) },
		"LabelComma":   func() error { return s.CreateBlock(ctx, ref(-1, 0, 0), []string{"a,b"}) },
		"NoLabels":     func() error { return s.UpdateBlockLabels(ctx, ref(0, 0, 0), nil) },
		"KVValueBrace": func() error { return s.CreateKeyValue(ctx, ref(0, 1, -1), KeyValueSpec{Key: "a", Value: "x {"}) },
		"KVValueSpace": func() error { return s.CreateKeyValue(ctx, ref(0, 1, -1), KeyValueSpec{Key: "a", Value: " x"}) },
		"KVKeyQuoted":  func() error { return s.CreateKeyValue(ctx, ref(0, 1, -1), KeyValueSpec{Key: `"a"`}) },
		"KVNewline":    func() error { return s.UpdateKeyValue(ctx, ref(0, 1, 0), KeyValueSpec{Key: "a", Value: "x\ny"}) },
	}
	for name, edit := range edits {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, edit(), ErrInvalidArg)
		})
	}
	require.Equal(t, editSource, render(t, s, "main"))
}

func TestCreateArg_MatcherOnly(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	src := storeCorpus["Matchers"]
	ingest(t, s, "main", src)

	err := s.CreateArg(ctx, ref(0, 0, -1), "x")
	require.ErrorIs(t, err, ErrInvalidArg)
	require.Equal(t, src, render(t, s, "main"))

	require.NoError(t, s.CreateArg(ctx, ref(0, 1, -1), "x"))
	require.Equal(t, "a {\n\t@api {\n\t\tpath /api/*\n\t}\n\treverse_proxy @api 127.0.0.1:9000 x\n}\n", render(t, s, "main"))
}

func TestEdit_NotFound(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	ingest(t, s, "main", editSource)

	edits := map[string]func() error{
		"Config":    func() error { return s.DeleteBlock(ctx, Ref{Config: "nope"}) },
		"Block":     func() error { return s.DeleteBlock(ctx, ref(9, 0, 0)) },
		"Sentinel":  func() error { return s.DeleteBlock(ctx, ref(-1, 0, 0)) },
		"Directive": func() error { return s.DeleteDirective(ctx, ref(0, 3, 0)) },
		"Position":  func() error { return s.CreateDirective(ctx, ref(0, 4, 0), DirectiveSpec{Name: "x"}) },
		"Arg":       func() error { return s.UpdateArg(ctx, ref(0, 0, 2), "x") },
		"KV":        func() error { return s.DeleteKeyValue(ctx, ref(0, 1, 1)) },
		"NoBody":    func() error { return s.DeleteKeyValue(ctx, ref(0, 0, 0)) },
	}
	for name, edit := range edits {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, edit(), ErrNotFound)
		})
	}
	require.Equal(t, editSource, render(t, s, "main"))
}

func TestEdit_Concurrent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	ingest(t, s, "main", "a {\n\tfoo\n}\n")
	ingest(t, s, "other", "b {\n\tbar\n}\n")

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, 2*n)
	for i := 0; i < n; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- s.CreateArg(ctx, ref(0, 0, -1), "x")
		}()
		go func() {
			defer wg.Done()
			errs <- s.CreateArg(ctx, Ref{Config: "other", Line: 0, Index: 0}, "y")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	require.Equal(t, "a {\n\tfoo"+strings.Repeat(" x", n)+"\n}\n", render(t, s, "main"))
	require.Equal(t, "b {\n\tbar"+strings.Repeat(" y", n)+"\n}\n", render(t, s, "other"))
	requireContiguous(t, s, "main")
	requireContiguous(t, s, "other")
}
