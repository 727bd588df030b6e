package store

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"go.spiff.io/caddyfile"
)

var storeCorpus = map[string]string{
	"Empty":     "",
	"OnlyText":  "# nothing here\n\n",
	"NoNewline": "a {\n\tb\n}",
	"Comments":  "# top\n\n# more\na.com { # open\n\t# lead\n\tfoo # trail\n\n\t# tail\n} # close\n# end",
	"Global":    "{\n\temail admin@example.com\n}\n\nexample.com, www.example.com {\n\troot * /srv\n\tfile_server\n}\n",
	"Matchers":  "a {\n\t@api {\n\t\tpath /api/*\n\t}\n\treverse_proxy @api 127.0.0.1:9000\n}\n",
	"RawBody":   "a {\n\tlog {\n\t\toutput file /var/log/a.log {\n\t\t\troll_size 10mb\n\t\t}\n\t}\n}\n",
	"Sections":  "a {\n  tls {\n    protocols tls1.2\n    client_auth {\n      mode require\n    }\n  }\n}\n",
	"Imports":   "import ./common\n\n(snip) {\n\theader X-A b\n}\nimport other\nsite {\n\timport snip\n}\n",
	"Quotes":    "a {\n\trespond \"hello, \\\"world\\\"\" 200\n\trespond `raw {x}` 200\n}\n",
	"Inline":    "a { respond ok }\nb {respond ok}\n",
	"CRLF":      "a {\r\n\theader {\r\n\t\tX-A b\r\n\t}\r\n}\r\n",
	"Invalid8":  "a\xff {\n\tb \xfe\n}\n",
	"Labels":    "a.com,b.com ,  c.com,\n  http://[::1]:8080 {\n}\n",
}

func TestIngest_RoundTrip(t *testing.T) {
	s := openStore(t)
	for name, src := range storeCorpus {
		t.Run(name, func(t *testing.T) {
			ingest(t, s, name, src)
			require.Equal(t, src, render(t, s, name))

			// Rendering from rows again must not change anything.
			f, err := s.Load(context.Background(), name)
			require.NoError(t, err)
			require.Equal(t, src, f.String())
		})
	}
}

func TestIngest_SimpleSite(t *testing.T) {
	s := openStore(t)
	const src = "example.com {\n  respond \"hi\"\n}\n"
	ingest(t, s, "main", src)

	blocks := snapshot(t, s, "main")
	require.Len(t, blocks, 2)
	require.Equal(t, sentinelIndex, blocks[0].BlockIndex)

	blk := blocks[1]
	require.Equal(t, 0, blk.BlockIndex)
	require.False(t, blk.IsGlobal)
	require.True(t, blk.Braced)
	require.Len(t, blk.Sites, 1)
	require.Equal(t, "example.com", blk.Sites[0].RawLabel)
	require.NotNil(t, blk.Sites[0].Host)
	require.Equal(t, "example.com", *blk.Sites[0].Host)
	require.Nil(t, blk.Sites[0].Port)

	require.Len(t, blk.Directives, 1)
	d := blk.Directives[0]
	require.Equal(t, "respond", d.Name)
	require.Nil(t, d.Matcher)
	require.False(t, d.HasBlock)
	require.Len(t, d.Args, 1)
	require.Equal(t, `"hi"`, d.Args[0].Value)

	require.Equal(t, src, render(t, s, "main"))
}

func TestIngest_NestedBody(t *testing.T) {
	s := openStore(t)
	const src = ":80 {\n  header {\n    X-Test value\n  }\n}\n"
	ingest(t, s, "main", src)

	blocks := snapshot(t, s, "main")
	require.Len(t, blocks, 2)
	require.Equal(t, 80, *blocks[1].Sites[0].Port)

	d := blocks[1].Directives[0]
	require.Equal(t, "header", d.Name)
	require.True(t, d.HasBlock)
	require.Nil(t, d.RawBlockBody)
	require.Equal(t, []DirectiveKeyValue{{KVIndex: 0, Key: "X-Test", Value: "value"}}, d.KeyValues)

	require.Equal(t, src, render(t, s, "main"))
}

func TestIngest_RawBody(t *testing.T) {
	s := openStore(t)
	src := storeCorpus["RawBody"]
	sum := ingest(t, s, "main", src)
	require.Len(t, sum.Degraded, 1)
	require.Equal(t, "body", sum.Degraded[0].What)

	d := snapshot(t, s, "main")[1].Directives[0]
	require.True(t, d.HasBlock)
	require.NotNil(t, d.RawBlockBody)
	require.Empty(t, d.KeyValues)
	require.Equal(t, src, render(t, s, "main"))
}

func TestIngest_UnclosedBlock(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.Ingest(ctx, "main", "Caddyfile", []byte("site {\n  foo\n"))
	var se *caddyfile.StructuralError
	require.ErrorAs(t, err, &se)
	require.Equal(t, 1, se.Line())
	require.Equal(t, caddyfile.StageParse, se.Stage())

	_, err = s.Config(ctx, "main")
	require.ErrorIs(t, err, ErrNotFound)
	require.Zero(t, count(t, s, &ServerBlock{}))
}

func TestIngest_FailureKeepsRows(t *testing.T) {
	s := openStore(t)
	const good = "a {\n\tb\n}\n"
	ingest(t, s, "main", good)

	_, err := s.Ingest(context.Background(), "main", "Caddyfile", []byte("a {\n\trespond \"unterminated\n}\n"))
	var le *caddyfile.LexError
	require.ErrorAs(t, err, &le)
	require.Equal(t, good, render(t, s, "main"))
}

func TestIngest_Idempotent(t *testing.T) {
	s := openStore(t)
	for name, src := range storeCorpus {
		t.Run(name, func(t *testing.T) {
			first := ingest(t, s, name, src)
			rows := snapshot(t, s, name)

			second := ingest(t, s, name, src)
			require.Equal(t, rows, snapshot(t, s, name))
			require.Equal(t, first.Hash, second.Hash)
			require.Equal(t, first.Config.ID, second.Config.ID)
			require.NotEqual(t, first.ImportID, second.ImportID)
		})
	}
}

func TestIngest_OrderingPreserved(t *testing.T) {
	s := openStore(t)
	src := storeCorpus["Imports"]
	ingest(t, s, "main", src)

	f, err := caddyfile.Parse("", []byte(src))
	require.NoError(t, err)
	var want []string
	for _, blk := range f.Blocks {
		for _, d := range blk.Directives {
			want = append(want, d.Name)
		}
	}

	var got []string
	for _, blk := range snapshot(t, s, "main") {
		for _, d := range blk.Directives {
			got = append(got, d.Name)
		}
	}
	require.Equal(t, want, got)
	require.Equal(t, []string{"import", "header", "import", "import"}, got)
}

func TestIngest_Summary(t *testing.T) {
	s := openStore(t)
	src := "{\n\tdebug\n}\n\na.com, b.com {\n\trespond ok\n}\n\n{$HOST} {\n}\n"
	sum := ingest(t, s, "main", src)

	hash := sha256.Sum256([]byte(src))
	require.Equal(t, hex.EncodeToString(hash[:]), sum.Hash)
	require.Equal(t, []string{"(global options)", "a.com, b.com", "{$HOST}"}, sum.Blocks)
	require.Equal(t, 3, sum.Sites)
	require.Len(t, sum.Degraded, 1)
	require.ErrorIs(t, sum.Degraded[0], caddyfile.ErrPlaceholderLabel)
	require.NotEmpty(t, sum.ImportID)
	require.Empty(t, sum.Imports)

	cfg, err := s.Config(context.Background(), "main")
	require.NoError(t, err)
	require.Equal(t, sum.Hash, cfg.ContentHash)
	require.Equal(t, sum.ImportID, cfg.LastImportID)
	require.Equal(t, "/etc/caddy/main", cfg.Path)
	require.NotNil(t, cfg.LastImportedAt)
	require.Nil(t, cfg.LastExportedAt)

	blocks := snapshot(t, s, "main")
	require.True(t, blocks[1].IsGlobal)
	require.Nil(t, blocks[3].Sites[0].Host)
}

func TestIngest_SummaryImports(t *testing.T) {
	s := openStore(t)
	sum := ingest(t, s, "main", storeCorpus["Imports"])
	require.Equal(t, []string{"./common", "other", "snip"}, sum.Imports)
	require.Equal(t, storeCorpus["Imports"], render(t, s, "main"))
}

func TestIngest_EmptyName(t *testing.T) {
	s := openStore(t)
	_, err := s.Ingest(context.Background(), "", "Caddyfile", []byte("a {\n}\n"))
	var me *MappingError
	require.ErrorAs(t, err, &me)
	require.ErrorIs(t, err, ErrInvalidArg)
	require.Equal(t, caddyfile.StageMap, me.Stage())
}

func TestIngestFile(t *testing.T) {
	s := openStore(t)
	f, err := caddyfile.Parse("Caddyfile", []byte("a {\n\tb c\n}\n"))
	require.NoError(t, err)
	f.Blocks[0].Directives[0].Args[0].Value = "d"

	_, err = s.IngestFile(context.Background(), "main", "Caddyfile", f)
	require.NoError(t, err)
	require.Equal(t, "a {\n\tb d\n}\n", render(t, s, "main"))
}

func TestExport(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	src := storeCorpus["Global"]
	ingest(t, s, "main", src)

	var buf bytes.Buffer
	require.NoError(t, s.Export(ctx, "main", &buf))
	require.Equal(t, src, buf.String())

	cfg, err := s.Config(ctx, "main")
	require.NoError(t, err)
	require.NotNil(t, cfg.LastExportedAt)

	err = s.Export(ctx, "missing", &buf)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRender_ConcurrentIngest(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	sources := []string{storeCorpus["Global"], storeCorpus["Comments"]}
	ingest(t, s, "main", sources[0])

	const n = 200
	var wg sync.WaitGroup
	wg.Add(1)
	errs := make(chan error, n)
	go func() {
		defer wg.Done()
		for i := 0; i < n; i++ {
			_, err := s.Ingest(ctx, "main", "Caddyfile", []byte(sources[(i+1)%2]))
			errs <- err
		}
	}()

	for i := 0; i < n; i++ {
		require.Contains(t, sources, render(t, s, "main"))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
}

func TestExport_BothBodies(t *testing.T) {
	s := openStore(t)
	ingest(t, s, "main", "a {\n\theader {\n\t\tX-A b\n\t}\n}\n")

	err := s.db.Model(&Directive{}).Where("name = ?", "header").Update("raw_block_body", "\n").Error
	require.NoError(t, err)

	text, err := s.Render(context.Background(), "main")
	require.Nil(t, text)
	var ee *ExportError
	require.ErrorAs(t, err, &ee)
	require.Equal(t, 0, ee.Block)
	require.Equal(t, 0, ee.Line)
	require.Equal(t, caddyfile.StageExport, ee.Stage())
}

func TestConfigs(t *testing.T) {
	s := openStore(t)
	ingest(t, s, "b", "b {\n}\n")
	ingest(t, s, "a", "a {\n}\n")

	cfgs, err := s.Configs(context.Background())
	require.NoError(t, err)
	require.Len(t, cfgs, 2)
	require.Equal(t, "a", cfgs[0].Name)
	require.Equal(t, "b", cfgs[1].Name)
}

func TestDeleteConfig_Cascade(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	ingest(t, s, "main", storeCorpus["Global"])
	ingest(t, s, "other", "x {\n\ty z\n}\n")

	require.NoError(t, s.DeleteConfig(ctx, "main"))
	_, err := s.Config(ctx, "main")
	require.ErrorIs(t, err, ErrNotFound)

	// Only the rows of "other" remain.
	require.EqualValues(t, 2, count(t, s, &ServerBlock{}))
	require.EqualValues(t, 1, count(t, s, &ServerBlockSite{}))
	require.EqualValues(t, 1, count(t, s, &Directive{}))
	require.EqualValues(t, 1, count(t, s, &DirectiveArg{}))
	require.Equal(t, "x {\n\ty z\n}\n", render(t, s, "other"))

	err = s.DeleteConfig(ctx, "main")
	require.True(t, errors.Is(err, ErrNotFound))
}
