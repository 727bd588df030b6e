package drift

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompare_InSync(t *testing.T) {
	src := []byte("a {\n\tb\n}\n")
	r := Compare("/etc/caddy/Caddyfile", src, src)
	require.True(t, r.InSync)
	require.Equal(t, r.GeneratedHash, r.TargetHash)
	require.Empty(t, r.Diff)
	require.Equal(t, "Drift: /etc/caddy/Caddyfile matches the database", r.Summary())
}

func TestCompare_Differs(t *testing.T) {
	r := Compare("/etc/caddy/Caddyfile", []byte("a {\n\tc\n}\n"), []byte("a {\n\tb\n}\n"))
	require.False(t, r.InSync)
	require.NotEqual(t, r.GeneratedHash, r.TargetHash)
	require.Equal(t, "--- /etc/caddy/Caddyfile", r.Diff[0])
	require.Equal(t, "+++ generated", r.Diff[1])
	require.Contains(t, r.Diff, "-\tb")
	require.Contains(t, r.Diff, "+\tc")
	require.Equal(t, "Drift: differences detected for /etc/caddy/Caddyfile", r.Summary())
}

func TestCompare_Truncated(t *testing.T) {
	var gen, cur strings.Builder
	for i := 0; i < 300; i++ {
		fmt.Fprintf(&gen, "g%d\n", i)
		fmt.Fprintf(&cur, "c%d\n", i)
	}
	r := Compare("Caddyfile", []byte(gen.String()), []byte(cur.String()))
	require.Len(t, r.Diff, MaxDiffLines+1)
	require.Equal(t, "... diff truncated ...", r.Diff[MaxDiffLines])
}

func TestFailed(t *testing.T) {
	err := fmt.Errorf("read /etc/caddy/Caddyfile: %w", fs.ErrPermission)
	r := Failed("/etc/caddy/Caddyfile", []byte("a {\n}\n"), err)
	require.False(t, r.InSync)
	require.Empty(t, r.TargetHash)
	require.True(t, errors.Is(r.Err, fs.ErrPermission))
	require.Equal(t, "Drift: read /etc/caddy/Caddyfile: permission denied", r.Summary())

	require.Equal(t, "Drift: status unknown", (&Report{Target: "x"}).Summary())
}

func TestHash(t *testing.T) {
	require.Equal(t, "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855", Hash(nil))
}
