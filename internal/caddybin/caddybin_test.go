package caddybin

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeCaddy writes a shell script standing in for caddy. It records its arguments in
// args.txt beside itself, copies the config to config.txt, and fails when the config
// contains "bad".
func fakeCaddy(t *testing.T) (bin, dir string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported")
	}
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("no sh on $PATH")
	}
	dir = t.TempDir()
	bin = filepath.Join(dir, "caddy")
	script := `#!/bin/sh
echo "$@" > "` + dir + `/args.txt"
cp "$3" "` + dir + `/config.txt"
if grep -q bad "$3"; then
	echo "Error: adapting config using caddyfile: unrecognized directive: bad" >&2
	exit 1
fi
`
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))
	return bin, dir
}

func TestValidate(t *testing.T) {
	bin, dir := fakeCaddy(t)
	c := &Exec{Bin: bin}

	require.NoError(t, c.Validate(context.Background(), []byte("a {\n\trespond ok\n}\n")))
	config, err := os.ReadFile(filepath.Join(dir, "config.txt"))
	require.NoError(t, err)
	require.Equal(t, "a {\n\trespond ok\n}\n", string(config))

	args, err := os.ReadFile(filepath.Join(dir, "args.txt"))
	require.NoError(t, err)
	require.Regexp(t, `^validate --config \S+/Caddyfile --adapter caddyfile\n$`, string(args))
}

func TestValidate_Failure(t *testing.T) {
	bin, _ := fakeCaddy(t)
	err := (&Exec{Bin: bin}).Validate(context.Background(), []byte("a {\n\tbad\n}\n"))
	var ce *Error
	require.ErrorAs(t, err, &ce)
	require.Equal(t, "validate", ce.Op)
	require.Equal(t, "Error: adapting config using caddyfile: unrecognized directive: bad", err.Error())
}

func TestReload(t *testing.T) {
	bin, dir := fakeCaddy(t)
	path := filepath.Join(t.TempDir(), "Caddyfile")
	require.NoError(t, os.WriteFile(path, []byte("a {\n}\n"), 0o644))

	require.NoError(t, (&Exec{Bin: bin}).Reload(context.Background(), path))
	args, err := os.ReadFile(filepath.Join(dir, "args.txt"))
	require.NoError(t, err)
	require.Equal(t, "reload --config "+path+" --adapter caddyfile\n", string(args))
}

func TestError_NoStderr(t *testing.T) {
	require.Equal(t, "caddy validate failed", (&Error{Op: "validate"}).Error())
}

func TestLookup(t *testing.T) {
	bin, _ := fakeCaddy(t)
	c, err := Lookup(bin)
	require.NoError(t, err)
	require.Equal(t, bin, c.Bin)

	_, err = Lookup(filepath.Join(t.TempDir(), "no-caddy"))
	require.ErrorIs(t, err, ErrNotFound)
}
