package goindi

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

func TestFIFOConnectionDialCreatesTripleAndWritesOut(t *testing.T) {
	fs := afero.NewMemMapFs()
	paths := FIFOPathsFor("/tmp/dev/focuser")

	log := testLogger()
	fc := NewFIFOConnection(log, fs, paths)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	// Exercise dial directly rather than the full streamConnection
	// lifecycle: MemMapFs has no blocking-pipe semantics, so a real named
	// pipe's "read blocks until a writer shows up" behavior can't be
	// exercised against it, only the file-creation and read/write shape.
	stream, err := fc.dial(ctx)
	require.NoError(t, err)
	defer stream.Close()

	for _, p := range []string{paths.In, paths.Out, paths.Ctrl} {
		exists, err := afero.Exists(fs, p)
		require.NoError(t, err)
		require.True(t, exists, "expected %s to be created", p)
	}

	b, err := Serialize(GetProperties{Version: ProtocolVersion})
	require.NoError(t, err)
	_, err = stream.Write(append(b, '\n'))
	require.NoError(t, err)

	out, err := fs.Open(paths.Out)
	require.NoError(t, err)
	defer out.Close()
	line, err := bufio.NewReader(out).ReadString('\n')
	require.NoError(t, err)
	require.Contains(t, line, "getProperties")
}

func TestEnsureFIFOOnRealFilesystemCreatesNamedPipeNotWorldReadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "focuser.in")
	require.NoError(t, ensureFIFO(afero.NewOsFs(), path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.NotZero(t, info.Mode()&os.ModeNamedPipe, "expected a real named pipe")
	// Mkfifo is requested with 0660, not the world-readable 0644 it used to
	// be; the process umask may strip bits further but can only narrow
	// permissions, never grant the world-read bit back.
	require.Zero(t, info.Mode().Perm()&0004, "fifo must not be world-readable")
}

func TestEnsureFIFOAcceptsPlainFileOnMemMapFs(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/tmp/not-a-fifo", []byte("data"), 0644))

	// A plain file on an in-memory filesystem stands in for a named pipe
	// (afero has no named-pipe concept), so ensureFIFO accepts it here; the
	// rejection path only fires against a real os filesystem.
	require.NoError(t, ensureFIFO(fs, "/tmp/not-a-fifo"))
}
