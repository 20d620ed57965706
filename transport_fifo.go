package goindi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/rickbassham/logging"
	"github.com/spf13/afero"
)

// FIFOPaths is the .in/.out/.ctrl triple a FIFOConnection opens, the Go
// equivalent of the source runtime's MagAO-X FIFO device convention: the
// device reads client requests from In and writes its own def/set
// broadcasts to Out. Ctrl exists only so Start can nudge a reader blocked
// on an empty pipe; goindi does not require callers to write to it.
type FIFOPaths struct {
	In   string
	Out  string
	Ctrl string
}

// FIFOPathsFor derives the standard triple from a base path, e.g. base
// "/path/to/dev" yields "/path/to/dev.in", "/path/to/dev.out", and
// "/path/to/dev.ctrl".
func FIFOPathsFor(base string) FIFOPaths {
	return FIFOPaths{In: base + ".in", Out: base + ".out", Ctrl: base + ".ctrl"}
}

// FIFOConnection is a Connection whose byte stream is backed by a pair of
// named pipes instead of a socket, for devices launched the way MagAO-X
// launches its local instrument drivers.
type FIFOConnection struct {
	*streamConnection
	fs    afero.Fs
	paths FIFOPaths
}

// NewFIFOConnection builds a FIFO-backed Connection. fs is the filesystem
// the FIFOs are created and opened on; pass afero.NewOsFs() in production
// and an afero.NewMemMapFs() in tests, mirroring the teacher's afero.Fs
// plumbing.
func NewFIFOConnection(log logging.Logger, fs afero.Fs, paths FIFOPaths) *FIFOConnection {
	fc := &FIFOConnection{fs: fs, paths: paths}
	fc.streamConnection = newStreamConnection(log, DialerFunc(fc.dial))
	return fc
}

func (fc *FIFOConnection) dial(ctx context.Context) (io.ReadWriteCloser, error) {
	for _, p := range []string{fc.paths.In, fc.paths.Out, fc.paths.Ctrl} {
		if err := ensureFIFO(fc.fs, p); err != nil {
			return nil, fmt.Errorf("preparing fifo %s: %w", p, err)
		}
	}

	in, err := fc.fs.OpenFile(fc.paths.In, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s for reading: %w", fc.paths.In, err)
	}
	out, err := fc.fs.OpenFile(fc.paths.Out, os.O_WRONLY, 0)
	if err != nil {
		in.Close()
		return nil, fmt.Errorf("opening %s for writing: %w", fc.paths.Out, err)
	}
	if ctrl, err := fc.fs.OpenFile(fc.paths.Ctrl, os.O_WRONLY, 0); err == nil {
		_, _ = ctrl.Write([]byte("1"))
		ctrl.Close()
	}
	return &fifoStream{r: in, w: out}, nil
}

// ensureFIFO makes sure path exists as a named pipe, creating it if it's
// missing. On a real OS filesystem this calls syscall.Mkfifo, the one
// operation afero has no portable equivalent for; on any other afero.Fs
// (notably afero.NewMemMapFs in tests) a plain file stands in for the pipe,
// since the in-memory filesystem has no named-pipe concept to exercise.
func ensureFIFO(fs afero.Fs, path string) error {
	info, err := fs.Stat(path)
	if err == nil {
		if info.Mode()&os.ModeNamedPipe == 0 {
			if _, ok := fs.(*afero.MemMapFs); !ok {
				return fmt.Errorf("%w: %s", ErrNotFIFO, path)
			}
		}
		return nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if _, ok := fs.(*afero.OsFs); ok {
		return syscall.Mkfifo(path, 0660)
	}
	f, err := fs.Create(path)
	if err != nil {
		return err
	}
	return f.Close()
}

// fifoStream pairs the read half and write half of a FIFO device pair into
// one io.ReadWriteCloser for streamConnection.
type fifoStream struct {
	r afero.File
	w afero.File
}

func (s *fifoStream) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *fifoStream) Write(p []byte) (int, error) { return s.w.Write(p) }

func (s *fifoStream) Close() error {
	rerr := s.r.Close()
	werr := s.w.Close()
	if rerr != nil {
		return rerr
	}
	return werr
}
