package goindi

import (
	"context"
	"io"

	"github.com/rickbassham/logging"
)

// pipeStream adapts a separate reader and writer into one
// io.ReadWriteCloser, closing whichever of the two also implement io.Closer.
type pipeStream struct {
	r io.Reader
	w io.Writer
}

func (s *pipeStream) Read(p []byte) (int, error)  { return s.r.Read(p) }
func (s *pipeStream) Write(p []byte) (int, error) { return s.w.Write(p) }

func (s *pipeStream) Close() error {
	var err error
	if c, ok := s.r.(io.Closer); ok {
		if e := c.Close(); e != nil {
			err = e
		}
	}
	if c, ok := s.w.(io.Closer); ok {
		if e := c.Close(); e != nil && err == nil {
			err = e
		}
	}
	return err
}

// PipeConnection is a Connection over a caller-supplied reader/writer pair,
// the Go analogue of the source runtime's stdin/stdout IndiPipeConnection
// used when a device driver is spawned as a subprocess by indiserver
// itself rather than dialing in over TCP or a FIFO.
type PipeConnection struct {
	*streamConnection
}

// NewPipeConnection builds a Connection that reads from r and writes to w.
// Pass os.Stdin and os.Stdout to behave like an indiserver-spawned driver.
func NewPipeConnection(log logging.Logger, r io.Reader, w io.Writer) *PipeConnection {
	pc := &PipeConnection{}
	stream := &pipeStream{r: r, w: w}
	pc.streamConnection = newStreamConnection(log, DialerFunc(func(context.Context) (io.ReadWriteCloser, error) {
		return stream, nil
	}))
	return pc
}
