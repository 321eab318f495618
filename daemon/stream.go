package daemon

import (
	"fmt"
	"io"
	"sync"

	"github.com/moby/moby/api/pkg/stdcopy"
)

const chunkSize = 32 << 10

// Stream is a lazily consumed response body. Nothing is read until the caller pulls,
// and Close releases the connection no matter how much was consumed.
type Stream struct {
	body io.ReadCloser
	buf  []byte

	once     sync.Once
	closeErr error
}

// NewStream wraps rc.
func NewStream(rc io.ReadCloser) *Stream {
	return &Stream{body: rc}
}

// Next returns the next chunk of the stream, or io.EOF once it is exhausted. The
// returned slice is only valid until the following call.
func (s *Stream) Next() ([]byte, error) {
	if s.buf == nil {
		s.buf = make([]byte, chunkSize)
	}
	for {
		n, err := s.body.Read(s.buf)
		if n > 0 {
			return s.buf[:n], nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (s *Stream) Read(p []byte) (int, error) {
	return s.body.Read(p)
}

// Close is idempotent.
func (s *Stream) Close() error {
	s.once.Do(func() {
		s.closeErr = s.body.Close()
	})
	return s.closeErr
}

// Demux splits the daemon's multiplexed stdout/stderr framing into two writers until
// the stream ends.
func (s *Stream) Demux(stdout, stderr io.Writer) (int64, error) {
	return stdcopy.StdCopy(stdout, stderr, s)
}

// ReadAll reads the rest of the stream and closes it. It fails with ErrBodyTooLarge
// rather than buffer more than max bytes.
func (s *Stream) ReadAll(max int64) ([]byte, error) {
	defer s.Close()

	data, err := io.ReadAll(io.LimitReader(s, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > max {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, max)
	}
	return data, nil
}
