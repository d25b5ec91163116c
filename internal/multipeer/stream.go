package multipeer

import (
	"context"
	"io"
)

// Stream is the linear {head, chunk_hdr, chunk_body, trailer}
// sequence a Fetch call produces. Call Next until it returns io.EOF.
type Stream struct {
	items chan Part
	err   error // valid once items is observed closed; set before close()
}

func newStream() *Stream {
	return &Stream{items: make(chan Part, 4)}
}

// Next returns the next part, or io.EOF once the stream completes
// successfully, or the error that aborted it.
func (s *Stream) Next() (Part, error) {
	p, ok := <-s.items
	if !ok {
		if s.err != nil {
			return Part{}, s.err
		}
		return Part{}, io.EOF
	}
	return p, nil
}

func (s *Stream) send(ctx context.Context, p Part) error {
	select {
	case s.items <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Stream) fail(err error) {
	s.err = err
	close(s.items)
}

func (s *Stream) finish() {
	close(s.items)
}
