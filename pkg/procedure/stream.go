package procedure

import (
	"context"
	"io"
	"sync"
)

// Stream yields ordered frames from a subscription procedure. Next returns
// io.EOF once the stream is exhausted. Close releases the producer and must
// tolerate being called more than once.
type Stream interface {
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// SliceStream replays a fixed set of frames in order.
type SliceStream struct {
	mu    sync.Mutex
	items [][]byte
	pos   int
}

// NewSliceStream creates a stream over a fixed set of frames.
func NewSliceStream(items ...[]byte) *SliceStream {
	return &SliceStream{items: items}
}

// Next returns the next frame, or io.EOF when all frames were consumed.
func (s *SliceStream) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pos >= len(s.items) {
		return nil, io.EOF
	}
	item := s.items[s.pos]
	s.pos++
	return item, nil
}

// Close is a no-op; SliceStream holds no resources.
func (s *SliceStream) Close() error {
	return nil
}

// ChannelStream adapts a channel of frames into a Stream. A closed channel
// ends the stream. The cancel function runs once on Close so the producer
// stops writing.
type ChannelStream struct {
	frames <-chan []byte
	cancel func()
	once   sync.Once
}

// NewChannelStream wraps a frame channel. cancel may be nil.
func NewChannelStream(frames <-chan []byte, cancel func()) *ChannelStream {
	return &ChannelStream{frames: frames, cancel: cancel}
}

// Next blocks for the next frame, the end of the channel, or ctx expiry.
func (s *ChannelStream) Next(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-s.frames:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close signals the producer to stop. Safe to call multiple times.
func (s *ChannelStream) Close() error {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
	return nil
}
