// ABOUTME: In-memory Socket used by transport unit tests.
// ABOUTME: Records writes, pings and closes, and can be told to fail writes.

package transport

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBrokenPipe = errors.New("broken pipe")

type fakeSocket struct {
	mu         sync.Mutex
	writes     [][]byte
	pings      int
	closed     string
	terminated bool
	failWrites bool
	notify     chan struct{}
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{notify: make(chan struct{}, 64)}
}

func (s *fakeSocket) WriteMessage(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWrites {
		return errBrokenPipe
	}
	s.writes = append(s.writes, append([]byte(nil), data...))
	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

func (s *fakeSocket) Ping() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	return nil
}

func (s *fakeSocket) Close(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = reason
	return nil
}

func (s *fakeSocket) Terminate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.terminated = true
	return nil
}

func (s *fakeSocket) pingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

func (s *fakeSocket) wasTerminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminated
}

func (s *fakeSocket) frames(t *testing.T) []*Frame {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Frame, 0, len(s.writes))
	for _, w := range s.writes {
		var f Frame
		require.NoError(t, json.Unmarshal(w, &f))
		out = append(out, &f)
	}
	return out
}

// waitFrame waits until the socket holds n frames and returns the nth.
func (s *fakeSocket) waitFrame(t *testing.T, n int) *Frame {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if frames := s.frames(t); len(frames) >= n {
			return frames[n-1]
		}
		select {
		case <-s.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for frame %d", n)
		}
	}
}

func newTestConn(id string) (*Connection, *fakeSocket) {
	sock := newFakeSocket()
	return NewConnection(id, sock, ClientInfo{RemoteAddr: "test"}, nil), sock
}
