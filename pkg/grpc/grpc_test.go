package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Adithya-Monish-Kumar-K/poem-search/pkg/errors"
)

type echo struct {
	Text string `json:"text"`
}

func startServer(t *testing.T, s *Server) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.ServeListener(ln)
	t.Cleanup(s.Stop)
	return ln.Addr().String()
}

func newTestServer(timeout time.Duration) *Server {
	s := NewServer(timeout)
	s.Register("Test.Echo", func(_ context.Context, req json.RawMessage) (any, error) {
		var in echo
		if err := json.Unmarshal(req, &in); err != nil {
			return nil, err
		}
		return echo{Text: "echo: " + in.Text}, nil
	})
	s.Register("Test.Missing", func(context.Context, json.RawMessage) (any, error) {
		return nil, fmt.Errorf("%w: poem 7", apperrors.ErrDocumentNotFound)
	})
	s.Register("Test.Slow", func(ctx context.Context, _ json.RawMessage) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	return s
}

func TestCallRoundTrip(t *testing.T) {
	s := newTestServer(0)
	addr := startServer(t, s)
	assert.Equal(t, 3, s.MethodCount())

	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	var out echo
	require.NoError(t, c.Call(context.Background(), "Test.Echo", echo{Text: "hi"}, &out))
	assert.Equal(t, "echo: hi", out.Text)
}

func TestCallErrorsCarryStatus(t *testing.T) {
	addr := startServer(t, newTestServer(20*time.Millisecond))
	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	var remote *RemoteError
	err = c.Call(ctx, "Test.Missing", nil, nil)
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, 404, remote.Code)
	assert.Contains(t, remote.Message, "poem 7")

	err = c.Call(ctx, "Test.Nope", nil, nil)
	require.True(t, errors.As(err, &remote))
	assert.Contains(t, remote.Message, "unknown method")

	err = c.Call(ctx, "Test.Slow", nil, nil)
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, 504, remote.Code)

	// the connection survives remote errors
	var out echo
	require.NoError(t, c.Call(ctx, "Test.Echo", echo{Text: "still here"}, &out))
	assert.Equal(t, "echo: still here", out.Text)
}

func TestConcurrentCalls(t *testing.T) {
	addr := startServer(t, newTestServer(0))
	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Go(func() {
			var out echo
			text := fmt.Sprintf("msg-%d", i)
			if assert.NoError(t, c.Call(context.Background(), "Test.Echo", echo{Text: text}, &out)) {
				assert.Equal(t, "echo: "+text, out.Text)
			}
		})
	}
	wg.Wait()
}

func TestClientDeadline(t *testing.T) {
	addr := startServer(t, newTestServer(200*time.Millisecond))
	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err = c.Call(ctx, "Test.Slow", nil, nil)
	require.Error(t, err)

	err = c.Call(context.Background(), "Test.Echo", echo{}, nil)
	assert.ErrorContains(t, err, "connection is closed")
}

func TestStopClosesConnections(t *testing.T) {
	s := newTestServer(0)
	addr := startServer(t, s)
	c, err := Dial(addr)
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Call(context.Background(), "Test.Echo", echo{}, nil))

	s.Stop()
	s.Stop()
	assert.Error(t, c.Call(context.Background(), "Test.Echo", echo{}, nil))
}
