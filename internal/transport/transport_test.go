package transport_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/telemetry-agent/internal/transport"
)

// echoServer 记录收到的文本帧，closeAfter > 0 时收到指定条数后主动断开
func echoServer(t *testing.T, closeAfter int) (*httptest.Server, <-chan string) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	frames := make(chan string, 64)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		n := 0
		for {
			_, data, err := c.ReadMessage()
			if err != nil {
				return
			}
			frames <- string(data)
			n++
			if closeAfter > 0 && n >= closeAfter {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return srv, frames
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestDialWriteClose(t *testing.T) {
	srv, frames := echoServer(t, 0)
	d := transport.NewWSDialer(time.Second, time.Second)

	conn, err := d.Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, conn.WriteJSON(map[string]string{"type": "HEARTBEAT", "pcId": "p"}))
		}()
	}
	wg.Wait()

	for i := 0; i < 8; i++ {
		select {
		case f := <-frames:
			assert.JSONEq(t, `{"type":"HEARTBEAT","pcId":"p"}`, f)
		case <-time.After(2 * time.Second):
			t.Fatal("frame not received")
		}
	}

	require.NoError(t, conn.Close())
	assert.NoError(t, conn.Close(), "close is idempotent")
}

func TestReadMessageReturnsOnServerClose(t *testing.T) {
	srv, _ := echoServer(t, 1)
	conn, err := transport.NewWSDialer(time.Second, time.Second).Dial(context.Background(), wsURL(srv))
	require.NoError(t, err)
	defer conn.Close()

	done := make(chan error, 1)
	go func() { done <- conn.ReadMessage() }()
	require.NoError(t, conn.WriteJSON(map[string]string{"type": "REGISTER"}))

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("read loop did not observe close")
	}
}

func TestDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	_, err := transport.NewWSDialer(time.Second, time.Second).Dial(context.Background(), wsURL(srv))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}
