package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn 流式连接句柄，WriteJSON 可并发调用
type Conn interface {
	WriteJSON(v any) error
	// ReadMessage 阻塞读取并丢弃服务端帧，连接关闭或出错时返回
	ReadMessage() error
	Close() error
}

// Dialer 建立流式连接
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WSDialer gorilla/websocket 实现
type WSDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

var _ Dialer = (*WSDialer)(nil)

func NewWSDialer(handshakeTimeout, writeTimeout time.Duration) *WSDialer {
	return &WSDialer{HandshakeTimeout: handshakeTimeout, WriteTimeout: writeTimeout}
}

func (d *WSDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            websocket.DefaultDialer.Proxy,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	c, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &wsConn{conn: c, writeTimeout: d.WriteTimeout}, nil
}

// wsConn gorilla 只允许一个并发写者，写操作用 mu 串行化
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration

	mu        sync.Mutex
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return fmt.Errorf("set write deadline: %w", err)
		}
	}
	if err := c.conn.WriteJSON(v); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (c *wsConn) ReadMessage() error {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return err
		}
	}
}

// Close 先尽力发送 close 帧再关闭底层连接，可重复调用
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.mu.Unlock()
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
