package transport

import (
	"fmt"
	"sync"
	"time"

	socket "github.com/zishang520/socket.io/clients/socket/v3"
	siotypes "github.com/zishang520/socket.io/v3/pkg/types"

	"github.com/vule/chatsync/internal/wire"
	"github.com/vule/chatsync/pkg/logger"
)

// handshakeTimeout bounds how long a dial waits for the server to accept or
// reject the connection.
const handshakeTimeout = 10 * time.Second

// socketConn wraps one Socket.IO socket as a Conn.
type socketConn struct {
	sock      *socket.Socket
	closeOnce sync.Once
}

func (c *socketConn) Emit(destination string, payload any) error {
	if c.sock == nil {
		return ErrNotConnected
	}
	c.sock.Emit(destination, payload)
	return nil
}

func (c *socketConn) Close() {
	c.closeOnce.Do(func() {
		if c.sock != nil {
			c.sock.Disconnect()
		}
	})
}

// dialSocketIO establishes one Socket.IO connection and blocks until the
// handshake settles. The library's own reconnection is disabled; the Manager
// state machine owns retries so each attempt gets a fresh handle and a fresh
// credential.
func dialSocketIO(opts DialOptions) (Conn, error) {
	sioOpts := socket.DefaultOptions()
	sioOpts.SetPath(opts.Path)
	sioOpts.SetTransports(siotypes.NewSet(socket.Polling, socket.WebSocket))
	sioOpts.SetReconnection(false)
	sioOpts.SetAuth(opts.Auth)

	sock, err := socket.Connect(opts.ServerURL, sioOpts)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	connectCh := make(chan struct{}, 1)
	errCh := make(chan error, 1)
	var established bool
	var mu sync.Mutex

	sock.On(siotypes.EventName("connect"), func(args ...any) {
		mu.Lock()
		established = true
		mu.Unlock()
		select {
		case connectCh <- struct{}{}:
		default:
		}
	})

	sock.On(siotypes.EventName("connect_error"), func(args ...any) {
		detail := "connect_error"
		if len(args) > 0 {
			detail = fmt.Sprintf("%v", args[0])
		}
		select {
		case errCh <- fmt.Errorf("%s", detail):
		default:
		}
	})

	sock.On(siotypes.EventName("disconnect"), func(args ...any) {
		reason := ""
		if len(args) > 0 {
			if r, ok := args[0].(string); ok {
				reason = r
			}
		}
		mu.Lock()
		wasEstablished := established
		established = false
		mu.Unlock()
		if wasEstablished && opts.OnDrop != nil {
			opts.OnDrop(reason)
		}
	})

	sock.On(siotypes.EventName(wire.EventPublish), func(args ...any) {
		if len(args) == 0 {
			logger.Debugf("transport: publish event with no payload")
			return
		}
		if opts.OnFrame != nil {
			opts.OnFrame(args[0])
		}
	})

	select {
	case <-connectCh:
		return &socketConn{sock: sock}, nil
	case err := <-errCh:
		sock.Disconnect()
		return nil, err
	case <-time.After(handshakeTimeout):
		sock.Disconnect()
		return nil, fmt.Errorf("handshake timeout")
	}
}
