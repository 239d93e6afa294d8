package remote

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"daycal/internal/claimstore"
	appLog "daycal/internal/log"
	"daycal/internal/model"
)

const writeWait = 10 * time.Second

// Subscribe dials the live feed. The first dial is synchronous so an
// unreachable server or a rejected token fails here; after that, dropped
// connections are reported on Errors and redialled with exponential
// backoff until ctx is done or Close is called.
func (c *Client) Subscribe(ctx context.Context) (claimstore.Subscription, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		client: c,
		ctx:    subCtx,
		cancel: cancel,
		snaps:  make(chan model.Snapshot, 1),
		errs:   make(chan error, 8),
		done:   make(chan struct{}),
	}
	sub.setConn(conn)
	stop := context.AfterFunc(subCtx, sub.closeConn)

	go func() {
		defer stop()
		sub.run(conn)
	}()
	return sub, nil
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.wsURL(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("remote: subscribe: %w", &StatusError{Code: resp.StatusCode})
		}
		return nil, fmt.Errorf("remote: subscribe: %w", err)
	}
	return conn, nil
}

// Subscription is a reconnecting websocket feed of snapshots.
type Subscription struct {
	client *Client
	ctx    context.Context
	cancel context.CancelFunc

	snaps chan model.Snapshot
	errs  chan error
	done  chan struct{}

	mu   sync.Mutex
	conn *websocket.Conn
}

// Snapshots is closed once the subscription has stopped for good.
func (s *Subscription) Snapshots() <-chan model.Snapshot { return s.snaps }

// Errors reports dropped connections and failed redials.
func (s *Subscription) Errors() <-chan error { return s.errs }

// Close stops the feed and waits for the reader to exit.
func (s *Subscription) Close() error {
	s.cancel()
	<-s.done
	return nil
}

func (s *Subscription) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
	if s.ctx.Err() != nil {
		conn.Close()
	}
}

func (s *Subscription) closeConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		s.conn.Close()
	}
}

func (s *Subscription) run(conn *websocket.Conn) {
	defer close(s.done)
	defer close(s.errs)
	defer close(s.snaps)

	backoff := s.client.minBackoff
	for {
		err := s.read(conn)
		conn.Close()
		if s.ctx.Err() != nil {
			return
		}
		s.report(err)

		for {
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}

			next, derr := s.client.dial(s.ctx)
			if derr == nil {
				appLog.Info("live feed reconnected")
				backoff = s.client.minBackoff
				conn = next
				s.setConn(conn)
				break
			}
			if s.ctx.Err() != nil {
				return
			}
			s.report(derr)
			backoff = min(backoff*2, s.client.maxBackoff)
		}
	}
}

// read consumes frames until the connection fails.
func (s *Subscription) read(conn *websocket.Conn) error {
	wait := s.client.readWait
	_ = conn.SetReadDeadline(time.Now().Add(wait))
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		var f model.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return fmt.Errorf("remote: live feed: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(wait))
		if f.Type != model.FrameSnapshot {
			appLog.Debug("ignoring live feed frame", "type", f.Type)
			continue
		}
		s.offer(f.Snapshot)
	}
}

// offer keeps only the newest snapshot when the consumer lags. Only run
// sends on snaps, so drain-then-send cannot block.
func (s *Subscription) offer(snap model.Snapshot) {
	select {
	case <-s.snaps:
	default:
	}
	s.snaps <- snap.Clone()
}

func (s *Subscription) report(err error) {
	appLog.Warn("live feed interrupted", "error", err.Error())
	select {
	case s.errs <- err:
	default:
	}
}
