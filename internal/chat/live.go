package chat

import (
	"chatgogo/messenger/internal/models"
	"chatgogo/messenger/internal/store"
	"chatgogo/messenger/internal/transport"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	maxMessageSize = 64 << 10
)

// LiveChannel is one push subscription for an open conversation. Every
// inbound frame is a fully formed Message which is merged into the store
// with InsertIfAbsent, so echoes of our own sends and messages already
// loaded by history are dropped by id.
type LiveChannel struct {
	URL   string
	Token string
	Ref   transport.ConversationRef
	Store *store.MessageStore

	// OnMessage is called after an event changed the store.
	OnMessage func(models.Message)
	// OnDegraded is called once if the connection is lost while subscribed.
	OnDegraded func(error)

	Dialer *websocket.Dialer

	mu        sync.Mutex
	conn      *websocket.Conn
	closed    bool
	degraded  bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewLiveChannel returns an unsubscribed channel for ref.
func NewLiveChannel(wsURL, token string, ref transport.ConversationRef, st *store.MessageStore) *LiveChannel {
	return &LiveChannel{
		URL:   wsURL,
		Token: token,
		Ref:   ref,
		Store: st,
		done:  make(chan struct{}),
	}
}

// Subscribe dials the push endpoint and starts the read pump. A 401
// handshake yields ErrUnauthorized.
func (l *LiveChannel) Subscribe(ctx context.Context) error {
	u, err := url.Parse(l.URL)
	if err != nil {
		return fmt.Errorf("chat: live url %q: %w", l.URL, err)
	}
	q := u.Query()
	q.Set("topic", l.Ref.Topic())
	u.RawQuery = q.Encode()

	header := http.Header{}
	if l.Token != "" {
		header.Set("Authorization", "Bearer "+l.Token)
	}

	dialer := l.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, u.String(), header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return fmt.Errorf("chat: subscribe %s: %w", l.Ref.Topic(), transport.ErrUnauthorized)
		}
		return fmt.Errorf("chat: subscribe %s: %w", l.Ref.Topic(), err)
	}

	l.mu.Lock()
	if l.closed || l.conn != nil {
		l.mu.Unlock()
		conn.Close()
		if l.closed {
			return ErrClosed
		}
		return fmt.Errorf("chat: %s already subscribed", l.Ref.Topic())
	}
	if l.done == nil {
		l.done = make(chan struct{})
	}
	l.conn = conn
	l.mu.Unlock()

	go l.readPump(conn)
	return nil
}

// Close unsubscribes. It is idempotent and never fails, even if the
// connection is already gone.
func (l *LiveChannel) Close() {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		conn := l.conn
		l.mu.Unlock()

		if conn == nil {
			return
		}
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = conn.Close()
	})
}

// Degraded reports whether the subscription was lost unexpectedly.
func (l *LiveChannel) Degraded() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.degraded
}

// Done is closed when the read pump exits.
func (l *LiveChannel) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done == nil {
		l.done = make(chan struct{})
	}
	return l.done
}

func (l *LiveChannel) readPump(conn *websocket.Conn) {
	defer func() {
		conn.Close()
		close(l.done)
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		var ne net.Error
		if errors.Is(err, websocket.ErrCloseSent) || (errors.As(err, &ne) && ne.Timeout()) {
			return nil
		}
		return err
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			l.degrade(err)
			return
		}

		var msg models.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("WARNING: dropping undecodable event on %s: %v", l.Ref.Topic(), err)
			continue
		}
		if !msg.Confirmed() {
			continue
		}
		if msg.Status == "" {
			msg.Status = models.StatusSent
		}
		if l.Store.InsertIfAbsent(msg) && l.OnMessage != nil {
			l.OnMessage(msg)
		}
	}
}

func (l *LiveChannel) degrade(cause error) {
	l.mu.Lock()
	if l.closed || l.degraded {
		l.mu.Unlock()
		return
	}
	l.degraded = true
	l.mu.Unlock()

	if websocket.IsUnexpectedCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Printf("WARNING: live channel %s lost: %v", l.Ref.Topic(), cause)
	}
	if l.OnDegraded != nil {
		l.OnDegraded(fmt.Errorf("%w: %s: %v", ErrLiveChannelDegraded, l.Ref.Topic(), cause))
	}
}
