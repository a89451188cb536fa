package client

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chat-node/internal/models"
)

// Listener holds the client's push subscription to its node and feeds
// every server frame into the store. The link is redialed with
// exponential backoff for as long as the context lives.
type Listener struct {
	url   string
	store *Store
	dial  func(ctx context.Context, url string) (*websocket.Conn, error)
	log   zerolog.Logger
}

// NewListener builds a Listener against a node base URL.
func NewListener(nodeURL string, store *Store, log zerolog.Logger) *Listener {
	return &Listener{
		url:   wsURL(nodeURL),
		store: store,
		dial:  dialWS,
		log:   log,
	}
}

func dialWS(ctx context.Context, url string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	return conn, err
}

// Run dials the node, reads until the link drops, and redials until the
// context ends.
func (l *Listener) Run(ctx context.Context) {
	policy := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(500*time.Millisecond),
		backoff.WithMaxInterval(30*time.Second),
		backoff.WithMaxElapsedTime(0),
	), ctx)

	for ctx.Err() == nil {
		var conn *websocket.Conn
		err := backoff.Retry(func() error {
			c, err := l.dial(ctx, l.url)
			if err != nil {
				l.log.Debug().Err(err).Str("url", l.url).Msg("node dial failed")
				return err
			}
			conn = c
			return nil
		}, policy)
		if err != nil {
			return
		}

		policy.Reset()
		l.log.Info().Str("url", l.url).Msg("node link established")
		l.readLoop(conn)
	}
}

func (l *Listener) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				l.log.Debug().Err(err).Msg("node link closed")
			}
			return
		}

		var frame models.ServerFrame
		if err := json.Unmarshal(payload, &frame); err != nil {
			l.log.Warn().Err(err).Msg("malformed server frame")
			continue
		}
		l.store.Apply(frame)
	}
}

func wsURL(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://") + "/ws"
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://") + "/ws"
	}
	return base + "/ws"
}
