package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const DefaultReconnectDelay = 2 * time.Second

type Config struct {
	// URL is the socket endpoint, e.g. ws://localhost:4000/socket.
	URL            string
	Handler        Handler
	ReconnectDelay time.Duration
	// StateCallback is told whenever a connection is established or lost.
	StateCallback func(connected bool)
	Dialer        *websocket.Dialer
}

// Subscriber keeps one live socket per auth token. Without a token there is
// no connection; a token change tears the old connection down before a new
// one is dialed with the new credentials.
type Subscriber struct {
	ctx           context.Context
	url           string
	handler       Handler
	dialer        *websocket.Dialer
	limiter       *rate.Limiter
	stateCallback func(connected bool)

	mu     sync.Mutex
	token  string
	cancel context.CancelFunc
	done   chan struct{}
}

func NewSubscriber(ctx context.Context, config Config) *Subscriber {
	if config.ReconnectDelay <= 0 {
		config.ReconnectDelay = DefaultReconnectDelay
	}
	if config.Dialer == nil {
		config.Dialer = websocket.DefaultDialer
	}
	return &Subscriber{
		ctx:           ctx,
		url:           config.URL,
		handler:       config.Handler,
		dialer:        config.Dialer,
		limiter:       rate.NewLimiter(rate.Every(config.ReconnectDelay), 1),
		stateCallback: config.StateCallback,
	}
}

// SetToken switches the subscription to token. Setting the current token
// again is a no-op; an empty token disconnects.
func (s *Subscriber) SetToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token == s.token {
		return
	}
	s.stop()
	s.token = token
	if token == "" {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go func() {
		defer close(done)
		s.run(ctx, token)
	}()
}

// Close disconnects and waits for the connection goroutine to exit.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stop()
	s.token = ""
}

// stop must be called with mu held.
func (s *Subscriber) stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil
}

func (s *Subscriber) setState(connected bool) {
	if s.stateCallback != nil {
		s.stateCallback(connected)
	}
}

func (s *Subscriber) run(ctx context.Context, token string) {
	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}

		err := s.connect(ctx, token)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, errUnauthorized) {
			slog.Warn("socket rejected credentials, giving up until the token changes")
			return
		}
		slog.Warn("socket disconnected, reconnecting", "error", err)
	}
}

var errUnauthorized = errors.New("socket unauthorized")

func (s *Subscriber) connect(ctx context.Context, token string) error {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return errUnauthorized
		}
		return fmt.Errorf("dial %s: %w", s.url, err)
	}

	slog.Info("socket connected", "url", s.url)
	s.setState(true)
	defer s.setState(false)

	return NewConnection(conn, s.handler).Handle(ctx)
}
