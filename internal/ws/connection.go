package ws

import (
	"context"
	"errors"
	"sync"

	"coursechat/internal/models"
)

type wsConnection interface {
	Close() error
	ReadJSON(v interface{}) error
}

// Handler receives server frames in arrival order.
type Handler interface {
	Handle(event models.SocketEvent)
}

type HandlerFunc func(event models.SocketEvent)

func (f HandlerFunc) Handle(event models.SocketEvent) { f(event) }

// Connection drives one established socket until it fails or ctx is done.
type Connection struct {
	ws         wsConnection
	handler    Handler
	fromServer chan models.SocketEvent
	errorCh    chan error
}

func NewConnection(ws wsConnection, handler Handler) *Connection {
	return &Connection{
		ws:         ws,
		handler:    handler,
		fromServer: make(chan models.SocketEvent),
		errorCh:    make(chan error, 2),
	}
}

func (c *Connection) Handle(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer func() {
		close(c.fromServer)
		close(c.errorCh)
	}()

	var wg sync.WaitGroup
	wg.Go(func() {
		c.errorCh <- c.pumpMessages(ctx)
		cancel()
	})

	wg.Go(func() {
		c.errorCh <- c.mainLoop(ctx)
		cancel()
	})

	var err error
	select {
	case err = <-c.errorCh:
	case <-ctx.Done():
	}
	c.ws.Close()
	wg.Wait()

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	return nil
}

func (c *Connection) pumpMessages(ctx context.Context) error {
	for {
		var event models.SocketEvent
		if err := c.ws.ReadJSON(&event); err != nil {
			return err
		}
		select {
		case c.fromServer <- event:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Connection) mainLoop(ctx context.Context) error {
	for {
		select {
		case event := <-c.fromServer:
			c.handler.Handle(event)
		case <-ctx.Done():
			return nil
		}
	}
}
