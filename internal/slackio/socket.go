package slackio

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"go.uber.org/zap"
)

const (
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
)

// MessageHandler receives message events from either inbound transport.
// It must not block for long: it runs on the event pump.
type MessageHandler func(ev *slackevents.MessageEvent)

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	RunContext(ctx context.Context) error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) RunContext(ctx context.Context) error { return r.client.RunContext(ctx) }
func (r *realSocketClient) EventsChan() chan socketmode.Event   { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Listener receives Events API callbacks over a Socket Mode WebSocket.
type Listener struct {
	socket       socketClient
	handler      MessageHandler
	logger       *zap.Logger
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int
}

// ListenerOpts holds parameters for creating a Listener.
type ListenerOpts struct {
	// API is the Web API client built with the app-level token.
	API     *slackapi.Client
	Handler MessageHandler
	Logger  *zap.Logger
	// For testing: inject a mock socket instead of a real connection.
	Socket socketClient
}

// NewListener creates a Socket Mode Listener.
func NewListener(opts ListenerOpts) (*Listener, error) {
	if opts.Handler == nil {
		return nil, fmt.Errorf("slackio: handler is required")
	}
	if opts.Socket == nil && opts.API == nil {
		return nil, fmt.Errorf("slackio: app-level client is required for socket mode")
	}
	l := &Listener{
		socket:       opts.Socket,
		handler:      opts.Handler,
		logger:       opts.Logger,
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}
	if l.socket == nil {
		l.socket = &realSocketClient{client: socketmode.New(opts.API)}
	}
	if l.logger == nil {
		l.logger = zap.NewNop()
	}
	l.logger = l.logger.Named("socketmode")
	return l, nil
}

// Run connects and dispatches events until ctx is cancelled or reconnection
// attempts are exhausted.
func (l *Listener) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- l.runWithReconnect(ctx) }()

	events := l.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-done:
			return err
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			l.handleSocketEvent(evt)
		}
	}
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when it returns an error.
func (l *Listener) runWithReconnect(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.baseBackoff
	b.MaxInterval = l.maxBackoff
	b.MaxElapsedTime = 0
	b.RandomizationFactor = 0
	b.Reset()

	for attempt := 1; attempt <= l.maxReconnect; attempt++ {
		err := l.socket.RunContext(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		wait := b.NextBackOff()
		l.logger.Warn("socket mode disconnected; reconnecting",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", l.maxReconnect),
			zap.Duration("wait", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
	return fmt.Errorf("slackio: socket mode exhausted %d reconnection attempts", l.maxReconnect)
}

// handleSocketEvent processes a single Socket Mode event.
func (l *Listener) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		apiEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		// Acknowledge before dispatch so Slack does not redeliver.
		if evt.Request != nil {
			l.socket.Ack(*evt.Request)
		}
		DispatchEvent(apiEvent, l.handler)

	case socketmode.EventTypeConnecting:
		l.logger.Info("connecting")
	case socketmode.EventTypeConnected:
		l.logger.Info("connected")
	case socketmode.EventTypeConnectionError:
		l.logger.Warn("connection error", zap.Any("data", evt.Data))
	case socketmode.EventTypeDisconnect:
		l.logger.Info("server requested disconnect")
	}
}

// DispatchEvent hands message callbacks to handler. Other event types are
// ignored.
func DispatchEvent(event slackevents.EventsAPIEvent, handler MessageHandler) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	if ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok {
		handler(ev)
	}
}
