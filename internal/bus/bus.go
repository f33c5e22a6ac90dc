// Package bus provides the in-process message bus used for orchestrator to
// agent and agent to agent calls.
//
// Delivery is at-least-once. The bus never de-duplicates REQUESTs; handlers
// receiving the same correlation id twice must treat the second one as a retry.
package bus

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/fentz26/conductor/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultMaxDepth bounds agent-to-agent call chains.
	DefaultMaxDepth = 5
	// DefaultTimeout applies to requests that do not carry their own.
	DefaultTimeout = 30 * time.Second

	inboxSize        = 256
	subscriptionSize = 64
)

// RequestHandler serves REQUEST messages for one endpoint and returns the
// REPLY payload.
type RequestHandler func(ctx context.Context, msg models.Message) map[string]any

// EventHandler receives EVENT messages for a subscription.
type EventHandler = func(ctx context.Context, msg models.Message)

// EventSink mirrors published events to an external system.
type EventSink interface {
	Mirror(ctx context.Context, msg models.Message) error
}

// Request describes an outgoing call.
type Request struct {
	From    string
	To      string
	Payload map[string]any
	// Timeout falls back to the bus default when zero.
	Timeout time.Duration
	// Depth is the number of agent hops that led to this request. The
	// orchestrator dispatches at depth 0.
	Depth int
	// CorrelationID is generated when empty.
	CorrelationID string
}

// Options configures a Bus.
type Options struct {
	MaxDepth       int
	DefaultTimeout time.Duration
	Logger         *zap.Logger
}

type endpoint struct {
	name    string
	handler RequestHandler
	inbox   chan models.Message
}

type subscription struct {
	id      string
	pattern string
	handler EventHandler
	ch      chan models.Message
	done    chan struct{}
}

// Bus routes requests, replies and events between named endpoints.
type Bus struct {
	maxDepth       int
	defaultTimeout time.Duration
	logger         *zap.Logger

	mu        sync.RWMutex
	endpoints map[string]*endpoint
	pending   map[string][]chan models.Message
	subs      map[string]*subscription
	sinks     []EventSink

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a bus.
func New(opts Options) *Bus {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = DefaultMaxDepth
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Bus{
		maxDepth:       opts.MaxDepth,
		defaultTimeout: opts.DefaultTimeout,
		logger:         opts.Logger,
		endpoints:      make(map[string]*endpoint),
		pending:        make(map[string][]chan models.Message),
		subs:           make(map[string]*subscription),
		ctx:            ctx,
		cancel:         cancel,
	}
}

// MaxDepth returns the configured invocation depth limit.
func (b *Bus) MaxDepth() int { return b.maxDepth }

// AddSink registers an event mirror. Sinks must be added before publishing starts.
func (b *Bus) AddSink(s EventSink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinks = append(b.sinks, s)
}

// Handle registers the handler serving REQUESTs addressed to name.
func (b *Bus) Handle(name string, h RequestHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.ctx.Err() != nil {
		return ErrClosed
	}
	if _, ok := b.endpoints[name]; ok {
		return fmt.Errorf("%w: %s", ErrEndpointExists, name)
	}

	ep := &endpoint{name: name, handler: h, inbox: make(chan models.Message, inboxSize)}
	b.endpoints[name] = ep

	b.wg.Add(1)
	go b.serve(ep)
	return nil
}

// serve drains an endpoint inbox. Each request is handled on its own
// goroutine so a slow handler does not block its siblings.
func (b *Bus) serve(ep *endpoint) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case msg := <-ep.inbox:
			b.wg.Add(1)
			go func(msg models.Message) {
				defer b.wg.Done()
				payload := ep.handler(b.ctx, msg)
				b.deliverReply(models.Message{
					ID:            uuid.New().String(),
					CorrelationID: msg.CorrelationID,
					From:          ep.name,
					To:            msg.From,
					Kind:          models.KindReply,
					Depth:         msg.Depth,
					Payload:       payload,
					CreatedAt:     time.Now().UTC(),
				})
			}(msg)
		}
	}
}

func (b *Bus) deliverReply(reply models.Message) {
	b.mu.Lock()
	waiters := b.pending[reply.CorrelationID]
	delete(b.pending, reply.CorrelationID)
	b.mu.Unlock()

	if len(waiters) == 0 {
		b.logger.Debug("dropping reply with no waiter",
			zap.String("correlation_id", reply.CorrelationID),
			zap.String("from", reply.From))
		return
	}
	for _, w := range waiters {
		w <- reply
	}
}

// Request sends a REQUEST and waits for the matching REPLY, the timeout, or
// ctx cancellation, whichever comes first.
func (b *Bus) Request(ctx context.Context, req Request) (*models.Message, error) {
	if req.Depth > b.maxDepth {
		return nil, fmt.Errorf("%w: depth %d exceeds max %d calling %s", ErrDepthExceeded, req.Depth, b.maxDepth, req.To)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = b.defaultTimeout
	}
	corrID := req.CorrelationID
	if corrID == "" {
		corrID = uuid.New().String()
	}

	msg := models.Message{
		ID:            uuid.New().String(),
		CorrelationID: corrID,
		From:          req.From,
		To:            req.To,
		Kind:          models.KindRequest,
		Depth:         req.Depth,
		Payload:       req.Payload,
		CreatedAt:     time.Now().UTC(),
	}

	replyCh := make(chan models.Message, 1)

	b.mu.Lock()
	if b.ctx.Err() != nil {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	ep, ok := b.endpoints[req.To]
	if !ok {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownEndpoint, req.To)
	}
	b.pending[corrID] = append(b.pending[corrID], replyCh)
	b.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	b.logger.Debug("sending request",
		zap.String("from", req.From),
		zap.String("to", req.To),
		zap.String("correlation_id", corrID),
		zap.Int("depth", req.Depth))

	select {
	case ep.inbox <- msg:
	case <-timer.C:
		b.forget(corrID, replyCh)
		return nil, &TimeoutError{To: req.To, CorrelationID: corrID, After: timeout}
	case <-ctx.Done():
		b.forget(corrID, replyCh)
		return nil, ctx.Err()
	case <-b.ctx.Done():
		b.forget(corrID, replyCh)
		return nil, ErrClosed
	}

	select {
	case reply := <-replyCh:
		return &reply, nil
	case <-timer.C:
		b.forget(corrID, replyCh)
		return nil, &TimeoutError{To: req.To, CorrelationID: corrID, After: timeout}
	case <-ctx.Done():
		b.forget(corrID, replyCh)
		return nil, ctx.Err()
	case <-b.ctx.Done():
		b.forget(corrID, replyCh)
		return nil, ErrClosed
	}
}

// forget removes a waiter that gave up. A reply racing with the removal is
// absorbed by the waiter's buffered channel.
func (b *Bus) forget(corrID string, ch chan models.Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	waiters := b.pending[corrID]
	for i, w := range waiters {
		if w == ch {
			waiters = append(waiters[:i], waiters[i+1:]...)
			break
		}
	}
	if len(waiters) == 0 {
		delete(b.pending, corrID)
	} else {
		b.pending[corrID] = waiters
	}
}

// Subscribe registers handler for events whose topic matches pattern
// (path.Match syntax, e.g. "workflow.*"). The returned func unsubscribes.
func (b *Bus) Subscribe(pattern string, handler EventHandler) (func(), error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("invalid subscription pattern %q: %w", pattern, err)
	}

	sub := &subscription{
		id:      uuid.New().String(),
		pattern: pattern,
		handler: handler,
		ch:      make(chan models.Message, subscriptionSize),
		done:    make(chan struct{}),
	}

	b.mu.Lock()
	if b.ctx.Err() != nil {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.subs[sub.id] = sub
	b.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.ctx.Done():
				return
			case <-sub.done:
				return
			case msg := <-sub.ch:
				sub.handler(b.ctx, msg)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub.id)
			b.mu.Unlock()
			close(sub.done)
		})
	}, nil
}

// Publish emits an EVENT on topic. Delivery to each matching subscriber
// blocks until accepted or ctx is done; sink failures are logged only.
func (b *Bus) Publish(ctx context.Context, topic, from string, payload map[string]any) error {
	msg := models.Message{
		ID:        uuid.New().String(),
		From:      from,
		To:        topic,
		Kind:      models.KindEvent,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}

	b.mu.RLock()
	if b.ctx.Err() != nil {
		b.mu.RUnlock()
		return ErrClosed
	}
	var targets []*subscription
	for _, s := range b.subs {
		if ok, _ := path.Match(s.pattern, topic); ok {
			targets = append(targets, s)
		}
	}
	sinks := append([]EventSink(nil), b.sinks...)
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.ch <- msg:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		case <-b.ctx.Done():
			return ErrClosed
		}
	}

	for _, sink := range sinks {
		if err := sink.Mirror(ctx, msg); err != nil {
			b.logger.Warn("event mirror failed", zap.String("topic", topic), zap.Error(err))
		}
	}
	return nil
}

// Close stops all endpoints and subscriptions and waits for in-flight handlers.
func (b *Bus) Close() error {
	b.cancel()
	b.wg.Wait()
	return nil
}
