package agents

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fentz26/conductor/internal/bus"
	"github.com/fentz26/conductor/internal/models"
	"github.com/fentz26/conductor/internal/registry"
	"go.uber.org/zap"
)

// OrchestratorEndpoint is the sender name used for top-level dispatches.
const OrchestratorEndpoint = "orchestrator"

const defaultReplyCacheSize = 1024

// Host binds agents to bus endpoints and dispatches tasks to them.
type Host struct {
	bus      *bus.Bus
	registry *registry.Registry
	logger   *zap.Logger
	timeout  time.Duration

	mu     sync.RWMutex
	agents map[string]Agent
	cache  *replyCache
}

// HostOption customises a Host.
type HostOption func(*Host)

// WithInvokeTimeout sets the timeout for agent-to-agent calls.
func WithInvokeTimeout(d time.Duration) HostOption {
	return func(h *Host) { h.timeout = d }
}

// WithReplyCacheSize bounds the number of replies kept for duplicate requests.
func WithReplyCacheSize(n int) HostOption {
	return func(h *Host) { h.cache = newReplyCache(n) }
}

// NewHost creates a host over b that records descriptors in reg.
func NewHost(b *bus.Bus, reg *registry.Registry, logger *zap.Logger, opts ...HostOption) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Host{
		bus:      b,
		registry: reg,
		logger:   logger,
		agents:   make(map[string]Agent),
		cache:    newReplyCache(defaultReplyCacheSize),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register records the agents' descriptors and opens a bus endpoint for
// each. Descriptors are validated as one batch, so agents may depend on
// each other in any order.
func (h *Host) Register(list ...Agent) error {
	descs := make([]models.AgentDescriptor, len(list))
	for i, a := range list {
		descs[i] = a.Descriptor()
	}
	if err := h.registry.RegisterAll(descs); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for i, a := range list {
		id := descs[i].ID
		if err := h.bus.Handle(id, h.handler(id, a)); err != nil {
			return fmt.Errorf("open endpoint %s: %w", id, err)
		}
		h.agents[id] = a
		h.logger.Info("agent registered",
			zap.String("agent", id),
			zap.String("version", descs[i].Version),
			zap.Strings("capabilities", descs[i].Capabilities))
	}
	return nil
}

// DispatchOptions controls a top-level dispatch.
type DispatchOptions struct {
	CorrelationID string
	Timeout       time.Duration
}

// Dispatch sends task to agentID at invocation depth zero.
func (h *Host) Dispatch(ctx context.Context, agentID string, task models.Task, opts DispatchOptions) (models.Result, error) {
	return h.request(ctx, OrchestratorEndpoint, agentID, task, 0, opts)
}

func (h *Host) request(ctx context.Context, from, to string, task models.Task, depth int, opts DispatchOptions) (models.Result, error) {
	if !h.registry.Has(to) {
		return models.Result{}, fmt.Errorf("%w: %s", registry.ErrAgentNotFound, to)
	}

	reply, err := h.bus.Request(ctx, bus.Request{
		From:          from,
		To:            to,
		Payload:       TaskToPayload(task),
		Timeout:       opts.Timeout,
		Depth:         depth,
		CorrelationID: opts.CorrelationID,
	})
	if err != nil {
		return models.Result{}, err
	}
	return ResultFromPayload(reply.Payload), nil
}

func (h *Host) handler(id string, a Agent) bus.RequestHandler {
	return func(ctx context.Context, msg models.Message) map[string]any {
		return h.cache.do(id+"|"+msg.CorrelationID, func() map[string]any {
			task, err := TaskFromPayload(msg.Payload)
			if err != nil {
				return ResultToPayload(models.Failure(err.Error()))
			}

			desc := a.Descriptor()
			if task.Action == "" {
				task.Action = desc.DefaultAction()
			}
			if !desc.HasCapability(task.Action) {
				return ResultToPayload(models.Failure(fmt.Sprintf("%s: %s does not support %q", ErrUnsupportedAction, id, task.Action)))
			}

			inv := &invoker{host: h, from: id, depth: msg.Depth}
			return ResultToPayload(h.execute(ctx, id, a, task, inv))
		})
	}
}

// execute runs the agent and converts a panic into a failed result.
func (h *Host) execute(ctx context.Context, id string, a Agent, task models.Task, inv Invoker) (res models.Result) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("agent panicked",
				zap.String("agent", id),
				zap.String("action", task.Action),
				zap.Any("panic", r))
			res = models.Failure(fmt.Sprintf("agent %s panicked: %v", id, r))
		}
	}()
	return a.Execute(ctx, task, inv)
}

type invoker struct {
	host  *Host
	from  string
	depth int
}

func (i *invoker) InvokeAgent(ctx context.Context, agentID string, task models.Task) (models.Result, error) {
	i.host.logger.Debug("agent invocation",
		zap.String("from", i.from),
		zap.String("agent", agentID),
		zap.String("action", task.Action),
		zap.Int("depth", i.depth+1))
	return i.host.request(ctx, i.from, agentID, task, i.depth+1, DispatchOptions{Timeout: i.host.timeout})
}

// replyCache remembers recent replies by correlation id. A duplicate that
// arrives while the first request is still running waits for its reply.
type replyCache struct {
	mu      sync.Mutex
	size    int
	entries map[string]*cacheEntry
	order   []string
}

type cacheEntry struct {
	done     chan struct{}
	finished bool
	reply    map[string]any
}

func newReplyCache(size int) *replyCache {
	if size <= 0 {
		size = defaultReplyCacheSize
	}
	return &replyCache{size: size, entries: make(map[string]*cacheEntry)}
}

func (c *replyCache) do(key string, fn func() map[string]any) map[string]any {
	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		c.mu.Unlock()
		<-e.done
		return models.CloneMap(e.reply)
	}

	e := &cacheEntry{done: make(chan struct{})}
	c.entries[key] = e
	c.order = append(c.order, key)
	c.mu.Unlock()

	reply := fn()

	c.mu.Lock()
	e.reply = reply
	e.finished = true
	close(e.done)
	c.evict()
	c.mu.Unlock()
	return models.CloneMap(reply)
}

// evict drops the oldest finished entries until the cache fits. Entries
// still executing stay, so their duplicates keep waiting instead of
// running again. Callers hold c.mu.
func (c *replyCache) evict() {
	for i := 0; len(c.entries) > c.size && i < len(c.order); {
		key := c.order[i]
		if c.entries[key].finished {
			delete(c.entries, key)
			c.order = append(c.order[:i], c.order[i+1:]...)
			continue
		}
		i++
	}
}
