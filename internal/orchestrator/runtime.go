package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/fentz26/conductor/internal/agents"
	"github.com/fentz26/conductor/internal/audit"
	"github.com/fentz26/conductor/internal/bus"
	"github.com/fentz26/conductor/internal/classifier"
	"github.com/fentz26/conductor/internal/connectors/localexec"
	"github.com/fentz26/conductor/internal/registry"
	"github.com/fentz26/conductor/internal/state"
	"github.com/fentz26/conductor/internal/workflow"
	"go.uber.org/zap"
)

// Storage backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
)

// Options describes a complete runtime.
type Options struct {
	StateBackend string
	StateDir     string
	// DBPath holds the SQLite database: instances for the sqlite backend
	// and the audit trail for both. Empty disables auditing with the file
	// backend.
	DBPath        string
	MinScore      int
	RulesPath     string
	TemplatesPath string
	MaxDepth      int
	BusTimeout    time.Duration
	DefaultAgent  string
	MaxInFlight   int
	RedisURL      string
	WorkDir       string
	Logger        *zap.Logger
}

// Runtime owns every long-lived component behind an Orchestrator.
type Runtime struct {
	Orchestrator *Orchestrator
	Bus          *bus.Bus
	Host         *agents.Host
	Store        state.Store

	executor *workflow.Executor
	closers  []func() error
}

// Build wires agents, templates, storage, the bus and the executor.
func Build(ctx context.Context, opts Options) (_ *Runtime, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	rt := &Runtime{}
	defer func() {
		if err != nil {
			rt.Close()
		}
	}()

	rt.Bus = bus.New(bus.Options{
		MaxDepth:       opts.MaxDepth,
		DefaultTimeout: opts.BusTimeout,
		Logger:         logger.Named("bus"),
	})
	rt.closers = append(rt.closers, rt.Bus.Close)

	if opts.RedisURL != "" {
		mirror, err := bus.NewRedisMirror(ctx, opts.RedisURL, logger.Named("redis"))
		if err != nil {
			return nil, fmt.Errorf("redis mirror: %w", err)
		}
		rt.Bus.AddSink(mirror)
		rt.closers = append(rt.closers, mirror.Close)
	}

	var sqlite *state.SQLiteStore
	if opts.StateBackend == BackendSQLite || opts.DBPath != "" {
		sqlite, err = state.NewSQLiteStore(opts.DBPath)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, sqlite.Close)
	}

	switch opts.StateBackend {
	case BackendSQLite:
		rt.Store = sqlite
	case BackendFile, "":
		fs, err := state.NewFileStore(opts.StateDir)
		if err != nil {
			return nil, err
		}
		rt.Store = fs
	default:
		return nil, fmt.Errorf("unknown state backend %q", opts.StateBackend)
	}

	agentReg := registry.New()
	rt.Host = agents.NewHost(rt.Bus, agentReg, logger.Named("agents"), agents.WithInvokeTimeout(opts.BusTimeout))
	if err := rt.Host.Register(agents.Builtins(agentReg, localexec.New(opts.WorkDir))...); err != nil {
		return nil, fmt.Errorf("register agents: %w", err)
	}

	templateList := workflow.Builtins()
	if opts.TemplatesPath != "" {
		loaded, err := workflow.LoadTemplates(opts.TemplatesPath)
		if err != nil {
			return nil, err
		}
		templateList = workflow.Merge(templateList, loaded)
	}
	templates := workflow.NewRegistry(agentReg)
	if err := templates.RegisterAll(templateList); err != nil {
		return nil, err
	}

	agentList, templateList := agentReg.List(), templates.List()
	cfg := classifier.Config{MinScore: opts.MinScore}
	if opts.RulesPath != "" {
		rules, err := classifier.LoadRules(opts.RulesPath)
		if err != nil {
			return nil, err
		}
		agentList, templateList, cfg, err = rules.Apply(agentList, templateList, cfg)
		if err != nil {
			return nil, err
		}
	}

	var pdr *audit.PDRWriter
	if sqlite != nil {
		pdr = audit.NewPDRWriter(sqlite, logger.Named("audit"))
		detach, err := pdr.Attach(rt.Bus)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() error { detach(); return nil })
	}

	executor := workflow.NewExecutor(rt.Store, rt.Host, workflow.ExecutorOptions{
		MaxInFlight: opts.MaxInFlight,
		Events:      rt.Bus,
		Logger:      logger.Named("executor"),
	})
	rt.executor = executor
	rt.closers = append(rt.closers, func() error { executor.Stop(); return nil })

	rt.Orchestrator, err = New(Deps{
		Agents:       agentReg,
		Templates:    templates,
		Classifier:   classifier.New(agentList, templateList, cfg),
		Dispatcher:   rt.Host,
		Executor:     executor,
		Store:        rt.Store,
		Audit:        pdr,
		DefaultAgent: opts.DefaultAgent,
		Logger:       logger.Named("orchestrator"),
	})
	if err != nil {
		return nil, err
	}
	return rt, nil
}

// Stop interrupts executing workflows mid-batch and leaves them RUNNING for
// the next process to resume. It is safe to call before Close.
func (rt *Runtime) Stop() {
	if rt.executor != nil {
		rt.executor.Stop()
	}
}

// Close releases resources in reverse order of acquisition.
func (rt *Runtime) Close() error {
	var first error
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	rt.closers = nil
	return first
}
