// Package session implements the session orchestrator (spec §4.14): a
// multi-agent session lifecycle built on top of the DAG engine. A Session
// composes a configured number of agent slots into a linear DAG (one
// TaskNode per slot), runs it with the DAG engine, and reports its own
// terminal event distinct from the DAG's.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/flowkernel/agentkernel/internal/agentexec"
	"github.com/flowkernel/agentkernel/internal/eventlog"
	"github.com/flowkernel/agentkernel/internal/governance"
	"github.com/flowkernel/agentkernel/internal/ids"
	"github.com/flowkernel/agentkernel/internal/llm"
	"github.com/flowkernel/agentkernel/internal/tool"
	"github.com/flowkernel/agentkernel/internal/workflow"
)

// Pack is a domain pack: the set of workflows and agent roles a session may
// be configured against, plus a factory instantiating a fresh tool.Registry
// from the pack's tool manifest for each agent slot (spec §4.14's "a tool
// registry owns registered tool instances", instantiated per node rather
// than shared, so one agent's tool state can never leak into another's).
type Pack struct {
	Name       string
	Workflows  map[string]bool
	AgentRoles map[string]bool
	NewTools   func() *tool.Registry
}

// Registry holds the domain packs a session may be created against. This
// replaces the "global dataset/tool cache keyed by name" pattern (spec §9)
// with an explicit owning store the caller constructs and passes to
// NewOrchestrator.
type Registry struct {
	mu    sync.RWMutex
	packs map[string]Pack
}

// NewRegistry returns an empty domain-pack registry.
func NewRegistry() *Registry {
	return &Registry{packs: make(map[string]Pack)}
}

// Register adds pack under pack.Name, overwriting any existing entry of the
// same name.
func (r *Registry) Register(pack Pack) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packs[pack.Name] = pack
}

// Lookup returns the pack registered under name, if any.
func (r *Registry) Lookup(name string) (Pack, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.packs[name]
	return p, ok
}

// Clear removes every registered pack. Provided for test isolation.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.packs = make(map[string]Pack)
}

// AgentSlot configures one seat in a session's agent DAG.
type AgentSlot struct {
	Role                 string
	SystemPrompt         string
	Provider             llm.Provider
	MaxSteps             int
	MaxConsecutiveErrors int
}

// Config is the caller-supplied description of a session to create.
type Config struct {
	SessionID         ids.ArtifactID
	DomainPack        string
	Workflow          string
	Agents            []AgentSlot
	BudgetSpec        governance.Spec
	StopLimits        governance.StopConditionLimits
	PermissionRules   []governance.Rule
	DefaultPermission governance.Action
	MaxParallel       int
}

// Status is a session record's lifecycle state.
type Status string

const (
	StatusCreated Status = "CREATED"
	StatusRunning Status = "RUNNING"
	StatusStopped Status = "STOPPED"
	StatusDone    Status = "DONE"
)

// Record is the orchestrator's view of one session.
type Record struct {
	Config  Config
	Status  Status
	RunID   ids.RunID // the session's own run_id, distinct from the DAG's
	Outcome string
	Err     error
}

// Orchestrator holds the (session_id -> Record) registry and drives session
// lifecycles on top of the DAG engine (spec §4.14).
type Orchestrator struct {
	store  eventlog.Store
	packs  *Registry
	dagEng *workflow.DAGEngine

	mu       sync.Mutex
	sessions map[ids.ArtifactID]*sessionState
}

type sessionState struct {
	record Record
	stop   chan struct{}
	done   chan struct{}
}

// NewOrchestrator constructs an Orchestrator writing to store, validating
// new sessions against packs.
func NewOrchestrator(store eventlog.Store, packs *Registry) *Orchestrator {
	return &Orchestrator{
		store:    store,
		packs:    packs,
		dagEng:   workflow.NewDAGEngine(store),
		sessions: make(map[ids.ArtifactID]*sessionState),
	}
}

// CreateSession validates cfg against the domain registry (pack, workflow,
// and every agent role must exist) and registers a CREATED session record.
// It does not start the session.
func (o *Orchestrator) CreateSession(cfg Config) (ids.ArtifactID, error) {
	pack, ok := o.packs.Lookup(cfg.DomainPack)
	if !ok {
		return "", fmt.Errorf("session: unknown domain pack %q", cfg.DomainPack)
	}
	if !pack.Workflows[cfg.Workflow] {
		return "", fmt.Errorf("session: pack %q has no workflow %q", cfg.DomainPack, cfg.Workflow)
	}
	if len(cfg.Agents) == 0 {
		return "", fmt.Errorf("session: at least one agent slot is required")
	}
	for _, a := range cfg.Agents {
		if !pack.AgentRoles[a.Role] {
			return "", fmt.Errorf("session: pack %q has no agent role %q", cfg.DomainPack, a.Role)
		}
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = ids.NewArtifactID("sess")
		cfg.SessionID = sessionID
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if _, dup := o.sessions[sessionID]; dup {
		return "", fmt.Errorf("session: %q already exists", sessionID)
	}
	o.sessions[sessionID] = &sessionState{
		record: Record{Config: cfg, Status: StatusCreated},
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	return sessionID, nil
}

// Get returns the current Record for sessionID.
func (o *Orchestrator) Get(sessionID ids.ArtifactID) (Record, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.sessions[sessionID]
	if !ok {
		return Record{}, false
	}
	return st.record, true
}

type sessionStartedPayload struct {
	SessionID  string `json:"session_id"`
	DomainPack string `json:"domain_pack"`
	Workflow   string `json:"workflow"`
	AgentCount int    `json:"agent_count"`
}

type sessionFinishedPayload struct {
	SessionID string `json:"session_id"`
	Outcome   string `json:"outcome"`
	Error     string `json:"error,omitempty"`
}

// StartSession spawns a background worker for sessionID that builds a
// linear DAG of one TaskNode per configured agent slot and runs it with
// the DAG engine, per spec §4.14. It returns once the worker has been
// launched; call Wait or poll Get to observe completion.
func (o *Orchestrator) StartSession(ctx context.Context, sessionID ids.ArtifactID) error {
	o.mu.Lock()
	st, ok := o.sessions[sessionID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("session: %q not found", sessionID)
	}
	if st.record.Status != StatusCreated {
		o.mu.Unlock()
		return fmt.Errorf("session: %q already started", sessionID)
	}
	st.record.Status = StatusRunning
	o.mu.Unlock()

	go o.runSession(ctx, sessionID, st)
	return nil
}

// StopSession sets sessionID's stop flag. The session worker observes it
// between task submissions and refrains from starting further agents;
// already in-flight agents are allowed to finish (spec §4.14, §5).
func (o *Orchestrator) StopSession(sessionID ids.ArtifactID) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	st, ok := o.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session: %q not found", sessionID)
	}
	select {
	case <-st.stop:
		// already stopped
	default:
		close(st.stop)
	}
	return nil
}

// Wait blocks until sessionID's worker has emitted SessionFinished.
func (o *Orchestrator) Wait(sessionID ids.ArtifactID) error {
	o.mu.Lock()
	st, ok := o.sessions[sessionID]
	o.mu.Unlock()
	if !ok {
		return fmt.Errorf("session: %q not found", sessionID)
	}
	<-st.done
	return nil
}

func (o *Orchestrator) runSession(ctx context.Context, sessionID ids.ArtifactID, st *sessionState) {
	cfg := st.record.Config
	pack, _ := o.packs.Lookup(cfg.DomainPack)

	sessionRunID := ids.NewRunID()
	sessionSeq := eventlog.NewCounter()

	finish := func(outcome string, err error) {
		_ = o.emit(ctx, sessionRunID, sessionSeq, eventlog.KindSessionFinished, sessionFinishedPayload{
			SessionID: string(sessionID),
			Outcome:   outcome,
			Error:     errString(err),
		})
		status := StatusDone
		select {
		case <-st.stop:
			status = StatusStopped
		default:
		}

		o.mu.Lock()
		st.record.Status = status
		st.record.RunID = sessionRunID
		st.record.Outcome = outcome
		st.record.Err = err
		o.mu.Unlock()
		close(st.done)
	}

	if err := o.emit(ctx, sessionRunID, sessionSeq, eventlog.KindSessionStarted, sessionStartedPayload{
		SessionID:  string(sessionID),
		DomainPack: cfg.DomainPack,
		Workflow:   cfg.Workflow,
		AgentCount: len(cfg.Agents),
	}); err != nil {
		finish("FAILED", err)
		return
	}

	// budget, stops, and perms are the session's per-session governance
	// objects (spec §4.14 point 2): bound to the session's own run so
	// BudgetUpdated/BudgetExceeded/PolicyDecision/StopCondition events are
	// recorded once, in one place, shared across every agent slot, rather
	// than duplicated per agent sub-run.
	budget := governance.NewBudget(sessionRunID, cfg.BudgetSpec, sessionSeq, o.store)
	stops := governance.NewStopConditions(cfg.StopLimits, sessionRunID, sessionSeq, o.store)
	perms := governance.NewPermissions(cfg.PermissionRules, cfg.DefaultPermission, sessionRunID, sessionSeq, o.store)

	dagRunID := ids.NewRunID()
	wf := workflow.DAGWorkflow{Name: cfg.Workflow, MaxParallel: cfg.MaxParallel}
	for i, slot := range cfg.Agents {
		slot := slot
		name := fmt.Sprintf("agent-%d-%s", i, slot.Role)
		var dependsOn []string
		if i > 0 {
			dependsOn = []string{wf.Tasks[i-1].Name}
		}
		wf.Tasks = append(wf.Tasks, workflow.TaskDef{
			Name:      name,
			DependsOn: dependsOn,
			Run: func(taskCtx context.Context, _ map[string]any) (any, error) {
				select {
				case <-st.stop:
					return nil, fmt.Errorf("session: stopped before starting agent %q", slot.Role)
				default:
				}

				tools := tool.NewRegistry()
				if pack.NewTools != nil {
					tools = pack.NewTools()
				}

				// Each agent slot is its own kernel run, independently
				// replayable, even though its budget/permissions/stop
				// conditions are shared at the session level above.
				agentRunID := ids.NewRunID()
				agentSeq := eventlog.NewCounter()
				ex := agentexec.NewExecutor(agentexec.Options{
					RunID:                agentRunID,
					AgentName:            slot.Role,
					Store:                o.store,
					Budget:               budget,
					StopConditions:       stops,
					Permissions:          perms,
					Tools:                tools,
					Provider:             slot.Provider,
					SystemPrompt:         slot.SystemPrompt,
					MaxSteps:             slot.MaxSteps,
					MaxConsecutiveErrors: slot.MaxConsecutiveErrors,
				}, agentSeq)
				res := ex.Run(taskCtx)
				if res.Err != nil {
					return res.Result, res.Err
				}
				return res.Result, nil
			},
		})
	}

	_, err := o.dagEng.Run(ctx, wf, dagRunID)
	if err != nil {
		finish("FAILED", err)
		return
	}
	finish("SUCCEEDED", nil)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

func (o *Orchestrator) emit(ctx context.Context, runID ids.RunID, seq *eventlog.Counter, kind eventlog.Kind, payload any) error {
	ev, err := eventlog.NewEvent(runID, seq.Next(), kind, payload)
	if err != nil {
		return err
	}
	return o.store.Append(ctx, ev)
}
