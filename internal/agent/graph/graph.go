package graph

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	einocb "github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/vayu-advisor/server/internal/agent/graph/nodes"
	"github.com/vayu-advisor/server/internal/agent/graph/observers"
	"github.com/vayu-advisor/server/internal/agent/model"
	"github.com/vayu-advisor/server/internal/metrics"
	logx "github.com/vayu-advisor/server/pkg/logger"
)

const (
	defaultMaxSteps = 10
	graphName       = "vayu_turn"
)

var (
	ErrNilState   = errors.New("agent state is nil")
	ErrEmptyInput = errors.New("user message is empty")
)

// Config holds the collaborators the graph nodes call.
type Config struct {
	Parser    nodes.Parser
	Tools     nodes.ToolDispatcher
	Responder nodes.Responder
	// MaxSteps caps node executions per turn.
	MaxSteps int
	// Callbacks observe the graph, its nodes and the prompt, model and tool
	// components. Defaults to the zerolog observers.
	Callbacks []einocb.Handler
}

// Outcome reports what a turn produced.
type Outcome struct {
	Reply     string         `json:"reply"`
	Suspended bool           `json:"suspended"`
	Path      []nodes.NodeID `json:"path"`
}

// turnTrace is the graph's local state: the nodes visited in one run.
type turnTrace struct {
	Path []nodes.NodeID
}

type traceKey struct{}

// Machine runs the compiled conversation graph. It is built once and is safe
// for concurrent turns on distinct states.
type Machine struct {
	runnable  compose.Runnable[*model.AgentState, *model.AgentState]
	callbacks []einocb.Handler
}

type graphBuilder struct {
	config Config
	graph  *compose.Graph[*model.AgentState, *model.AgentState]
}

// NewMachine validates cfg and compiles the graph.
func NewMachine(ctx context.Context, cfg Config) (*Machine, error) {
	if cfg.Parser == nil {
		return nil, fmt.Errorf("graph: parser is nil")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("graph: tool dispatcher is nil")
	}
	if cfg.Responder == nil {
		return nil, fmt.Errorf("graph: responder is nil")
	}
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = defaultMaxSteps
	}
	if cfg.Callbacks == nil {
		cfg.Callbacks = []einocb.Handler{observers.NewAllCallbacks()}
	}

	b := &graphBuilder{
		config: cfg,
		graph: compose.NewGraph[*model.AgentState, *model.AgentState](
			compose.WithGenLocalState(func(ctx context.Context) *turnTrace {
				if t, ok := ctx.Value(traceKey{}).(*turnTrace); ok {
					return t
				}
				return &turnTrace{}
			}),
		),
	}

	if err := b.addNodes(); err != nil {
		return nil, err
	}
	if err := b.addEdges(); err != nil {
		return nil, err
	}
	if err := b.addBranches(); err != nil {
		return nil, err
	}

	runnable, err := b.compile(ctx)
	if err != nil {
		return nil, err
	}
	return &Machine{runnable: runnable, callbacks: cfg.Callbacks}, nil
}

// addNodes registers one lambda per node. The pre handler records each visit
// in the run's trace.
func (b *graphBuilder) addNodes() error {
	steps := []struct {
		id   nodes.NodeID
		node nodes.Node
	}{
		{nodes.NodeParseQuery, nodes.NewParseQueryNode(b.config.Parser)},
		{nodes.NodeValidateInfo, nodes.NewValidateInfoNode()},
		{nodes.NodeAskMissingInfo, nodes.NewAskMissingInfoNode()},
		{nodes.NodeDispatchTools, nodes.NewDispatchToolsNode(b.config.Tools)},
		{nodes.NodeGenerateResponse, nodes.NewGenerateResponseNode(b.config.Responder)},
	}

	for _, step := range steps {
		if err := b.graph.AddLambdaNode(string(step.id),
			compose.InvokableLambda(step.node),
			compose.WithStatePreHandler(recordVisit(step.id)),
		); err != nil {
			logx.Error().Err(err).Str("node", string(step.id)).Msg("Error adding graph node")
			return fmt.Errorf("error adding node %s: %w", step.id, err)
		}
	}
	return nil
}

func recordVisit(id nodes.NodeID) func(context.Context, *model.AgentState, *turnTrace) (*model.AgentState, error) {
	return func(ctx context.Context, in *model.AgentState, t *turnTrace) (*model.AgentState, error) {
		t.Path = append(t.Path, id)
		metrics.NodeVisits.WithLabelValues(string(id)).Inc()
		if in != nil {
			logx.Debug().Str("session_id", in.SessionID).Str("node", string(id)).Msg("node start")
		}
		return in, nil
	}
}

// addEdges creates the fixed connections; validate_info routes through a branch.
func (b *graphBuilder) addEdges() error {
	edges := [][2]string{
		{compose.START, string(nodes.NodeParseQuery)},
		{string(nodes.NodeParseQuery), string(nodes.NodeValidateInfo)},
		{string(nodes.NodeAskMissingInfo), compose.END},
		{string(nodes.NodeDispatchTools), string(nodes.NodeGenerateResponse)},
		{string(nodes.NodeGenerateResponse), compose.END},
	}

	for _, edge := range edges {
		if err := b.graph.AddEdge(edge[0], edge[1]); err != nil {
			logx.Error().Err(err).Str("from", edge[0]).Str("to", edge[1]).Msg("Error adding graph edge")
			return fmt.Errorf("error adding edge %s -> %s: %w", edge[0], edge[1], err)
		}
	}
	return nil
}

func (b *graphBuilder) addBranches() error {
	completeness := compose.NewGraphBranch(
		nodes.NewValidateInfoCondition(),
		map[string]bool{
			string(nodes.NodeAskMissingInfo): true,
			string(nodes.NodeDispatchTools):  true,
		},
	)
	if err := b.graph.AddBranch(string(nodes.NodeValidateInfo), completeness); err != nil {
		logx.Error().Err(err).Msg("Error adding completeness branch")
		return fmt.Errorf("error adding completeness branch: %w", err)
	}
	return nil
}

func (b *graphBuilder) compile(ctx context.Context) (compose.Runnable[*model.AgentState, *model.AgentState], error) {
	runnable, err := b.graph.Compile(ctx,
		compose.WithGraphName(graphName),
		compose.WithMaxRunSteps(b.config.MaxSteps),
	)
	if err != nil {
		logx.Error().Err(err).Msg("Error compiling graph")
		return nil, fmt.Errorf("error compiling graph: %w", err)
	}

	logx.Debug().Int("max_steps", b.config.MaxSteps).Msg("Graph compiled successfully")
	return runnable, nil
}

// ProcessTurn appends the user message to state and runs the graph from
// parse_query until the turn suspends or ends. It returns an error only for
// invalid input; every tool or model failure ends as assistant text.
func (m *Machine) ProcessTurn(ctx context.Context, state *model.AgentState, text string) (Outcome, error) {
	if state == nil {
		return Outcome{}, ErrNilState
	}
	text = strings.TrimSpace(text)
	if text == "" {
		metrics.Turns.WithLabelValues("invalid").Inc()
		return Outcome{}, ErrEmptyInput
	}
	if state.ConversationContext == nil {
		state.ConversationContext = model.NewConversationContext(model.UserInfo{})
	}

	log := logx.Session(state.SessionID)
	start := time.Now()

	state.Messages = append(state.Messages, schema.UserMessage(text))
	state.ToolResults = map[string]model.ToolResult{}
	state.UpdatedAt = time.Now().UTC()

	trace := &turnTrace{}
	ctx = context.WithValue(ctx, traceKey{}, trace)

	_, err := m.runnable.Invoke(ctx, state, compose.WithCallbacks(m.callbacks...))
	if err != nil {
		// Node panics and the step limit both surface here.
		log.Error().Err(err).Strs("path", pathStrings(trace.Path)).Msg("graph run failed")
		state.Messages = append(state.Messages, schema.AssistantMessage(model.ErrorResponseText, nil))
	}

	out := Outcome{Path: trace.Path, Reply: state.LastAssistantMessage()}
	if n := len(out.Path); err == nil && n > 0 {
		out.Suspended = out.Path[n-1] == nodes.NodeAskMissingInfo
	}

	outcome := "answered"
	if out.Suspended {
		outcome = "suspended"
	}
	metrics.Turns.WithLabelValues(outcome).Inc()
	log.Info().
		Str("outcome", outcome).
		Strs("path", pathStrings(out.Path)).
		Bool("is_complete", state.ValidationStatus.IsComplete).
		Dur("elapsed", time.Since(start)).
		Msg("turn processed")
	return out, nil
}

func pathStrings(path []nodes.NodeID) []string {
	out := make([]string, len(path))
	for i, p := range path {
		out[i] = string(p)
	}
	return out
}
