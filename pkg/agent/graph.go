package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/easysql-ai/easysql-engine/pkg/models"
)

// Reserved node names.
const (
	Start = "START"
	End   = "END"
)

// EmitFunc receives stream events in execution order. It may block; that
// blocking is the backpressure contract toward slow consumers.
type EmitFunc func(models.StreamEvent)

// NodeFunc executes one node. It reads the state, performs its work and
// returns a partial update. Returning an *Interrupt error suspends the
// graph cooperatively.
type NodeFunc func(ctx context.Context, s *State, emit EmitFunc) (*Delta, error)

// RouteFunc picks the next node from state alone. It must not perform I/O.
type RouteFunc func(s *State) string

// Interrupt is a cooperative suspension raised by a node. It satisfies
// error so it travels the normal return path, but it is not a failure.
type Interrupt struct {
	Type      string   `json:"type"`
	Question  string   `json:"question"`
	Questions []string `json:"questions"`
	RawQuery  string   `json:"raw_query"`

	// Node is the suspension point; resume re-enters here.
	Node string `json:"-"`
}

func (i *Interrupt) Error() string {
	return fmt.Sprintf("interrupted at %s: %s", i.Node, i.Type)
}

// NewClarificationInterrupt builds the interrupt payload for a set of
// clarifying questions.
func NewClarificationInterrupt(questions []string, rawQuery string) *Interrupt {
	var b strings.Builder
	b.WriteString("Before I can write this query, please clarify:\n")
	for i, q := range questions {
		fmt.Fprintf(&b, "%d. %s\n", i+1, q)
	}
	return &Interrupt{
		Type:      "clarification",
		Question:  strings.TrimRight(b.String(), "\n"),
		Questions: questions,
		RawQuery:  rawQuery,
	}
}

// Builder accumulates nodes and edges before compilation.
type Builder struct {
	nodes   map[string]NodeFunc
	edges   map[string]string
	routers map[string]RouteFunc
	entry   string
}

func NewBuilder() *Builder {
	return &Builder{
		nodes:   make(map[string]NodeFunc),
		edges:   make(map[string]string),
		routers: make(map[string]RouteFunc),
	}
}

func (b *Builder) AddNode(name string, fn NodeFunc) *Builder {
	b.nodes[name] = fn
	return b
}

// AddEdge wires an unconditional transition. Start as the from side sets
// the entry node.
func (b *Builder) AddEdge(from, to string) *Builder {
	if from == Start {
		b.entry = to
		return b
	}
	b.edges[from] = to
	return b
}

// AddRouter wires a conditional transition; the router returns the next
// node name or End.
func (b *Builder) AddRouter(from string, route RouteFunc) *Builder {
	b.routers[from] = route
	return b
}

// Compile validates the wiring and returns an immutable graph safe for
// concurrent use across sessions.
func (b *Builder) Compile() (*Graph, error) {
	if b.entry == "" {
		return nil, fmt.Errorf("graph has no entry edge from %s", Start)
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return nil, fmt.Errorf("entry node %q is not defined", b.entry)
	}
	for from, to := range b.edges {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("edge from undefined node %q", from)
		}
		if to != End {
			if _, ok := b.nodes[to]; !ok {
				return nil, fmt.Errorf("edge %q -> %q targets undefined node", from, to)
			}
		}
	}
	for from, route := range b.routers {
		if _, ok := b.nodes[from]; !ok {
			return nil, fmt.Errorf("router on undefined node %q", from)
		}
		if route == nil {
			return nil, fmt.Errorf("nil router on node %q", from)
		}
	}
	for name := range b.nodes {
		_, hasEdge := b.edges[name]
		_, hasRouter := b.routers[name]
		if !hasEdge && !hasRouter {
			return nil, fmt.Errorf("node %q has no outgoing edge", name)
		}
		if hasEdge && hasRouter {
			return nil, fmt.Errorf("node %q has both an edge and a router", name)
		}
	}

	return &Graph{
		nodes:   b.nodes,
		edges:   b.edges,
		routers: b.routers,
		entry:   b.entry,
	}, nil
}

// Graph is a compiled node graph. Immutable after Compile.
type Graph struct {
	nodes   map[string]NodeFunc
	edges   map[string]string
	routers map[string]RouteFunc
	entry   string
}

// Entry returns the entry node name.
func (g *Graph) Entry() string { return g.entry }

// HasNode reports whether the graph defines the named node.
func (g *Graph) HasNode(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// run executes from the named node until End, an interrupt, or an error.
// The state is mutated in place; updates apply at node boundaries only.
func (g *Graph) run(ctx context.Context, from string, s *State, emit EmitFunc) (*Interrupt, error) {
	current := from
	for current != End {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		fn, ok := g.nodes[current]
		if !ok {
			return nil, fmt.Errorf("undefined node %q", current)
		}

		delta, err := fn(ctx, s, emit)
		if err != nil {
			if intr, ok := err.(*Interrupt); ok {
				intr.Node = current
				s.apply(delta)
				return intr, nil
			}
			s.Error = err.Error()
			return nil, err
		}
		s.apply(delta)

		if emit != nil {
			emit(models.StreamEvent{Type: models.EventStateUpdate, Data: sanitizedPatch(current, delta)})
		}

		if s.Error != "" {
			return nil, fmt.Errorf("node %s: %s", current, s.Error)
		}

		if route, ok := g.routers[current]; ok {
			current = route(s)
			continue
		}
		current = g.edges[current]
	}
	return nil, nil
}
