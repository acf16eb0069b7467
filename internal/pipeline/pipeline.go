package pipeline

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/readpipe/internal/infrastructure/logging"
	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/pipeline/queue"
)

// NodeHandle identifies a node added to a Descriptor
type NodeHandle int

// InvalidHandle is never returned by AddNode
const InvalidHandle NodeHandle = -1

type nodeSpec struct {
	node  *Node
	sinks []NodeHandle
}

// Descriptor is the graph a Pipeline is built from. Nodes are added leaves
// first: every sink handle must refer to a node added earlier.
type Descriptor struct {
	specs []nodeSpec
}

// NewDescriptor returns an empty descriptor
func NewDescriptor() *Descriptor {
	return &Descriptor{}
}

// AddNode appends node with the given downstream sinks and returns its handle.
// Validation is deferred to Create.
func (d *Descriptor) AddNode(node *Node, sinks ...NodeHandle) NodeHandle {
	d.specs = append(d.specs, nodeSpec{node: node, sinks: append([]NodeHandle(nil), sinks...)})
	return NodeHandle(len(d.specs) - 1)
}

// Len returns the number of nodes added so far
func (d *Descriptor) Len() int {
	return len(d.specs)
}

// Option configures a pipeline
type Option func(*Pipeline)

// WithLogger sets the logger nodes derive their stage loggers from
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithFatalHandler overrides the default fatal handler, which logs at Fatal level
func WithFatalHandler(h FatalHandler) Option {
	return func(p *Pipeline) { p.fatal = h }
}

// Pipeline is a validated, running graph of nodes with a single entry point
type Pipeline struct {
	nodes  []*Node // construction order, leaves first
	entry  *Node
	logger *logging.Logger
	fatal  FatalHandler

	mu          sync.RWMutex
	terminating bool
}

// Create validates desc, wires sinks and starts nodes leaves first
func Create(desc *Descriptor, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.NewNop()
	}
	if p.fatal == nil {
		logger := p.logger
		p.fatal = func(node string, err error) {
			logger.Fatal("pipeline invariant violated", zap.String("node", node), zap.Error(err))
		}
	}

	if err := validate(desc); err != nil {
		return nil, err
	}

	for _, spec := range desc.specs {
		n := spec.node
		n.sinks = n.sinks[:0]
		for _, h := range spec.sinks {
			n.sinks = append(n.sinks, desc.specs[h].node)
		}
		if n.logger == nil {
			n.logger = p.logger.Stage(n.name)
		}
		if n.fatal == nil {
			n.fatal = p.fatal
		}
		p.nodes = append(p.nodes, n)
	}
	p.entry = p.nodes[len(p.nodes)-1]

	for i, n := range p.nodes {
		if err := n.Start(); err != nil {
			for j := i - 1; j >= 0; j-- {
				p.nodes[j].Terminate(FlushOptions{})
			}
			return nil, err
		}
	}

	p.logger.Info("pipeline created",
		zap.Int("nodes", len(p.nodes)),
		zap.String("entry", p.entry.name))
	return p, nil
}

// validate rejects anything but a DAG whose sinks precede their sources and
// which has exactly one node without upstream edges. Since sinks must come
// first the graph cannot contain a cycle.
func validate(desc *Descriptor) error {
	if desc == nil || len(desc.specs) == 0 {
		return fmt.Errorf("%w: no nodes", ErrInvalidGraph)
	}

	seenNode := make(map[*Node]int, len(desc.specs))
	seenName := make(map[string]int, len(desc.specs))
	hasUpstream := make([]bool, len(desc.specs))

	for i, spec := range desc.specs {
		if spec.node == nil {
			return fmt.Errorf("%w: node %d is nil", ErrInvalidGraph, i)
		}
		if j, dup := seenNode[spec.node]; dup {
			return fmt.Errorf("%w: node %q added twice (handles %d and %d)", ErrInvalidGraph, spec.node.name, j, i)
		}
		if j, dup := seenName[spec.node.name]; dup {
			return fmt.Errorf("%w: name %q used by handles %d and %d", ErrInvalidGraph, spec.node.name, j, i)
		}
		if spec.node.State() != StateCreated {
			return fmt.Errorf("%w: node %q already started", ErrInvalidGraph, spec.node.name)
		}
		seenNode[spec.node] = i
		seenName[spec.node.name] = i

		sinkSeen := make(map[NodeHandle]bool, len(spec.sinks))
		for _, h := range spec.sinks {
			if h < 0 || int(h) >= i {
				return fmt.Errorf("%w: node %q references sink %d that was not added before it", ErrInvalidGraph, spec.node.name, h)
			}
			if sinkSeen[h] {
				return fmt.Errorf("%w: node %q lists sink %d twice", ErrInvalidGraph, spec.node.name, h)
			}
			sinkSeen[h] = true
			hasUpstream[h] = true
		}
	}

	entries := 0
	for _, up := range hasUpstream {
		if !up {
			entries++
		}
	}
	if entries != 1 {
		return fmt.Errorf("%w: want exactly one entry node, found %d", ErrInvalidGraph, entries)
	}
	return nil
}

// PushMessage injects msg at the entry node, blocking under backpressure
func (p *Pipeline) PushMessage(msg message.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.terminating {
		return ErrPipelineTerminated
	}
	if err := p.entry.Push(msg); err != nil {
		if errors.Is(err, queue.ErrTerminated) {
			return ErrPipelineTerminated
		}
		return err
	}
	return nil
}

// Terminate drains the pipeline. Nodes are terminated one at a time in
// reverse construction order, starting with the entry node, so a node is
// only closed once every node that could push to it has exited. Every
// message pushed before Terminate has reached its sink when it returns.
func (p *Pipeline) Terminate(opts FlushOptions) NamedStats {
	p.mu.Lock()
	p.terminating = true
	p.mu.Unlock()

	for i := len(p.nodes) - 1; i >= 0; i-- {
		p.nodes[i].Terminate(opts)
	}

	stats := p.SampleStats()
	p.logger.Info("pipeline terminated", zap.Int("nodes", len(p.nodes)))
	return stats
}

// Restart restarts every node leaves first and accepts input again.
// Terminate must have returned first.
func (p *Pipeline) Restart() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, n := range p.nodes {
		if err := n.Restart(); err != nil {
			return err
		}
	}
	p.terminating = false
	p.logger.Info("pipeline restarted")
	return nil
}

// SampleStats returns a "<node>.<stat>" snapshot. It reads atomics only and
// is safe to call while workers run.
func (p *Pipeline) SampleStats() NamedStats {
	stats := make(NamedStats)
	for _, n := range p.nodes {
		stats.Merge(n.name, n.Stats())
	}
	return stats
}

// Nodes returns the nodes in construction order
func (p *Pipeline) Nodes() []*Node {
	out := make([]*Node, len(p.nodes))
	copy(out, p.nodes)
	return out
}

// Node returns the node with the given name
func (p *Pipeline) Node(name string) (*Node, bool) {
	for _, n := range p.nodes {
		if n.name == name {
			return n, true
		}
	}
	return nil, false
}

// Entry returns the node PushMessage feeds
func (p *Pipeline) Entry() *Node {
	return p.entry
}
