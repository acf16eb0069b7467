package pipeline

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/readpipe/internal/infrastructure/logging"
	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/pipeline/queue"
)

// DefaultQueueCapacity bounds a node's input queue unless overridden
const DefaultQueueCapacity = 1000

// State is a node lifecycle state
type State int32

const (
	StateCreated State = iota
	StateRunning
	StateDraining
	StateTerminated
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Emitter forwards processor output downstream
type Emitter interface {
	// Emit sends msg to the node's primary sink
	Emit(msg message.Message)
	// EmitTo sends msg to the sink at index
	EmitTo(sink int, msg message.Message)
}

// Processor is the per-message transform a node runs on its workers.
// Implementations must forward message kinds they do not handle.
type Processor interface {
	Process(msg message.Message, emit Emitter)
}

// ProcessorFunc adapts a function to Processor
type ProcessorFunc func(msg message.Message, emit Emitter)

// Process calls f(msg, emit)
func (f ProcessorFunc) Process(msg message.Message, emit Emitter) {
	f(msg, emit)
}

// Runtime is what a node hands its processor when it starts
type Runtime struct {
	Name   string
	Logger *logging.Logger
	Emit   Emitter
	Fatal  func(err error)
}

// Starter is implemented by processors that own internal workers.
// Start runs before the node's input workers are spawned, on every start and restart.
type Starter interface {
	Start(rt Runtime) error
}

// Drainer is implemented by processors holding work outside the input queue.
// Drain runs after every input worker has exited.
type Drainer interface {
	Drain(opts FlushOptions) error
}

// StatsReporter is implemented by processors exposing extra statistics
type StatsReporter interface {
	Stats() map[string]float64
}

// FatalHandler receives invariant violations: pool exhaustion and pushes
// into a terminated downstream queue
type FatalHandler func(node string, err error)

// FlushOptions controls what terminate does beyond draining
type FlushOptions struct {
	// PreserveOutput keeps sink outputs open so the pipeline can be restarted
	// and continue writing to the same destination.
	PreserveOutput bool
}

// NodeOption configures a node
type NodeOption func(*Node)

// WithThreads sets the number of input workers
func WithThreads(n int) NodeOption {
	return func(nd *Node) { nd.threads = n }
}

// WithQueueCapacity sets the input queue capacity
func WithQueueCapacity(n int) NodeOption {
	return func(nd *Node) { nd.capacity = n }
}

// WithNodeLogger sets the node logger. Create assigns one when unset.
func WithNodeLogger(l *logging.Logger) NodeOption {
	return func(nd *Node) { nd.logger = l }
}

// WithNodeFatalHandler sets the node fatal handler. Create assigns one when unset.
func WithNodeFatalHandler(h FatalHandler) NodeOption {
	return func(nd *Node) { nd.fatal = h }
}

// Node is one pipeline stage: a bounded input queue drained by a fixed set
// of workers that run a Processor and push results to downstream nodes.
type Node struct {
	name     string
	threads  int
	capacity int
	proc     Processor
	input    *queue.AsyncQueue[message.Message]
	sinks    []*Node
	logger   *logging.Logger
	fatal    FatalHandler

	lifecycle sync.Mutex
	state     atomic.Int32
	wg        sync.WaitGroup

	processed atomic.Int64
	emitted   atomic.Int64
	discarded atomic.Int64
	restarts  atomic.Int64
}

// NewNode creates a node in the Created state
func NewNode(name string, proc Processor, opts ...NodeOption) (*Node, error) {
	n := &Node{
		name:     name,
		threads:  1,
		capacity: DefaultQueueCapacity,
		proc:     proc,
	}
	for _, opt := range opts {
		opt(n)
	}

	if name == "" || proc == nil {
		return nil, fmt.Errorf("%w: node needs a name and a processor", ErrInvalidNode)
	}
	if n.threads < 1 {
		return nil, fmt.Errorf("%w: %s: threads must be at least 1, got %d", ErrInvalidNode, name, n.threads)
	}
	input, err := queue.New[message.Message](n.capacity)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidNode, name, err)
	}
	n.input = input
	return n, nil
}

// Name returns the node name
func (n *Node) Name() string {
	return n.name
}

// Threads returns the number of input workers
func (n *Node) Threads() int {
	return n.threads
}

// State returns the current lifecycle state
func (n *Node) State() State {
	return State(n.state.Load())
}

// Processor returns the wrapped processor
func (n *Node) Processor() Processor {
	return n.proc
}

// Push enqueues msg, blocking under backpressure.
// It fails with queue.ErrTerminated once the node is draining.
func (n *Node) Push(msg message.Message) error {
	if err := n.input.Push(msg); err != nil {
		return fmt.Errorf("%s: %w", n.name, err)
	}
	return nil
}

// Start spawns the input workers. Only valid from Created.
func (n *Node) Start() error {
	n.lifecycle.Lock()
	defer n.lifecycle.Unlock()

	if n.State() != StateCreated {
		return fmt.Errorf("%s: cannot start from state %s", n.name, n.State())
	}
	return n.startLocked()
}

func (n *Node) startLocked() error {
	if n.logger == nil {
		n.logger = logging.NewNop()
	}
	if s, ok := n.proc.(Starter); ok {
		rt := Runtime{
			Name:   n.name,
			Logger: n.logger,
			Emit:   emitter{n},
			Fatal:  n.raise,
		}
		if err := s.Start(rt); err != nil {
			return fmt.Errorf("%s: start: %w", n.name, err)
		}
	}

	n.wg.Add(n.threads)
	for i := 0; i < n.threads; i++ {
		go n.work()
	}
	n.state.Store(int32(StateRunning))
	n.logger.Debug("node started", zap.Int("threads", n.threads))
	return nil
}

func (n *Node) work() {
	defer n.wg.Done()
	emit := emitter{n}
	for {
		msg, ok := n.input.Pop()
		if !ok {
			return
		}
		n.proc.Process(msg, emit)
		n.processed.Add(1)
	}
}

// Terminate closes the input queue, lets the workers finish everything
// already buffered, joins them and then drains the processor. Idempotent.
func (n *Node) Terminate(opts FlushOptions) {
	n.lifecycle.Lock()
	defer n.lifecycle.Unlock()

	switch n.State() {
	case StateTerminated:
		return
	case StateCreated:
		n.input.Terminate()
		n.state.Store(int32(StateTerminated))
		return
	}

	n.state.Store(int32(StateDraining))
	n.input.Terminate()
	n.wg.Wait()

	if d, ok := n.proc.(Drainer); ok {
		if err := d.Drain(opts); err != nil {
			n.logger.Error("drain failed", zap.Error(err))
		}
	}
	n.state.Store(int32(StateTerminated))
	n.logger.Debug("node terminated", zap.Int64("processed", n.processed.Load()))
}

// Restart reopens the input queue and spawns fresh workers.
// The node must be terminated first.
func (n *Node) Restart() error {
	n.lifecycle.Lock()
	defer n.lifecycle.Unlock()

	if n.State() != StateTerminated {
		return fmt.Errorf("%s: %w (state %s)", n.name, ErrNotTerminated, n.State())
	}
	n.state.Store(int32(StateCreated))
	n.input.Restart()
	n.restarts.Add(1)
	return n.startLocked()
}

// Stats returns a snapshot of the node counters, its queue and its processor
func (n *Node) Stats() NamedStats {
	stats := NamedStats{
		"messages_processed": float64(n.processed.Load()),
		"messages_emitted":   float64(n.emitted.Load()),
		"messages_discarded": float64(n.discarded.Load()),
		"worker_threads":     float64(n.threads),
		"restarts":           float64(n.restarts.Load()),
		"state":              float64(n.state.Load()),
	}
	stats.Merge("", n.input.Stats())
	if r, ok := n.proc.(StatsReporter); ok {
		stats.Merge("", r.Stats())
	}
	return stats
}

func (n *Node) raise(err error) {
	if n.fatal == nil {
		n.logger.Fatal("pipeline invariant violated", zap.String("node", n.name), zap.Error(err))
		return
	}
	n.fatal(n.name, err)
}

// emitter pushes processor output into the node's sinks
type emitter struct {
	n *Node
}

func (e emitter) Emit(msg message.Message) {
	e.EmitTo(0, msg)
}

func (e emitter) EmitTo(sink int, msg message.Message) {
	n := e.n
	if sink < 0 || sink >= len(n.sinks) {
		n.discarded.Add(1)
		return
	}
	if err := n.sinks[sink].Push(msg); err != nil {
		n.raise(fmt.Errorf("push from %s: %w", n.name, err))
		return
	}
	n.emitted.Add(1)
}
