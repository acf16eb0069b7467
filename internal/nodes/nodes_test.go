package nodes

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/pipeline"
)

// collector is a terminal processor recording every message it receives
type collector struct {
	mu   sync.Mutex
	msgs []message.Message
}

func (c *collector) Process(msg message.Message, _ pipeline.Emitter) {
	c.mu.Lock()
	c.msgs = append(c.msgs, msg)
	c.mu.Unlock()
}

func (c *collector) all() []message.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]message.Message(nil), c.msgs...)
}

func (c *collector) reads() map[string]*message.Read {
	out := make(map[string]*message.Read)
	for _, m := range c.all() {
		if r, ok := m.(*message.Read); ok {
			out[r.ReadID] = r
		}
	}
	return out
}

// run pushes msgs through a single stage followed by a collector and
// returns what arrived with the terminated stage's stats
func run(t *testing.T, proc pipeline.Processor, msgs ...message.Message) (*collector, pipeline.NamedStats) {
	t.Helper()
	sink := &collector{}
	desc := pipeline.NewDescriptor()
	h := desc.AddNode(mustNode(t, "sink", sink))
	desc.AddNode(mustNode(t, "stage", proc, pipeline.WithThreads(2)), h)

	p, err := pipeline.Create(desc, pipeline.WithFatalHandler(func(node string, err error) {
		t.Errorf("fatal in %s: %v", node, err)
	}))
	require.NoError(t, err)
	for _, m := range msgs {
		require.NoError(t, p.PushMessage(m))
	}
	stats := p.Terminate(pipeline.FlushOptions{})

	stage := make(pipeline.NamedStats)
	for k, v := range stats {
		if node, stat := pipeline.Split(k); node == "stage" {
			stage[stat] = v
		}
	}
	return sink, stage
}

func mustNode(t *testing.T, name string, proc pipeline.Processor, opts ...pipeline.NodeOption) *pipeline.Node {
	t.Helper()
	n, err := pipeline.NewNode(name, proc, opts...)
	require.NoError(t, err)
	return n
}

func randomBases(n int, seed int64) string {
	rng := rand.New(rand.NewSource(seed))
	b := make([]byte, n)
	for i := range b {
		b[i] = "ACGT"[rng.Intn(4)]
	}
	return string(b)
}
