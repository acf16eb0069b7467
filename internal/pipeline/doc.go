// Package pipeline runs a graph of processing stages connected by bounded queues.
//
// A Node owns an input queue and a fixed number of worker goroutines. Each
// worker pops a message, hands it to the node's Processor and pushes whatever
// the processor emits into a downstream node's queue. A full downstream queue
// blocks the emitting worker, so backpressure travels upstream through the
// whole graph.
//
// Node lifecycle:
//
//	Created -> Running -> Draining -> Terminated
//	Terminated -> Created -> Running   (Restart)
//
// A Pipeline is built from a Descriptor. Nodes are added leaves first and
// name their sinks by handle, so the node added last is the single entry point:
//
//	desc := pipeline.NewDescriptor()
//	writer := desc.AddNode(writerNode)
//	toRecord := desc.AddNode(recordNode, writer)
//	desc.AddNode(scalerNode, toRecord)
//
//	p, err := pipeline.Create(desc, pipeline.WithLogger(logger))
//	if err != nil {
//		return err
//	}
//	for read := range reads {
//		if err := p.PushMessage(read); err != nil {
//			break
//		}
//	}
//	stats := p.Terminate(pipeline.FlushOptions{})
//
// Terminate always drains. It closes the entry node, waits for its workers,
// then moves on to the next node in reverse construction order.
//
// Pool exhaustion and pushes into an already terminated queue mean the
// pipeline was sized or shut down wrongly. Both go to the FatalHandler,
// which by default logs at Fatal level and exits.
package pipeline
