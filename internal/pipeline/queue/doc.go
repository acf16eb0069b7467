// Package queue provides the bounded blocking queue that connects pipeline stages.
//
// AsyncQueue is a fixed-capacity FIFO shared by any number of producers and
// consumers. A full queue blocks producers, which is how backpressure travels
// upstream through a pipeline. Terminate closes the queue for input while
// consumers keep draining what is already buffered.
//
// Example Usage:
//
//	q := queue.MustNew[*message.Read](1000)
//	go func() {
//		for {
//			read, ok := q.Pop()
//			if !ok {
//				return
//			}
//			process(read)
//		}
//	}()
//	_ = q.Push(read)
//	q.Terminate()
package queue
