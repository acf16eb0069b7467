// Package correction implements windowed read correction on top of the
// pipeline primitives.
//
// One input read fans out into windows of WindowSize target bases and fans
// back in to exactly one CorrectedRead:
//
//	node workers      feature queue      inference workers      inferred queue      decode workers
//	(Process)   --->  [*window]    --->  batch, lock device --->  [*window]   --->  decode, release,
//	plan + fill                          Corrector.Infer                            complete + emit
//
// Each usable window owns one base buffer and one quality buffer from two
// fixed pools for its whole trip; decode returns them. The pools are sized
// from the queue capacities and worker counts so a correctly configured
// stage can never run out. Running out anyway, or pushing into a closed
// internal queue, goes to the pipeline fatal handler.
//
// A read is registered in the completion map, with its count of usable
// windows, before the first of them is queued. The decode worker that
// completes the last window sorts the results by window index and emits the
// read. Windows without enough supporting reads, and windows whose
// inference or decode failed, keep their input bases and are reported in
// UncorrectedSpans. Reads that are too short or have no usable window pass
// through as NotCorrected.
package correction
