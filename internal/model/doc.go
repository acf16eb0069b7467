// Package model defines the call contracts between the pipeline and the
// neural models it drives, plus implementations of them.
//
// Three model kinds are used:
//   - Basecaller: chunks of scaled signal to bases, qualities and move tables
//   - ModBaseCaller: called reads to per-base modification probabilities
//   - Corrector: pileup windows to per-column consensus predictions
//
// Every call is batched and order preserving: result i belongs to input i,
// and a result count that differs from the input count is an error.
//
// The local implementations (LevelBasecaller, MotifModCaller,
// MajorityCorrector) are deterministic and need no accelerator. RemoteClient
// implements all three against a model service speaking JSON over HTTP:
//
//	POST /v1/basecall  {"model": ..., "chunks": [[...]]}   -> {"results": [...]}
//	POST /v1/modbase   {"model": ..., "reads": [...]}      -> {"probs": [...]}
//	POST /v1/correct   {"model": ..., "windows": [...]}    -> {"predictions": [...]}
//	GET  /v1/info?model=...                                 -> {"model", "stride", "modbase"}
//
// Callers serialize model calls per device with accel.Locks.
package model
