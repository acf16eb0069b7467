// Package message defines the payloads that flow between pipeline stages.
//
// Message is a closed union: only the types in this package implement it, and
// each stage dispatches on the concrete type with a type switch. A stage that
// does not handle a kind must forward it unchanged.
//
// Payload kinds:
//   - Read: a raw-signal read, enriched in place by the basecall chain
//   - CorrectionAlignments: a target read plus its aligned supporting reads
//   - CorrectedRead: the result of windowed correction
//   - Record: a read serialized for an output stream
//
// Ownership moves with the message: after a stage pushes a message downstream
// it must not read or modify it again.
package message
