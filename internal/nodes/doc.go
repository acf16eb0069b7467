// Package nodes holds the pipeline stages of the basecall and correction
// chains.
//
// Basecall chain:
//
//	Scaler -> Basecaller -> ModBaseCaller -> ReadFilter -> PolyTail ->
//	BarcodeClassifier -> Aligner -> ReadToRecord -> Writer
//
// Correction chain:
//
//	CorrectionMapper -> correction.Processor -> ReadToRecord -> Writer
//	CorrectionMapper -> PafWriter
//
// Every processor forwards message kinds it does not handle and reports its
// own counters through pipeline.StatsReporter. Stages that batch work across
// reads for a model own their worker goroutines and drain them when the
// node terminates.
package nodes
