// Command readpipe basecalls, filters, demultiplexes, aligns and corrects
// sequencing reads through a bounded streaming pipeline.
//
// Usage:
//
//	readpipe basecall [flags] <signals.jsonl|dir|reads.fastq ...>
//	readpipe correct [flags] <reads.fastq>
//
// Exit codes: 0 on success, 2 for configuration errors, 3 for runtime
// failures including interruption.
package main
