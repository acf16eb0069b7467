// Package hts reads and writes the text formats the pipelines exchange with
// the outside world: FASTA/FASTQ, JSONL raw signal, SAM, JSONL summaries and
// PAF. Inputs may be gzip or zstd compressed; the codec is sniffed from the
// content.
package hts
