package hts

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/GriffinCanCode/readpipe/internal/message"
)

// SAM flags used by the encoders.
const (
	flagReverse   = 0x10
	flagUnmapped  = 0x4
	flagSecondary = 0x100
)

// EncodeOptions tunes record rendering.
type EncodeOptions struct {
	EmitMoves bool
}

// EncodeRead serialises a basecalled read in the given format.
func EncodeRead(r *message.Read, format message.Format, opts EncodeOptions) ([]byte, error) {
	switch format {
	case message.FormatFASTQ:
		return fastq(r.ReadID, readDesc(r), r.Seq, r.Qual), nil
	case message.FormatFASTA:
		return fasta(r.ReadID, readDesc(r), r.Seq), nil
	case message.FormatSAM:
		return samRead(r, opts), nil
	case message.FormatJSONL:
		return jsonLine(SummarizeRead(r))
	default:
		return nil, fmt.Errorf("%w: cannot encode %q", ErrFormat, format)
	}
}

// EncodeCorrected serialises a corrected read in the given format.
func EncodeCorrected(r *message.CorrectedRead, format message.Format) ([]byte, error) {
	desc := "status=" + r.Status.String()
	switch format {
	case message.FormatFASTQ:
		qual := r.Qual
		if len(qual) != len(r.Seq) {
			qual = message.UniformQual(len(r.Seq), 10)
		}
		return fastq(r.ReadName, desc, r.Seq, qual), nil
	case message.FormatFASTA:
		return fasta(r.ReadName, desc, r.Seq), nil
	case message.FormatSAM:
		var b bytes.Buffer
		writeSAMFields(&b, r.ReadName, flagUnmapped, "*", 0, 0, "*", r.Seq, r.Qual)
		fmt.Fprintf(&b, "\tcs:Z:%s\tcw:i:%d\n", r.Status, r.Windows)
		return b.Bytes(), nil
	case message.FormatJSONL:
		return jsonLine(SummarizeCorrected(r))
	default:
		return nil, fmt.Errorf("%w: cannot encode %q", ErrFormat, format)
	}
}

func readDesc(r *message.Read) string {
	var parts []string
	if r.RunID != "" {
		parts = append(parts, "runid="+r.RunID)
	}
	if r.Channel > 0 {
		parts = append(parts, "ch="+strconv.Itoa(r.Channel))
	}
	if !r.StartTime.IsZero() {
		parts = append(parts, "start_time="+r.StartTime.UTC().Format(time.RFC3339Nano))
	}
	if r.Barcode != "" {
		parts = append(parts, "barcode="+r.Barcode)
	}
	return strings.Join(parts, " ")
}

func fastq(id, desc, seq, qual string) []byte {
	var b bytes.Buffer
	b.Grow(len(id) + len(desc) + 2*len(seq) + 8)
	b.WriteByte('@')
	b.WriteString(id)
	if desc != "" {
		b.WriteByte(' ')
		b.WriteString(desc)
	}
	b.WriteByte('\n')
	b.WriteString(seq)
	b.WriteString("\n+\n")
	b.WriteString(qual)
	b.WriteByte('\n')
	return b.Bytes()
}

func fasta(id, desc, seq string) []byte {
	var b bytes.Buffer
	b.WriteByte('>')
	b.WriteString(id)
	if desc != "" {
		b.WriteByte(' ')
		b.WriteString(desc)
	}
	b.WriteByte('\n')
	b.WriteString(seq)
	b.WriteByte('\n')
	return b.Bytes()
}

// samRead writes the primary line, or one line per placement for aligned
// reads. Secondary placements carry no sequence.
func samRead(r *message.Read, opts EncodeOptions) []byte {
	var b bytes.Buffer
	tags := readTags(r, opts)

	if len(r.Alignments) == 0 {
		writeSAMFields(&b, r.ReadID, flagUnmapped, "*", 0, 0, "*", r.Seq, r.Qual)
		b.WriteString(tags)
		b.WriteByte('\n')
		return b.Bytes()
	}

	for i, aln := range r.Alignments {
		flag := 0
		seq, qual := r.Seq, r.Qual
		if aln.Reverse {
			flag |= flagReverse
			seq, qual = message.ReverseComplement(seq), message.Reverse(qual)
		}
		if i > 0 {
			flag |= flagSecondary
			seq, qual = "*", "*"
		}
		writeSAMFields(&b, r.ReadID, flag, aln.RefName, aln.RefStart+1, aln.MapQ, aln.Cigar, seq, qual)
		fmt.Fprintf(&b, "\tNM:i:%d", aln.EditCount)
		b.WriteString(tags)
		b.WriteByte('\n')
	}
	return b.Bytes()
}

func writeSAMFields(b *bytes.Buffer, name string, flag int, ref string, pos, mapq int, cigar, seq, qual string) {
	if seq == "" {
		seq = "*"
	}
	if qual == "" || len(qual) != len(seq) {
		qual = "*"
	}
	fmt.Fprintf(b, "%s\t%d\t%s\t%d\t%d\t%s\t*\t0\t0\t%s\t%s", name, flag, ref, pos, mapq, cigar, seq, qual)
}

func readTags(r *message.Read, opts EncodeOptions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "\tqs:f:%.2f", r.MeanQScore())
	if len(r.Signal) > 0 || r.NumTrimmedSamples > 0 {
		fmt.Fprintf(&b, "\tns:i:%d\tts:i:%d", len(r.Signal)+r.NumTrimmedSamples, r.NumTrimmedSamples)
	}
	if r.Channel > 0 {
		fmt.Fprintf(&b, "\tch:i:%d", r.Channel)
	}
	if !r.StartTime.IsZero() {
		fmt.Fprintf(&b, "\tst:Z:%s", r.StartTime.UTC().Format(time.RFC3339Nano))
	}
	if r.BasecallDuration > 0 {
		fmt.Fprintf(&b, "\tdu:f:%.4f", r.BasecallDuration.Seconds())
	}
	if r.Scale != 0 {
		fmt.Fprintf(&b, "\tsm:f:%g\tsd:f:%g\tsv:Z:med_mad", r.Shift, r.Scale)
	}
	if r.ReadGroup != "" {
		fmt.Fprintf(&b, "\tRG:Z:%s", r.ReadGroup)
	}
	if r.Barcode != "" {
		fmt.Fprintf(&b, "\tBC:Z:%s", r.Barcode)
	}
	if r.PolyTailLength > 0 {
		fmt.Fprintf(&b, "\tpt:i:%d", r.PolyTailLength)
	}
	if opts.EmitMoves && len(r.Moves) > 0 {
		b.WriteString("\tmv:B:c,")
		b.WriteString(strconv.Itoa(r.ModelStride))
		for _, m := range r.Moves {
			b.WriteByte(',')
			b.WriteByte('0' + m)
		}
	}
	if r.ModBaseInfo != nil && len(r.ModBaseProbs) > 0 {
		mm, ml := ModTags(r.Seq, *r.ModBaseInfo, r.ModBaseProbs)
		if mm != "" {
			b.WriteString("\tMM:Z:")
			b.WriteString(mm)
			b.WriteString("\tML:B:C")
			for _, p := range ml {
				b.WriteByte(',')
				b.WriteString(strconv.Itoa(int(p)))
			}
		}
	}
	return b.String()
}

// ModTags renders a per-base probability table as SAM MM/ML values. Every
// channel past the canonical four is reported against the motif's modified
// base; positions with no probability mass on the mod channel are skipped.
func ModTags(seq string, info message.ModBaseInfo, probs []uint8) (string, []uint8) {
	channels := len(info.Alphabet)
	if channels <= 4 || len(probs) != len(seq)*channels {
		return "", nil
	}
	canon, ok := motifBase(info.Motif)
	if !ok {
		return "", nil
	}

	var mm strings.Builder
	var ml []uint8
	for ch := 4; ch < channels; ch++ {
		fmt.Fprintf(&mm, "%c+%c?", canon, info.Alphabet[ch])
		skip := 0
		for i := 0; i < len(seq); i++ {
			if upper(seq[i]) != canon {
				continue
			}
			p := probs[i*channels+ch]
			if p == 0 {
				skip++
				continue
			}
			fmt.Fprintf(&mm, ",%d", skip)
			ml = append(ml, p)
			skip = 0
		}
		mm.WriteByte(';')
	}
	return mm.String(), ml
}

// motifBase returns the modified base of a "MOTIF:offset" description.
func motifBase(motif string) (byte, bool) {
	seq, off, ok := strings.Cut(motif, ":")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(off)
	if err != nil || n < 0 || n >= len(seq) {
		return 0, false
	}
	return upper(seq[n]), true
}

func upper(b byte) byte {
	if b >= 'a' && b <= 'z' {
		return b - 'a' + 'A'
	}
	return b
}

// SAMHeader renders the header for reads aligned to contigs. Unaligned
// output passes nil.
func SAMHeader(contigs []Contig, program, commandLine string) []byte {
	var b bytes.Buffer
	b.WriteString("@HD\tVN:1.6\tSO:unknown\n")
	for _, c := range contigs {
		fmt.Fprintf(&b, "@SQ\tSN:%s\tLN:%d\n", c.Name, len(c.Seq))
	}
	fmt.Fprintf(&b, "@PG\tID:%s\tPN:%s", program, program)
	if commandLine != "" {
		fmt.Fprintf(&b, "\tCL:%s", commandLine)
	}
	b.WriteByte('\n')
	return b.Bytes()
}

// ReadSummary is the JSONL rendering of a basecalled read.
type ReadSummary struct {
	ReadID         string    `json:"read_id"`
	RunID          string    `json:"run_id,omitempty"`
	Channel        int       `json:"channel,omitempty"`
	StartTime      time.Time `json:"start_time"`
	DurationMS     float64   `json:"basecall_ms,omitempty"`
	SequenceLength int       `json:"sequence_length"`
	MeanQScore     float64   `json:"mean_qscore"`
	Barcode        string    `json:"barcode,omitempty"`
	BarcodeScore   float64   `json:"barcode_score,omitempty"`
	PolyTailLength int       `json:"poly_tail_length,omitempty"`
	RefName        string    `json:"ref_name,omitempty"`
	RefStart       int       `json:"ref_start,omitempty"`
	RefEnd         int       `json:"ref_end,omitempty"`
	Strand         string    `json:"strand,omitempty"`
	MapQ           int       `json:"mapq,omitempty"`
	CalledBy       string    `json:"model,omitempty"`
	Seq            string    `json:"seq"`
	Qual           string    `json:"qual"`
}

// SummarizeRead collects the reported fields of a read.
func SummarizeRead(r *message.Read) ReadSummary {
	s := ReadSummary{
		ReadID:         r.ReadID,
		RunID:          r.RunID,
		Channel:        r.Channel,
		StartTime:      r.StartTime,
		DurationMS:     float64(r.BasecallDuration.Microseconds()) / 1000,
		SequenceLength: len(r.Seq),
		MeanQScore:     r.MeanQScore(),
		Barcode:        r.Barcode,
		PolyTailLength: r.PolyTailLength,
		CalledBy:       r.CalledBy,
		Seq:            r.Seq,
		Qual:           r.Qual,
	}
	if r.BarcodeResult != nil {
		s.BarcodeScore = r.BarcodeResult.Score
	}
	if len(r.Alignments) > 0 {
		a := r.Alignments[0]
		s.RefName, s.RefStart, s.RefEnd, s.MapQ = a.RefName, a.RefStart, a.RefEnd, a.MapQ
		s.Strand = "+"
		if a.Reverse {
			s.Strand = "-"
		}
	}
	return s
}

// CorrectedSummary is the JSONL rendering of a corrected read.
type CorrectedSummary struct {
	ReadName         string             `json:"read_name"`
	Status           string             `json:"status"`
	Reason           string             `json:"reason,omitempty"`
	Windows          int                `json:"windows"`
	FailedWindows    int                `json:"failed_windows"`
	UncorrectedSpans []message.Interval `json:"uncorrected_spans,omitempty"`
	Seq              string             `json:"seq"`
	Qual             string             `json:"qual,omitempty"`
}

// SummarizeCorrected collects the reported fields of a corrected read.
func SummarizeCorrected(r *message.CorrectedRead) CorrectedSummary {
	return CorrectedSummary{
		ReadName:         r.ReadName,
		Status:           r.Status.String(),
		Reason:           r.Reason,
		Windows:          r.Windows,
		FailedWindows:    r.FailedWindows,
		UncorrectedSpans: r.UncorrectedSpans,
		Seq:              r.Seq,
		Qual:             r.Qual,
	}
}

func jsonLine(v any) ([]byte, error) {
	data, err := sonic.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode json: %w", err)
	}
	return append(data, '\n'), nil
}
