package message

import (
	"fmt"
	"strconv"
	"strings"
)

// CigarOp is a single run-length alignment operation
type CigarOp struct {
	Op  byte // one of MIDNSHP=X
	Len int
}

// ConsumesQuery reports whether the operation advances the query
func (c CigarOp) ConsumesQuery() bool {
	switch c.Op {
	case 'M', 'I', 'S', '=', 'X':
		return true
	}
	return false
}

// ConsumesTarget reports whether the operation advances the target
func (c CigarOp) ConsumesTarget() bool {
	switch c.Op {
	case 'M', 'D', 'N', '=', 'X':
		return true
	}
	return false
}

// ParseCigar parses a SAM-style CIGAR string
func ParseCigar(s string) ([]CigarOp, error) {
	if s == "" || s == "*" {
		return nil, nil
	}
	var ops []CigarOp
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= '0' && c <= '9' {
			continue
		}
		if !strings.ContainsRune("MIDNSHP=X", rune(c)) {
			return nil, fmt.Errorf("invalid cigar op %q in %q", c, s)
		}
		n, err := strconv.Atoi(s[start:i])
		if err != nil {
			return nil, fmt.Errorf("invalid cigar length in %q: %w", s, err)
		}
		ops = append(ops, CigarOp{Op: c, Len: n})
		start = i + 1
	}
	if start != len(s) {
		return nil, fmt.Errorf("trailing cigar length in %q", s)
	}
	return ops, nil
}

// FormatCigar renders ops as a SAM-style CIGAR string
func FormatCigar(ops []CigarOp) string {
	if len(ops) == 0 {
		return "*"
	}
	var sb strings.Builder
	for _, op := range ops {
		sb.WriteString(strconv.Itoa(op.Len))
		sb.WriteByte(op.Op)
	}
	return sb.String()
}

// Overlap is one supporting read aligned against a target read
type Overlap struct {
	QName   string
	QStart  int
	QEnd    int
	QLen    int
	TStart  int
	TEnd    int
	TLen    int
	Forward bool
	Cigar   []CigarOp
	Seq     string // supporting read, original orientation
	Qual    string
}

// CorrectionAlignments bundles a target read with its aligned supporting reads
type CorrectionAlignments struct {
	ReadName string
	Seq      string
	Qual     string
	Overlaps []Overlap
}

func (*CorrectionAlignments) Kind() Kind { return KindCorrectionAlignments }
func (*CorrectionAlignments) sealed()    {}

// CorrectionStatus describes how much of a read was corrected
type CorrectionStatus int

const (
	StatusCorrected CorrectionStatus = iota
	StatusPartial
	StatusNotCorrected
)

// String returns the string representation of the status
func (s CorrectionStatus) String() string {
	switch s {
	case StatusCorrected:
		return "corrected"
	case StatusPartial:
		return "partial"
	case StatusNotCorrected:
		return "not_corrected"
	default:
		return "unknown"
	}
}

// CorrectedRead is the output of the windowed correction stage
type CorrectedRead struct {
	ReadName         string
	Seq              string
	Qual             string
	Status           CorrectionStatus
	Reason           string
	Windows          int
	FailedWindows    int
	UncorrectedSpans []Interval // target coordinates left as input
}

func (*CorrectedRead) Kind() Kind { return KindCorrectedRead }
func (*CorrectedRead) sealed()    {}
