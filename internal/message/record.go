package message

// Format names a serialized record encoding
type Format string

const (
	FormatFASTQ Format = "fastq"
	FormatFASTA Format = "fasta"
	FormatSAM   Format = "sam"
	FormatJSONL Format = "jsonl"
)

// ParseFormat validates a format name
func ParseFormat(s string) (Format, bool) {
	switch f := Format(s); f {
	case FormatFASTQ, FormatFASTA, FormatSAM, FormatJSONL:
		return f, true
	}
	return "", false
}

// Record is a read serialized for output. Data includes the trailing newline.
type Record struct {
	ReadID string
	Format Format
	Data   []byte
}

func (*Record) Kind() Kind { return KindRecord }
func (*Record) sealed()    {}
