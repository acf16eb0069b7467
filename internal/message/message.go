package message

// Kind tags the payload carried by a Message
type Kind uint8

const (
	KindRead Kind = iota + 1
	KindRecord
	KindCorrectionAlignments
	KindCorrectedRead
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindRecord:
		return "record"
	case KindCorrectionAlignments:
		return "correction_alignments"
	case KindCorrectedRead:
		return "corrected_read"
	default:
		return "unknown"
	}
}

// Message is the closed set of payloads a pipeline carries.
// Only types in this package implement it.
type Message interface {
	Kind() Kind
	sealed()
}

// Kinds lists every payload kind, for stages that must account for all of them
func Kinds() []Kind {
	return []Kind{KindRead, KindRecord, KindCorrectionAlignments, KindCorrectedRead}
}

// ReadID returns the identifier of the read a message belongs to
func ReadID(m Message) string {
	switch v := m.(type) {
	case *Read:
		return v.ReadID
	case *Record:
		return v.ReadID
	case *CorrectionAlignments:
		return v.ReadName
	case *CorrectedRead:
		return v.ReadName
	default:
		return ""
	}
}
