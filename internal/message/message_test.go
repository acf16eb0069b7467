package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKinds(t *testing.T) {
	tests := []struct {
		msg  Message
		kind Kind
		name string
	}{
		{&Read{ReadID: "r1"}, KindRead, "read"},
		{&Record{ReadID: "r2"}, KindRecord, "record"},
		{&CorrectionAlignments{ReadName: "r3"}, KindCorrectionAlignments, "correction_alignments"},
		{&CorrectedRead{ReadName: "r4"}, KindCorrectedRead, "corrected_read"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, tt.msg.Kind())
			assert.Equal(t, tt.name, tt.msg.Kind().String())
			assert.NotEmpty(t, ReadID(tt.msg))
		})
	}
	assert.Len(t, Kinds(), 4)
	assert.Equal(t, "unknown", Kind(0).String())
}

func TestReverseComplement(t *testing.T) {
	assert.Equal(t, "ACGT", ReverseComplement("ACGT"))
	assert.Equal(t, "TTTGCA", ReverseComplement("TGCAAA"))
	assert.Equal(t, "nN", ReverseComplement("Nn"))
	assert.Equal(t, "", ReverseComplement(""))
	assert.Equal(t, "cba", Reverse("abc"))
}

func TestPhred(t *testing.T) {
	assert.InDelta(t, 0.1, PhredToErrorProb('+'), 1e-9) // q10
	assert.InDelta(t, 20.0, ErrorProbToPhred(0.01), 1e-9)
	assert.Equal(t, byte('!'), PhredChar(-4))
	assert.Equal(t, byte('~'), PhredChar(200))
	assert.Equal(t, "+++", UniformQual(3, 10))
}

func TestMeanQScore(t *testing.T) {
	r := &Read{Qual: UniformQual(100, 20)}
	assert.InDelta(t, 20.0, r.MeanQScore(), 1e-6)

	short := &Read{Qual: UniformQual(10, 30)}
	assert.InDelta(t, 30.0, short.MeanQScore(), 1e-6)

	assert.Equal(t, 0.0, (&Read{}).MeanQScore())
}

func TestParseCigar(t *testing.T) {
	ops, err := ParseCigar("10M2I3D5=1X")
	require.NoError(t, err)
	assert.Equal(t, []CigarOp{
		{Op: 'M', Len: 10}, {Op: 'I', Len: 2}, {Op: 'D', Len: 3}, {Op: '=', Len: 5}, {Op: 'X', Len: 1},
	}, ops)
	assert.Equal(t, "10M2I3D5=1X", FormatCigar(ops))

	ops, err = ParseCigar("*")
	require.NoError(t, err)
	assert.Nil(t, ops)
	assert.Equal(t, "*", FormatCigar(nil))

	_, err = ParseCigar("10Q")
	assert.Error(t, err)
	_, err = ParseCigar("M")
	assert.Error(t, err)
	_, err = ParseCigar("10M5")
	assert.Error(t, err)
}

func TestCigarConsumes(t *testing.T) {
	assert.True(t, CigarOp{Op: 'M'}.ConsumesQuery())
	assert.True(t, CigarOp{Op: 'M'}.ConsumesTarget())
	assert.True(t, CigarOp{Op: 'I'}.ConsumesQuery())
	assert.False(t, CigarOp{Op: 'I'}.ConsumesTarget())
	assert.False(t, CigarOp{Op: 'D'}.ConsumesQuery())
	assert.True(t, CigarOp{Op: 'D'}.ConsumesTarget())
}

func TestTrimHelpers(t *testing.T) {
	assert.Equal(t, "CGT", TrimSequence("ACGTA", Interval{Start: 1, End: 4}))
	assert.Equal(t, "ACGTA", TrimSequence("ACGTA", Interval{Start: -2, End: 40}))
	assert.Equal(t, []uint8{2, 3}, TrimQuality([]uint8{1, 2, 3, 4}, Interval{Start: 1, End: 3}))

	// five bases: moves 1 0 1 1 0 0 1 0 1
	moves := []uint8{1, 0, 1, 1, 0, 0, 1, 0, 1}
	dropped, trimmed := TrimMoveTable(moves, Interval{Start: 1, End: 4})
	assert.Equal(t, 2, dropped)
	assert.Equal(t, []uint8{1, 1, 0, 0, 1, 0}, trimmed)

	dropped, trimmed = TrimMoveTable(nil, Interval{Start: 0, End: 1})
	assert.Equal(t, 0, dropped)
	assert.Nil(t, trimmed)
}

func TestParseFormat(t *testing.T) {
	f, ok := ParseFormat("sam")
	assert.True(t, ok)
	assert.Equal(t, FormatSAM, f)

	_, ok = ParseFormat("bam")
	assert.False(t, ok)
}

func TestIntervalLen(t *testing.T) {
	assert.Equal(t, 3, Interval{Start: 2, End: 5}.Len())
	assert.Equal(t, 0, Interval{Start: 5, End: 2}.Len())
}

func TestBaseSpans(t *testing.T) {
	// three bases over six blocks of stride 2
	spans := BaseSpans([]uint8{1, 0, 1, 1, 0, 0}, 2, 12)
	assert.Equal(t, []Interval{{Start: 0, End: 4}, {Start: 4, End: 6}, {Start: 6, End: 12}}, spans)

	// signal shorter than the table clamps the last span
	spans = BaseSpans([]uint8{1, 1}, 5, 7)
	assert.Equal(t, []Interval{{Start: 0, End: 5}, {Start: 5, End: 7}}, spans)

	assert.Nil(t, BaseSpans(nil, 5, 10))
}
