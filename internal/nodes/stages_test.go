package nodes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/readpipe/internal/align"
	"github.com/GriffinCanCode/readpipe/internal/barcode"
	"github.com/GriffinCanCode/readpipe/internal/filter"
	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/model"
	"github.com/GriffinCanCode/readpipe/internal/model/accel"
	"github.com/GriffinCanCode/readpipe/internal/polytail"
)

func TestReadFilter(t *testing.T) {
	expr, err := filter.Compile(`read.id != "scripted"`, time.Second)
	require.NoError(t, err)
	f := NewReadFilter(filter.Criteria{
		MinLength: 5,
		Exclude:   map[string]struct{}{"banned": {}},
		Expr:      expr,
	})

	sink, stats := run(t, f,
		&message.Read{ReadID: "short", Seq: "ACG"},
		&message.Read{ReadID: "banned", Seq: "ACGTACGT"},
		&message.Read{ReadID: "scripted", Seq: "ACGTACGT"},
		&message.Read{ReadID: "kept", Seq: "ACGTACGT"},
		&message.Record{ReadID: "rec"},
	)

	assert.Len(t, sink.all(), 2)
	assert.Contains(t, sink.reads(), "kept")
	assert.Equal(t, 1.0, stats["reads_passed"])
	assert.Equal(t, 3.0, stats["reads_filtered"])
	assert.Equal(t, 1.0, stats["filtered_length"])
	assert.Equal(t, 1.0, stats["filtered_excluded"])
	assert.Equal(t, 1.0, stats["filtered_expression"])
	assert.Equal(t, 0.0, stats["filter_errors"])
}

func TestReadFilterKeepsReadOnExpressionError(t *testing.T) {
	expr, err := filter.Compile(`read.missing.field > 1`, time.Second)
	require.NoError(t, err)

	sink, stats := run(t, NewReadFilter(filter.Criteria{Expr: expr}),
		&message.Read{ReadID: "r1", Seq: "ACGT"})
	assert.Contains(t, sink.reads(), "r1")
	assert.Equal(t, 1.0, stats["filter_errors"])
}

func TestPolyTail(t *testing.T) {
	body := strings.Repeat("GC", 50)
	sink, stats := run(t, NewPolyTail(polytail.DefaultConfig(), true),
		&message.Read{ReadID: "tailed", Seq: body + strings.Repeat("A", 25)},
		&message.Read{ReadID: "bare", Seq: body},
	)

	reads := sink.reads()
	assert.Equal(t, 25, reads["tailed"].PolyTailLength)
	assert.Equal(t, 0, reads["bare"].PolyTailLength)
	assert.Equal(t, 1.0, stats["reads_estimated"])
	assert.Equal(t, 1.0, stats["reads_not_found"])
	assert.Equal(t, 25.0, stats["mean_tail_length"])
}

func mustKit(t *testing.T, name string) *barcode.Kit {
	t.Helper()
	reg, err := barcode.NewRegistry()
	require.NoError(t, err)
	kit, err := reg.Get(name)
	require.NoError(t, err)
	return kit
}

func TestBarcodeClassifierTrims(t *testing.T) {
	kit := mustKit(t, "SQK-RBK114-4")
	insert := randomBases(300, 5)
	seq := kit.TopFront + kit.Barcodes[2].Sequence + kit.TopRear + insert

	sink, stats := run(t, NewBarcodeClassifier(kit, barcode.Options{}, false),
		&message.Read{ReadID: "bc", Seq: seq, Qual: message.UniformQual(len(seq), 20)},
		&message.Read{ReadID: "none", Seq: randomBases(400, 6)},
	)

	reads := sink.reads()
	bc := reads["bc"]
	assert.Equal(t, "SQK-RBK114-4_barcode03", bc.Barcode)
	assert.Equal(t, len(seq), bc.PreTrimSeqLength)
	assert.Equal(t, message.Interval{Start: 40, End: len(seq)}, bc.BarcodeTrim)
	assert.Equal(t, insert, bc.Seq)
	assert.Len(t, bc.Qual, len(insert))
	require.NotNil(t, bc.BarcodeResult)

	none := reads["none"]
	assert.Equal(t, barcode.Unclassified, none.Barcode)
	assert.Len(t, none.Seq, 400)

	assert.Equal(t, 1.0, stats["num_barcodes_demuxed"])
	assert.Equal(t, 1.0, stats["reads_unclassified"])
	assert.Equal(t, 1.0, stats["barcode_SQK-RBK114-4_barcode03"])
	assert.Equal(t, 1.0, stats["barcode_unclassified"])
}

func TestBarcodeClassifierNoTrim(t *testing.T) {
	kit := mustKit(t, "SQK-RBK114-4")
	seq := kit.TopFront + kit.Barcodes[0].Sequence + kit.TopRear + randomBases(300, 7)

	sink, stats := run(t, NewBarcodeClassifier(kit, barcode.Options{}, true),
		&message.Read{ReadID: "bc", Seq: seq})
	bc := sink.reads()["bc"]
	assert.Equal(t, "SQK-RBK114-4_barcode01", bc.Barcode)
	assert.Equal(t, seq, bc.Seq)
	assert.Equal(t, 0.0, stats["reads_trimmed"])
}

func TestAlignerStage(t *testing.T) {
	ref := randomBases(2000, 11)
	idx, err := align.NewIndex([]align.Target{{Name: "chr1", Seq: ref}}, 15)
	require.NoError(t, err)

	sink, stats := run(t, NewAligner(idx, align.DefaultOptions()),
		&message.Read{ReadID: "hit", Seq: ref[300:700]},
		&message.Read{ReadID: "miss", Seq: randomBases(400, 12)},
	)
	reads := sink.reads()
	require.Len(t, reads["hit"].Alignments, 1)
	assert.Equal(t, "chr1", reads["hit"].Alignments[0].RefName)
	assert.Equal(t, 300, reads["hit"].Alignments[0].RefStart)
	assert.Empty(t, reads["miss"].Alignments)
	assert.Equal(t, 1.0, stats["reads_mapped"])
	assert.Equal(t, 1.0, stats["reads_unmapped"])
}

// failingMods always errors
type failingMods struct{ model.ModBaseCaller }

func (f failingMods) CallMods(context.Context, []model.ModBaseInput) ([][]uint8, error) {
	return nil, errors.New("model unavailable")
}

func modRead(id, seq string) *message.Read {
	moves := make([]uint8, 2*len(seq))
	for i := range seq {
		moves[2*i] = 1
	}
	signal := make([]float32, len(moves)*5)
	for i := range signal {
		signal[i] = 2
	}
	return &message.Read{ReadID: id, Seq: seq, Moves: moves, ModelStride: 5, Signal: signal}
}

func TestModBaseCaller(t *testing.T) {
	caller, err := model.NewMotifModCaller("cpg", "CG", 0, 'm')
	require.NoError(t, err)
	stage, err := NewModBaseCaller(caller, ModBaseOptions{BatchSize: 3, BatchTimeout: 5 * time.Millisecond, Locks: &accel.Locks{}})
	require.NoError(t, err)

	var msgs []message.Message
	for i := 0; i < 5; i++ {
		msgs = append(msgs, modRead(fmt.Sprintf("r%d", i), "AACGTT"))
	}
	msgs = append(msgs, &message.Read{ReadID: "uncalled", Seq: "ACGT"})
	sink, stats := run(t, stage, msgs...)

	reads := sink.reads()
	require.Len(t, reads, 6)
	r := reads["r0"]
	require.NotNil(t, r.ModBaseInfo)
	assert.Equal(t, "ACGTm", r.ModBaseInfo.Alphabet)
	require.Len(t, r.ModBaseProbs, 6*5)
	// the C of CG carries the modified channel
	assert.Greater(t, r.ModBaseProbs[2*5+4], uint8(0))
	assert.Equal(t, uint8(255), r.ModBaseProbs[0])

	assert.Nil(t, reads["uncalled"].ModBaseInfo)
	assert.Equal(t, 5.0, stats["reads_modcalled"])
	assert.Equal(t, 1.0, stats["reads_skipped"])
}

func TestModBaseCallerFailureKeepsReads(t *testing.T) {
	caller, err := model.NewMotifModCaller("cpg", "CG", 0, 'm')
	require.NoError(t, err)
	stage, err := NewModBaseCaller(failingMods{caller}, ModBaseOptions{BatchSize: 2, Locks: &accel.Locks{}})
	require.NoError(t, err)

	sink, stats := run(t, stage, modRead("r1", "ACGT"), modRead("r2", "CGCG"))
	reads := sink.reads()
	require.Len(t, reads, 2)
	assert.Nil(t, reads["r1"].ModBaseProbs)
	assert.Equal(t, 2.0, stats["reads_failed"])
}

func TestReverseRows(t *testing.T) {
	p := []uint8{1, 2, 3, 4, 5, 6}
	reverseRows(p, 2)
	assert.Equal(t, []uint8{5, 6, 3, 4, 1, 2}, p)
}
