package app

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/readpipe/internal/hts"
	"github.com/GriffinCanCode/readpipe/internal/infrastructure/config"
	"github.com/GriffinCanCode/readpipe/internal/message"
	"github.com/GriffinCanCode/readpipe/internal/shared/id"
)

// testConfig returns a small, fast configuration writing to dir
func testConfig(t *testing.T, dir string) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Pipeline.Threads = 2
	cfg.Pipeline.QueueCapacity = 16
	cfg.Basecall.ChunkSize = 200
	cfg.Basecall.Overlap = 50
	cfg.Basecall.BatchSize = 4
	cfg.Basecall.BatchTimeout = 5 * time.Millisecond
	cfg.Correction.WindowSize = 400
	cfg.Correction.MinOverlap = 200
	cfg.Correction.BatchTimeout = 5 * time.Millisecond
	cfg.Correction.FeatureQueue = 8
	cfg.Correction.InferredQueue = 8
	cfg.Correction.BatchSize = 4
	cfg.Output.Path = filepath.Join(dir, "out")
	return cfg
}

// signalRead builds a signal stepping between four current levels
func signalRead(rng *rand.Rand, readID string, samples int) hts.SignalRecord {
	levels := []float32{70, 90, 110, 130}
	sig := make([]float32, 0, samples)
	for len(sig) < samples {
		level := levels[rng.Intn(len(levels))]
		for i := 0; i < 10 && len(sig) < samples; i++ {
			sig = append(sig, level+float32(rng.NormFloat64()))
		}
	}
	return hts.SignalRecord{ReadID: readID, Signal: sig}
}

func writeSignals(t *testing.T, path string, n, samples int) []string {
	t.Helper()
	rng := rand.New(rand.NewSource(7))
	var buf bytes.Buffer
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("read_%03d", i)
		line, err := sonic.Marshal(signalRead(rng, ids[i], samples+i*37))
		require.NoError(t, err)
		buf.Write(line)
		buf.WriteByte('\n')
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return ids
}

func randomBases(rng *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = "ACGT"[rng.Intn(4)]
	}
	return string(b)
}

func writeFastq(t *testing.T, path string, reads map[string]string) {
	t.Helper()
	var buf bytes.Buffer
	for name, seq := range reads {
		fmt.Fprintf(&buf, "@%s\n%s\n+\n%s\n", name, seq, message.UniformQual(len(seq), 20))
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

// fastqNames returns the record names of a FASTQ file in order
func fastqNames(t *testing.T, path string) []string {
	t.Helper()
	var names []string
	err := hts.StreamFastxPath(context.Background(), path, func(rec hts.Record) error {
		names = append(names, rec.ID)
		return nil
	})
	require.NoError(t, err)
	return names
}

func TestBasecallSignals(t *testing.T) {
	dir := t.TempDir()
	ids := writeSignals(t, filepath.Join(dir, "signals.jsonl"), 12, 900)

	cfg := testConfig(t, dir)
	a, err := New(cfg)
	require.NoError(t, err)

	stats, err := a.Basecall(context.Background(), []string{dir})
	require.NoError(t, err)

	assert.Equal(t, 12.0, stats["scaler.reads_scaled"])
	assert.Equal(t, 12.0, stats["basecaller.num_called"])
	assert.Equal(t, 0.0, stats["basecaller.reads_pending"])
	assert.Equal(t, 12.0, stats["writer.records_written"])
	assert.Greater(t, stats["basecaller.chunks"], 12.0)

	assert.ElementsMatch(t, ids, fastqNames(t, cfg.Output.Path))

	snap := a.Metrics().Snapshot()
	assert.Equal(t, int64(12), snap.ReadsLoaded)
	assert.Positive(t, snap.ModelCalls)
	assert.Zero(t, snap.ModelErrors)
}

func TestBasecallStampsRunAndReadGroup(t *testing.T) {
	dir := t.TempDir()
	writeSignals(t, filepath.Join(dir, "signals.jsonl"), 3, 600)

	cfg := testConfig(t, dir)
	cfg.Output.Format = "jsonl"
	run := id.NewRunID()
	a, err := New(cfg, WithRunID(run))
	require.NoError(t, err)

	_, err = a.Basecall(context.Background(), []string{filepath.Join(dir, "signals.jsonl")})
	require.NoError(t, err)

	data, err := os.ReadFile(cfg.Output.Path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	for _, line := range lines {
		var summary hts.ReadSummary
		require.NoError(t, sonic.UnmarshalString(line, &summary))
		assert.Equal(t, run.String(), summary.RunID)
		assert.Equal(t, cfg.Basecall.Model, summary.CalledBy)
		assert.NotEmpty(t, summary.Seq)
	}
}

func TestBasecallReadList(t *testing.T) {
	dir := t.TempDir()
	ids := writeSignals(t, filepath.Join(dir, "signals.jsonl"), 5, 600)
	list := filepath.Join(dir, "ids.txt")
	require.NoError(t, os.WriteFile(list, []byte("read_id\n"+ids[1]+"\n"+ids[3]+"\n"), 0o644))

	cfg := testConfig(t, dir)
	cfg.Pipeline.Glob = "*.jsonl"
	cfg.Basecall.ReadIDsFile = list
	a, err := New(cfg)
	require.NoError(t, err)

	stats, err := a.Basecall(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.Equal(t, 2.0, stats["writer.records_written"])
	assert.ElementsMatch(t, []string{ids[1], ids[3]}, fastqNames(t, cfg.Output.Path))
	assert.Equal(t, int64(2), a.Metrics().Snapshot().ReadsLoaded)
}

func TestBasecallFiltersFastq(t *testing.T) {
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(3))
	input := filepath.Join(dir, "reads.fastq")
	writeFastq(t, input, map[string]string{
		"short": randomBases(rng, 50),
		"long":  randomBases(rng, 300),
	})

	cfg := testConfig(t, dir)
	cfg.Basecall.MinLength = 100
	a, err := New(cfg)
	require.NoError(t, err)

	stats, err := a.Basecall(context.Background(), []string{input})
	require.NoError(t, err)
	assert.Equal(t, 2.0, stats["basecaller.reads_no_signal"])
	assert.Equal(t, 1.0, stats["read_filter.reads_filtered"])
	assert.Equal(t, 1.0, stats["read_filter.reads_passed"])
	assert.Equal(t, []string{"long"}, fastqNames(t, cfg.Output.Path))
}

func TestBasecallAlignsToReference(t *testing.T) {
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(11))
	genome := randomBases(rng, 5000)
	ref := filepath.Join(dir, "ref.fasta")
	require.NoError(t, os.WriteFile(ref, []byte(">chr1\n"+genome+"\n"), 0o644))

	input := filepath.Join(dir, "reads.fastq")
	writeFastq(t, input, map[string]string{
		"fwd": genome[1000:1600],
		"rev": message.ReverseComplement(genome[3000:3500]),
	})

	cfg := testConfig(t, dir)
	cfg.Output.Format = "sam"
	cfg.Basecall.Reference = ref
	a, err := New(cfg, WithCommandLine("readpipe basecall test"))
	require.NoError(t, err)

	stats, err := a.Basecall(context.Background(), []string{input})
	require.NoError(t, err)
	assert.Equal(t, 2.0, stats["aligner.reads_mapped"])

	data, err := os.ReadFile(cfg.Output.Path)
	require.NoError(t, err)
	out := string(data)
	assert.True(t, strings.HasPrefix(out, "@HD\t"))
	assert.Contains(t, out, "@SQ\tSN:chr1\tLN:5000\n")
	assert.Contains(t, out, "CL:readpipe basecall test")

	positions := map[string]string{}
	sc := bufio.NewScanner(strings.NewReader(out))
	sc.Buffer(make([]byte, 1<<20), 1<<20)
	for sc.Scan() {
		if strings.HasPrefix(sc.Text(), "@") {
			continue
		}
		fields := strings.Split(sc.Text(), "\t")
		require.GreaterOrEqual(t, len(fields), 11)
		assert.Equal(t, "chr1", fields[2])
		positions[fields[0]] = fields[3]
	}
	assert.Equal(t, "1001", positions["fwd"])
	assert.Equal(t, "3001", positions["rev"])
}

// overlappingReads tiles a genome with reads of readLen every step bases
func overlappingReads(genome string, readLen, step int) map[string]string {
	reads := map[string]string{}
	for i, start := 0, 0; start+readLen <= len(genome); i, start = i+1, start+step {
		reads[fmt.Sprintf("tile_%02d", i)] = genome[start : start+readLen]
	}
	return reads
}

func TestCorrect(t *testing.T) {
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(5))
	reads := overlappingReads(randomBases(rng, 4000), 1000, 250)
	input := filepath.Join(dir, "reads.fastq")
	writeFastq(t, input, reads)

	cfg := testConfig(t, dir)
	a, err := New(cfg)
	require.NoError(t, err)

	stats, err := a.Correct(context.Background(), input)
	require.NoError(t, err)

	n := float64(len(reads))
	assert.Equal(t, n, stats["correction_mapper.reads_mapped"])
	assert.Equal(t, n, stats["correction.reads_received"])
	assert.Equal(t, 0.0, stats["correction.reads_pending"])
	assert.Equal(t, n, stats["writer.records_written"])

	names := fastqNames(t, cfg.Output.Path)
	assert.Len(t, names, len(reads))
	for _, name := range names {
		assert.Contains(t, reads, name)
	}
}

func TestCorrectToPAF(t *testing.T) {
	dir := t.TempDir()
	rng := rand.New(rand.NewSource(6))
	reads := overlappingReads(randomBases(rng, 3000), 1000, 250)
	input := filepath.Join(dir, "reads.fastq")
	writeFastq(t, input, reads)

	cfg := testConfig(t, dir)
	cfg.Correction.ToPAF = true
	a, err := New(cfg)
	require.NoError(t, err)

	stats, err := a.Correct(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, float64(len(reads)), stats["paf_writer.reads_written"])
	assert.Positive(t, stats["paf_writer.overlaps_written"])

	data, err := os.ReadFile(cfg.Output.Path)
	require.NoError(t, err)
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		target, _, err := hts.ParsePAF(line)
		require.NoError(t, err)
		assert.Contains(t, reads, target)
	}
}

func TestBasecallNoInput(t *testing.T) {
	dir := t.TempDir()
	a, err := New(testConfig(t, dir))
	require.NoError(t, err)

	_, err = a.Basecall(context.Background(), []string{dir})
	assert.ErrorIs(t, err, ErrNoInput)
	assert.Equal(t, ExitConfig, ExitCode(err))

	_, err = a.Basecall(context.Background(), []string{filepath.Join(dir, "missing")})
	assert.ErrorIs(t, err, ErrConfig)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Pipeline.Threads = 0
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrConfig)
}

func TestBasecallCancelledStillDrains(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "signals.jsonl")
	writeSignals(t, input, 4, 600)

	a, err := New(testConfig(t, dir))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	stats, err := a.Basecall(ctx, []string{input})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ExitRuntime, ExitCode(err))
	require.NotNil(t, stats)
	assert.Equal(t, stats["basecaller.num_called"], stats["writer.records_written"])
}

func TestBasecallWithStatusServer(t *testing.T) {
	dir := t.TempDir()
	writeSignals(t, filepath.Join(dir, "signals.jsonl"), 3, 600)

	cfg := testConfig(t, dir)
	cfg.Server.Addr = "127.0.0.1:0"
	a, err := New(cfg)
	require.NoError(t, err)

	stats, err := a.Basecall(context.Background(), []string{dir})
	require.NoError(t, err)
	assert.Equal(t, 3.0, stats["writer.records_written"])

	families, err := a.Registry().Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "readpipe_stage_stat")
	assert.Contains(t, names, "readpipe_model_calls_total")
}

func TestClassifyInput(t *testing.T) {
	tests := map[string]inputKind{
		"-":                inputSignal,
		"a/b/sig.jsonl":    inputSignal,
		"sig.NDJSON.gz":    inputSignal,
		"reads.fastq.gz":   inputFastx,
		"reads.fq.zst":     inputFastx,
		"ref.fa":           inputFastx,
		"notes.txt":        inputUnknown,
		"archive.tar.gz":   inputUnknown,
		"reads.fasta.zstd": inputFastx,
	}
	for path, want := range tests {
		assert.Equal(t, want, classifyInput(path), path)
	}
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, ExitOK, ExitCode(nil))
	assert.Equal(t, ExitConfig, ExitCode(fmt.Errorf("wrap: %w", ErrConfig)))
	assert.Equal(t, ExitConfig, ExitCode(ErrNoInput))
	assert.Equal(t, ExitRuntime, ExitCode(context.Canceled))
	assert.Equal(t, ExitRuntime, ExitCode(fmt.Errorf("model down")))
}
