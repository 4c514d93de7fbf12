package extract

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	name string
	fn   func(ctx context.Context, data []byte) (*Result, error)

	mu    sync.Mutex
	calls int
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) Extract(ctx context.Context, data []byte) (*Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.fn(ctx, data)
}

type stubRepairer struct {
	out    []byte
	err    error
	called bool
}

func (s *stubRepairer) Repair(data []byte) ([]byte, error) {
	s.called = true
	return s.out, s.err
}

func succeedWith(text string) func(context.Context, []byte) (*Result, error) {
	return func(ctx context.Context, data []byte) (*Result, error) {
		return &Result{FullText: text, Pages: []Page{newPage(1, text)}}, nil
	}
}

func failWith(msg string) func(context.Context, []byte) (*Result, error) {
	return func(ctx context.Context, data []byte) (*Result, error) {
		return nil, errors.New(msg)
	}
}

var (
	goodPDF     = []byte("%PDF-1.7\n<< /Type /Page /MediaBox [0 0 612 792] >>\nhello")
	noDimsPDF   = []byte("%PDF-1.4\n<< /Type /Page >>\nno geometry here")
	notPDFBytes = []byte("this is a plain text file pretending nothing")
)

type progressLog struct {
	mu      sync.Mutex
	updates []int
}

func (p *progressLog) fn(progress int, message string) {
	p.mu.Lock()
	p.updates = append(p.updates, progress)
	p.mu.Unlock()
}

func TestPipelineFirstBackendWins(t *testing.T) {
	first := &stubBackend{name: "alpha", fn: succeedWith("from alpha")}
	second := &stubBackend{name: "beta", fn: succeedWith("from beta")}
	p := NewWithBackends(zerolog.Nop(), []Backend{first, second}, nil)

	var progress progressLog
	res, backend, err := p.Extract(context.Background(), goodPDF, "doc.pdf", progress.fn)
	require.NoError(t, err)
	assert.Equal(t, "alpha", backend)
	assert.Equal(t, "from alpha", res.FullText)
	assert.Equal(t, 0, second.calls)

	// Checkpoints arrive in nondecreasing order.
	require.NotEmpty(t, progress.updates)
	for i := 1; i < len(progress.updates); i++ {
		assert.GreaterOrEqual(t, progress.updates[i], progress.updates[i-1])
	}
}

func TestPipelineFallsBackInOrder(t *testing.T) {
	first := &stubBackend{name: "alpha", fn: failWith("alpha broke")}
	second := &stubBackend{name: "beta", fn: succeedWith("beta text")}
	third := &stubBackend{name: "gamma", fn: succeedWith("gamma text")}
	p := NewWithBackends(zerolog.Nop(), []Backend{first, second, third}, nil)

	res, backend, err := p.Extract(context.Background(), goodPDF, "doc.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, "beta", backend)
	assert.Equal(t, "beta text", res.FullText)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, third.calls)
}

func TestPipelineIsolatesPanics(t *testing.T) {
	first := &stubBackend{name: "alpha", fn: func(ctx context.Context, data []byte) (*Result, error) {
		panic("index out of range [3] with length 2")
	}}
	second := &stubBackend{name: "beta", fn: succeedWith("survived")}
	p := NewWithBackends(zerolog.Nop(), []Backend{first, second}, nil)

	res, backend, err := p.Extract(context.Background(), goodPDF, "doc.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, "beta", backend)
	assert.Equal(t, "survived", res.FullText)
}

func TestPipelineRejectsNonPDF(t *testing.T) {
	backend := &stubBackend{name: "alpha", fn: succeedWith("never called")}
	p := NewWithBackends(zerolog.Nop(), []Backend{backend}, nil)

	_, _, err := p.Extract(context.Background(), notPDFBytes, "fake.pdf", nil)
	assert.ErrorIs(t, err, ErrNotPDF)
	assert.Equal(t, 0, backend.calls)
}

func TestPipelineTerminalFallback(t *testing.T) {
	first := &stubBackend{name: "alpha", fn: failWith("alpha broke")}
	second := &stubBackend{name: "beta", fn: failWith("beta broke")}
	terminal := &stubBackend{name: "omega", fn: succeedWith("rescued")}
	p := NewWithBackends(zerolog.Nop(), []Backend{first, second, terminal}, nil)

	res, backend, err := p.Extract(context.Background(), goodPDF, "doc.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, "omega", backend)
	assert.Equal(t, "rescued", res.FullText)
}

func TestPipelineExhaustion(t *testing.T) {
	first := &stubBackend{name: "alpha", fn: failWith("alpha broke")}
	terminal := &stubBackend{name: "omega", fn: failWith("omega broke")}
	p := NewWithBackends(zerolog.Nop(), []Backend{first, terminal}, nil)

	_, _, err := p.Extract(context.Background(), goodPDF, "doc.pdf", nil)
	require.Error(t, err)

	var pe *PipelineError
	require.ErrorAs(t, err, &pe)
	require.Len(t, pe.Attempts, 2)
	assert.Equal(t, "alpha", pe.Attempts[0].Backend)
	assert.Equal(t, "omega", pe.Attempts[1].Backend)
	// The surfaced message comes from the final, most tolerant attempt.
	assert.Contains(t, err.Error(), "omega broke")
}

func TestPipelineRepairsMissingGeometry(t *testing.T) {
	repaired := []byte("%PDF-1.4\n<< /Type /Page /MediaBox [0 0 612 792] >>\nfixed")

	ranked := &stubBackend{name: "alpha", fn: func(ctx context.Context, data []byte) (*Result, error) {
		if string(data) == string(repaired) {
			return &Result{FullText: "read after repair"}, nil
		}
		return nil, errors.New("no page geometry")
	}}
	terminal := &stubBackend{name: "omega", fn: failWith("should not be reached")}
	rep := &stubRepairer{out: repaired}
	p := NewWithBackends(zerolog.Nop(), []Backend{ranked, terminal}, rep)

	res, backend, err := p.Extract(context.Background(), noDimsPDF, "generated.pdf", nil)
	require.NoError(t, err)
	assert.True(t, rep.called)
	assert.Equal(t, "alpha", backend)
	assert.Equal(t, "read after repair", res.FullText)
	assert.NotEmpty(t, res.Warning)
	assert.Equal(t, 0, terminal.calls)
}

func TestPipelineSkipsRepairWhenGeometryPresent(t *testing.T) {
	ranked := &stubBackend{name: "alpha", fn: failWith("broken anyway")}
	terminal := &stubBackend{name: "omega", fn: succeedWith("rescued")}
	rep := &stubRepairer{out: goodPDF}
	p := NewWithBackends(zerolog.Nop(), []Backend{ranked, terminal}, rep)

	_, backend, err := p.Extract(context.Background(), goodPDF, "doc.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, "omega", backend)
	assert.False(t, rep.called)
}

func TestPipelineRepairFailureFallsThrough(t *testing.T) {
	ranked := &stubBackend{name: "alpha", fn: failWith("no geometry")}
	terminal := &stubBackend{name: "omega", fn: succeedWith("tolerant read")}
	rep := &stubRepairer{err: errors.New("unfixable xref")}
	p := NewWithBackends(zerolog.Nop(), []Backend{ranked, terminal}, rep)

	res, backend, err := p.Extract(context.Background(), noDimsPDF, "generated.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, "omega", backend)
	assert.Equal(t, "tolerant read", res.FullText)
}

func TestPipelineHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	first := &stubBackend{name: "alpha", fn: func(ctx context.Context, data []byte) (*Result, error) {
		cancel()
		return nil, errors.New("interrupted")
	}}
	terminal := &stubBackend{name: "omega", fn: succeedWith("must not run")}
	p := NewWithBackends(zerolog.Nop(), []Backend{first, terminal}, nil)

	_, _, err := p.Extract(ctx, goodPDF, "doc.pdf", nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, terminal.calls)
}

func TestPipelineNormalizesResult(t *testing.T) {
	backend := &stubBackend{name: "alpha", fn: func(ctx context.Context, data []byte) (*Result, error) {
		return &Result{Pages: []Page{newPage(1, "one two three"), newPage(2, "four five")}}, nil
	}}
	p := NewWithBackends(zerolog.Nop(), []Backend{backend}, nil)

	res, _, err := p.Extract(context.Background(), goodPDF, "doc.pdf", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.PageCount)
	assert.Equal(t, 5, res.WordCount)
	assert.NotEmpty(t, res.FullText)
	assert.NotNil(t, res.Tables)
	assert.NotNil(t, res.Images)
}
