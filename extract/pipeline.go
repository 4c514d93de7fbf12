package extract

import (
	"context"

	"github.com/rs/zerolog"
)

// ProgressFn receives checkpoint updates while an extraction runs. The
// percentages are a UX convention; callers may ignore them entirely.
type ProgressFn func(progress int, message string)

// Pipeline tries an ordered list of backends until one succeeds. The last
// backend is the terminal fallback and is always attempted before giving
// up. A Repairer, when present, rewrites dimension-less documents between
// the ranked attempts and the terminal fallback.
type Pipeline struct {
	backends []Backend
	repairer Repairer
	log      zerolog.Logger
}

// New builds the production chain: pdftext (strict), pdftext-lenient,
// then fitz as the terminal fallback, with pdfcpu-based structural repair
// in between.
func New(log zerolog.Logger) *Pipeline {
	return NewWithBackends(log,
		[]Backend{
			&pdftextBackend{},
			&pdftextLenientBackend{},
			&fitzBackend{},
		},
		NewRepairer(),
	)
}

// NewWithBackends builds a pipeline over an explicit chain. At least one
// backend is required; the last entry is treated as the terminal fallback.
// repairer may be nil.
func NewWithBackends(log zerolog.Logger, backends []Backend, repairer Repairer) *Pipeline {
	return &Pipeline{
		backends: backends,
		repairer: repairer,
		log:      log.With().Str("component", "pipeline").Logger(),
	}
}

// Descriptors lists the configured chain in rank order.
func (p *Pipeline) Descriptors() []Descriptor {
	capabilities := map[string]string{
		"pdftext":         "most detailed: text, tables, image descriptors; strict about page dimensions",
		"pdftext-lenient": "per-page isolation, skips undecodable pages",
		"fitz":            "tolerant of malformed structure, full fallback",
	}

	descs := make([]Descriptor, len(p.backends))
	for i, b := range p.backends {
		descs[i] = Descriptor{
			Name:       b.Name(),
			Capability: capabilities[b.Name()],
			Terminal:   i == len(p.backends)-1,
		}
	}
	return descs
}

// Extract runs the fallback chain over the document bytes. It returns the
// normalized result and the name of the backend that produced it. The
// pipeline holds no cross-task state; it is safe for concurrent use.
func (p *Pipeline) Extract(ctx context.Context, data []byte, filename string, report ProgressFn) (*Result, string, error) {
	if report == nil {
		report = func(int, string) {}
	}

	pre := Precheck(data)
	if !pre.IsPDF {
		return nil, "", ErrNotPDF
	}

	if pre.HasPageDimensions {
		report(25, "PDF prepared, starting extraction...")
	} else {
		// Common with template-based generators; extraction usually still
		// works, so this is only a warning.
		p.log.Warn().Str("filename", filename).Msg("page dimension metadata missing, continuing")
		report(25, "Page dimensions not found, continuing with tolerant extraction...")
	}

	nonTerminal := p.backends[:len(p.backends)-1]
	terminal := p.backends[len(p.backends)-1]

	var attempts []*BackendError

	report(40, "Extracting document content...")
	for _, b := range nonTerminal {
		res, err := attempt(ctx, b, data)
		if err == nil {
			return p.finish(res, b.Name(), report), b.Name(), nil
		}
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		p.log.Warn().Str("backend", b.Name()).Str("filename", filename).Err(err).Msg("backend failed, trying next")
		attempts = append(attempts, &BackendError{Backend: b.Name(), Err: err})
	}

	// Documents missing explicit page boundaries often become readable by
	// the ranked backends once the geometry is rewritten.
	if !pre.HasPageDimensions && p.repairer != nil && len(nonTerminal) > 0 {
		report(45, "Attempting structural repair of page geometry...")
		fixed, err := p.repairer.Repair(data)
		if err != nil {
			p.log.Warn().Str("filename", filename).Err(err).Msg("structural repair failed")
		} else {
			for _, b := range nonTerminal {
				res, err := attempt(ctx, b, fixed)
				if err == nil {
					if res.Warning == "" {
						res.Warning = "page geometry was repaired before extraction"
					}
					return p.finish(res, b.Name(), report), b.Name(), nil
				}
				if ctx.Err() != nil {
					return nil, "", ctx.Err()
				}
				attempts = append(attempts, &BackendError{Backend: b.Name() + " (repaired)", Err: err})
			}
		}
	}

	report(50, "Falling back to structure-tolerant extraction...")
	res, err := attempt(ctx, terminal, data)
	if err == nil {
		return p.finish(res, terminal.Name(), report), terminal.Name(), nil
	}
	if ctx.Err() != nil {
		return nil, "", ctx.Err()
	}
	attempts = append(attempts, &BackendError{Backend: terminal.Name(), Err: err})

	p.log.Error().Str("filename", filename).Int("attempts", len(attempts)).Msg("all extraction backends exhausted")
	return nil, "", &PipelineError{Attempts: attempts}
}

func (p *Pipeline) finish(res *Result, backend string, report ProgressFn) *Result {
	report(70, "PDF conversion completed, extracting data...")
	report(85, "Content parsing completed...")
	report(90, "Data extraction completed, finalizing...")
	p.log.Debug().Str("backend", backend).Int("pages", res.PageCount).Msg("extraction succeeded")
	return normalize(res)
}
