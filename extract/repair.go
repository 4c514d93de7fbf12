package extract

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// Repairer rewrites a structurally degraded document before another
// extraction attempt. The production implementation uses pdfcpu, which
// re-derives and writes explicit page boundaries while optimizing.
type Repairer interface {
	Repair(data []byte) ([]byte, error)
}

type pdfcpuRepairer struct {
	conf *model.Configuration
}

// NewRepairer returns a pdfcpu-backed Repairer running in relaxed
// validation mode, so it accepts the same malformed inputs it is meant to
// fix.
func NewRepairer() Repairer {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &pdfcpuRepairer{conf: conf}
}

func (r *pdfcpuRepairer) Repair(data []byte) ([]byte, error) {
	var out bytes.Buffer
	if err := api.Optimize(bytes.NewReader(data), &out, r.conf); err != nil {
		return nil, fmt.Errorf("pdfcpu optimize: %w", err)
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("pdfcpu optimize produced empty output")
	}
	return out.Bytes(), nil
}
