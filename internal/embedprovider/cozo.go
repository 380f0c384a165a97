package embedprovider

import (
	"context"

	"github.com/plokeai/ploke/internal/perr"
)

// Cozo is a reserved variant for an in-database embedding function the
// store engine does not yet provide. It always fails with NotImplemented,
// so selecting it in config is a clear configuration error rather than a
// silent no-op.
type Cozo struct {
	model      string
	dimensions int
}

func NewCozo(cfg Config) *Cozo {
	return &Cozo{model: cfg.Model, dimensions: cfg.Dimensions}
}

func (c *Cozo) Dimensions() int   { return c.dimensions }
func (c *Cozo) ModelName() string { return c.model }

func (c *Cozo) ComputeBatch(ctx context.Context, snippets []string) ([][]float32, error) {
	return nil, perr.NotImplemented("cozo embedding provider is not implemented")
}
