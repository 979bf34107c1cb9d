package decision

import (
	"context"

	"github.com/tonfabric/agent-engine/pkg/strategy"
	"github.com/tonfabric/agent-engine/pkg/types"
)

// StaticProvider always returns the same decision. Used by the simulator and
// in tests where the LLM layer is out of the picture.
type StaticProvider struct {
	Decision types.Decision
	Err      error
}

func (p *StaticProvider) Decide(_ context.Context, _ strategy.ExecutionContext) (*types.Decision, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	d := p.Decision
	if d.Amount != nil {
		d.Amount = types.CloneAmount(d.Amount)
	}
	return &d, nil
}
