package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestWithAgentAndStrategy(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	lg := WithStrategy(WithAgent(base, "agent-1"), "strat-9")
	lg.Info().Msg("scoped")

	out := buf.String()
	assert.Contains(t, out, `"agent_id":"agent-1"`)
	assert.Contains(t, out, `"strategy_id":"strat-9"`)
}
