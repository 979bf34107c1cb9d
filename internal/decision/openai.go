// Package decision supplies DecisionProvider implementations: an OpenAI
// chat-completion provider for live agents and a static provider for tests
// and the simulator.
package decision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/tonfabric/agent-engine/pkg/strategy"
	"github.com/tonfabric/agent-engine/pkg/types"
)

const systemPrompt = "You are a trading decision engine for an automated agent on the TON blockchain. " +
	"Given the strategy parameters and current market data, respond with a compact JSON object only: " +
	`{"action": "buy"|"sell"|"hold", "amount": "<nanoTON integer as string>", "confidence_bps": <0-10000>, "rationale": "<one sentence>"}. ` +
	"Never respond with anything except that JSON object."

// OpenAIProvider asks an OpenAI chat model for a trade decision. The model's
// output is untrusted; malformed responses fail the call and unparseable
// amounts degrade to hold.
type OpenAIProvider struct {
	client *openai.Client
	model  string
	logger zerolog.Logger
}

func NewOpenAIProvider(apiKey, model string, logger zerolog.Logger) (*OpenAIProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("decision: OpenAI API key is required")
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  model,
		logger: logger.With().Str("component", "openai_decision").Logger(),
	}, nil
}

func (p *OpenAIProvider) Decide(ctx context.Context, ec strategy.ExecutionContext) (*types.Decision, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       p.model,
		Temperature: 0.2,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildUserPrompt(ec)},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("decision: chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("decision: empty completion response")
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var parsed struct {
		Action        string `json:"action"`
		Amount        string `json:"amount"`
		ConfidenceBps int64  `json:"confidence_bps"`
		Rationale     string `json:"rationale"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &parsed); err != nil {
		return nil, fmt.Errorf("decision: malformed model response: %w", err)
	}

	d := &types.Decision{
		ConfidenceBps: parsed.ConfidenceBps,
		Rationale:     parsed.Rationale,
		Amount:        new(big.Int),
	}
	switch strings.ToLower(parsed.Action) {
	case "buy":
		d.Action = types.ActionBuy
	case "sell":
		d.Action = types.ActionSell
	default:
		d.Action = types.ActionHold
	}
	if d.Action != types.ActionHold {
		amount, ok := new(big.Int).SetString(strings.TrimSpace(parsed.Amount), 10)
		if !ok || amount.Sign() < 0 {
			p.logger.Warn().Str("amount", parsed.Amount).Msg("Unparseable decision amount, holding")
			d.Action = types.ActionHold
		} else {
			d.Amount = amount
		}
	}

	p.logger.Debug().
		Str("action", string(d.Action)).
		Int64("confidence_bps", d.ConfidenceBps).
		Msg("Decision received")

	return d, nil
}

func buildUserPrompt(ec strategy.ExecutionContext) string {
	var b strings.Builder
	b.WriteString("## Strategy\n")
	if ec.Strategy != nil {
		fmt.Fprintf(&b, "type: %s\nrisk: %s\n", ec.Strategy.Type, ec.Strategy.Risk)
		for k, v := range ec.Strategy.Params {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
	}
	b.WriteString("\n## Market\n")
	fmt.Fprintf(&b, "pair: %s\n", ec.Market.Pair)
	if ec.Market.Price != nil {
		fmt.Fprintf(&b, "price: %s\n", ec.Market.Price.String())
	}
	if ec.Market.Liquidity != nil {
		fmt.Fprintf(&b, "liquidity: %s\n", ec.Market.Liquidity.String())
	}
	for k, v := range ec.Market.Extra {
		fmt.Fprintf(&b, "%s: %s\n", k, v)
	}
	if ec.AvailableBalance != nil {
		fmt.Fprintf(&b, "\navailable_balance: %s nanoTON\n", ec.AvailableBalance.String())
	}
	return b.String()
}
