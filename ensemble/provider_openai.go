package ensemble

import (
	"context"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// OpenAIProvider adapts api.openai.com-compatible chat-completions
// endpoints to the Provider interface, grounded on the teacher's
// Builder.Stream: client.Chat.Completions.NewStreaming plus a
// stream.Next()/stream.Current() pull loop. Unlike the teacher, raw
// openai.ChatCompletionChunk values are translated into this package's
// own Chunk shape rather than folded through openai.ChatCompletionAccumulator,
// since component C's push monoid (chatcompletion.go) must also accept
// Chunks synthesized by other providers (e.g. GenAIProvider).
type OpenAIProvider struct {
	client  openai.Client
	baseURL string
}

// NewOpenAIProvider creates a client-backed OpenAI provider. baseURL may
// be empty to use the default api.openai.com endpoint, or set to target
// an OpenAI-compatible gateway.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{client: openai.NewClient(opts...), baseURL: baseURL}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Stream(ctx context.Context, model string, req UpstreamRequest) (<-chan Chunk, <-chan error, error) {
	client := p.client
	if req.APIKey != "" {
		opts := []option.RequestOption{option.WithAPIKey(req.APIKey)}
		if p.baseURL != "" {
			opts = append(opts, option.WithBaseURL(p.baseURL))
		}
		client = openai.NewClient(opts...)
	}

	params := buildOpenAIParams(model, req)

	chunkCh := make(chan Chunk)
	errCh := make(chan error, 1)

	stream := client.Chat.Completions.NewStreaming(ctx, params)

	go func() {
		defer close(chunkCh)
		for stream.Next() {
			raw := stream.Current()
			for _, choice := range raw.Choices {
				chunk := Chunk{
					ID:          raw.ID,
					Model:       raw.Model,
					ChoiceIndex: int(choice.Index),
					Delta: ChoiceDelta{
						Role:    choice.Delta.Role,
						Content: choice.Delta.Content,
					},
					FinishReason: choice.FinishReason,
				}
				for _, tc := range choice.Delta.ToolCalls {
					chunk.Delta.ToolCalls = append(chunk.Delta.ToolCalls, ToolCallDelta{
						Index:          int(tc.Index),
						ID:             tc.ID,
						Type:           "function",
						Name:           tc.Function.Name,
						ArgumentsDelta: tc.Function.Arguments,
					})
				}
				if choice.Logprobs.Content != nil {
					lp := &LogProbs{}
					for _, c := range choice.Logprobs.Content {
						tlp := TokenLogProb{Token: c.Token, LogProb: c.Logprob}
						for _, top := range c.TopLogprobs {
							tlp.TopLogProbs = append(tlp.TopLogProbs, TopLogProb{Token: top.Token, LogProb: top.Logprob})
						}
						lp.Content = append(lp.Content, tlp)
					}
					chunk.LogProbs = lp
				}
				select {
				case chunkCh <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if raw.Usage.TotalTokens > 0 {
				select {
				case chunkCh <- Chunk{
					ID:    raw.ID,
					Model: raw.Model,
					Usage: &Usage{
						PromptTokens:     raw.Usage.PromptTokens,
						CompletionTokens: raw.Usage.CompletionTokens,
						TotalTokens:      raw.Usage.TotalTokens,
						CachedTokens:     raw.Usage.PromptTokensDetails.CachedTokens,
						ReasoningTokens:  raw.Usage.CompletionTokensDetails.ReasoningTokens,
					},
				}:
				case <-ctx.Done():
					return
				}
			}
		}
		if err := stream.Err(); err != nil {
			errCh <- &UpstreamError{Provider: "openai", StatusCode: openaiStatusCode(err), Message: err.Error(), Err: err}
		}
	}()

	return chunkCh, errCh, nil
}

func buildOpenAIParams(model string, req UpstreamRequest) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    model,
		Messages: convertMessagesToOpenAI(req.Messages),
	}

	if req.Temperature != nil {
		params.Temperature = openai.Float(req.Temperature.InexactFloat64())
	}
	if req.TopP != nil {
		params.TopP = openai.Float(req.TopP.InexactFloat64())
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(*req.MaxTokens)
	}
	if req.FrequencyPenalty != nil {
		params.FrequencyPenalty = openai.Float(req.FrequencyPenalty.InexactFloat64())
	}
	if req.PresencePenalty != nil {
		params.PresencePenalty = openai.Float(req.PresencePenalty.InexactFloat64())
	}
	if req.Seed != nil {
		params.Seed = openai.Int(*req.Seed)
	}
	if len(req.Stop) > 0 {
		params.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: req.Stop}
	}
	if req.Logprobs {
		params.Logprobs = openai.Bool(true)
		if req.TopLogprobs > 0 {
			params.TopLogprobs = openai.Int(int64(req.TopLogprobs))
		}
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolUnionParam, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = openai.ChatCompletionFunctionTool(openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  t.Parameters,
			})
		}
		params.Tools = tools
	}
	switch req.ToolChoice {
	case "none":
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("none")}
	case "":
		// leave unset
	case "required":
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String("required")}
	default:
		params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
			OfFunctionToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: req.ToolChoice},
			},
		}
	}

	if req.ResponseFormat != nil && req.ResponseFormat.Kind == "json_schema" {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.ResponseFormat.SchemaName,
					Schema: req.ResponseFormat.Schema,
					Strict: openai.Bool(true),
				},
			},
		}
	}

	return params
}

func convertMessagesToOpenAI(messages []ChatMessage) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case "system":
			out = append(out, openai.SystemMessage(m.Content))
		case "assistant":
			out = append(out, openai.AssistantMessage(m.Content))
		case "tool":
			out = append(out, openai.ToolMessage(m.Content, m.ToolCallID))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func openaiStatusCode(err error) int {
	type statusCoder interface{ StatusCode() int }
	if sc, ok := err.(statusCoder); ok {
		return sc.StatusCode()
	}
	return 0
}
