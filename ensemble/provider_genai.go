package ensemble

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

// GenAIProvider adapts Google's Gemini models (google.golang.org/genai)
// to the Provider interface. Grounded on the teacher's GeminiV3Adapter:
// it issues one non-streaming Models.GenerateContent call and then
// replays the result as a sequence of Chunks, word by word, since the
// genai client used here does not expose incremental deltas the way the
// OpenAI SDK does.
type GenAIProvider struct {
	client *genai.Client
}

// NewGenAIProvider creates a client-backed Gemini provider. apiKey may
// be empty if BYOK is supplied per-request instead.
func NewGenAIProvider(ctx context.Context, apiKey string) (*GenAIProvider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAIProvider{client: client}, nil
}

func (p *GenAIProvider) Name() string { return "genai" }

func (p *GenAIProvider) Stream(ctx context.Context, model string, req UpstreamRequest) (<-chan Chunk, <-chan error, error) {
	client := p.client
	if req.APIKey != "" {
		byok, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: req.APIKey})
		if err != nil {
			return nil, nil, &UpstreamError{Provider: "genai", StatusCode: 0, Message: err.Error(), Err: err}
		}
		client = byok
	}

	contents := convertMessagesToGenAI(req.Messages)
	config := buildGenAIConfig(req)

	chunkCh := make(chan Chunk)
	errCh := make(chan error, 1)

	go func() {
		defer close(chunkCh)
		resp, err := client.Models.GenerateContent(ctx, model, contents, config)
		if err != nil {
			errCh <- &UpstreamError{Provider: "genai", StatusCode: genaiStatusCode(err), Message: err.Error(), Err: err}
			return
		}
		if len(resp.Candidates) == 0 {
			return
		}

		candidate := resp.Candidates[0]
		var fullText string
		var funcCall *genai.FunctionCall
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if part.Text != "" {
					fullText += part.Text
				}
				if part.FunctionCall != nil {
					funcCall = part.FunctionCall
				}
			}
		}

		finish := ""
		if candidate.FinishReason != "" {
			finish = string(candidate.FinishReason)
		}

		usage := genaiUsage(resp)

		if funcCall != nil {
			argsBytes, _ := json.Marshal(funcCall.Args)
			args := string(argsBytes)
			select {
			case chunkCh <- Chunk{
				Model: model,
				Delta: ChoiceDelta{
					Role: "assistant",
					ToolCalls: []ToolCallDelta{{
						Index:          0,
						ID:             funcCall.Name,
						Type:           "function",
						Name:           funcCall.Name,
						ArgumentsDelta: args,
					}},
				},
				FinishReason: finish,
				Usage:        usage,
			}:
			case <-ctx.Done():
			}
			return
		}

		words := strings.Fields(fullText)
		if len(words) == 0 {
			select {
			case chunkCh <- Chunk{Model: model, Delta: ChoiceDelta{Role: "assistant"}, FinishReason: finish, Usage: usage}:
			case <-ctx.Done():
			}
			return
		}
		for i, w := range words {
			content := w
			if i > 0 {
				content = " " + w
			}
			fr := ""
			var u *Usage
			if i == len(words)-1 {
				fr = finish
				u = usage
			}
			select {
			case chunkCh <- Chunk{Model: model, Delta: ChoiceDelta{Content: content}, FinishReason: fr, Usage: u}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return chunkCh, errCh, nil
}

func convertMessagesToGenAI(messages []ChatMessage) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "tool":
			contents = append(contents, genai.NewContentFromFunctionResponse(
				msg.ToolCallID,
				map[string]any{"result": msg.Content},
				genai.RoleUser,
			))
		case "assistant":
			if len(msg.ToolCalls) > 0 {
				tc := msg.ToolCalls[0]
				var args map[string]any
				_ = json.Unmarshal([]byte(tc.Arguments), &args)
				contents = append(contents, &genai.Content{
					Role: genai.RoleModel,
					Parts: []*genai.Part{{
						FunctionCall: &genai.FunctionCall{Name: tc.Name, Args: args},
					}},
				})
				continue
			}
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(msg.Content, genai.RoleUser))
		}
	}
	return contents
}

func buildGenAIConfig(req UpstreamRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}
	if req.Temperature != nil {
		t := float32(req.Temperature.InexactFloat64())
		config.Temperature = &t
	}
	if req.TopP != nil {
		t := float32(req.TopP.InexactFloat64())
		config.TopP = &t
	}
	if req.TopK != nil {
		t := float32(*req.TopK)
		config.TopK = &t
	}
	if req.MaxTokens != nil {
		config.MaxOutputTokens = int32(*req.MaxTokens)
	}
	if len(req.Stop) > 0 {
		config.StopSequences = req.Stop
	}
	if req.ResponseFormat != nil && req.ResponseFormat.Kind == "json_schema" {
		config.ResponseMIMEType = "application/json"
	}
	return config
}

func genaiUsage(resp *genai.GenerateContentResponse) *Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return nil
	}
	um := resp.UsageMetadata
	return &Usage{
		PromptTokens:     int64(um.PromptTokenCount),
		CompletionTokens: int64(um.CandidatesTokenCount),
		TotalTokens:      int64(um.TotalTokenCount),
	}
}

func genaiStatusCode(err error) int {
	return 0
}
