// Command objectiveai-ensemble-demo runs a single vector completion
// against either a real OpenAI-qualified model (when OPENAI_API_KEY is
// set) or a deterministic mock provider, printing the resulting scores,
// weights and retry token, then replays it with that retry token and
// prints the replay's scores and per-vote retry flags.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/ObjectiveAI/objectiveai-ensemble-sub002/ensemble"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: Error loading .env file: %v", err)
	}

	ctx := context.Background()
	cfg := ensemble.DefaultConfig()

	var router ensemble.ProviderRouter
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey != "" {
		fmt.Println("=== Using real OpenAI provider ===")
		openaiProvider := ensemble.NewOpenAIProvider(apiKey, "")
		router = ensemble.NewPrefixRouter(map[string]ensemble.Provider{
			"openai": openaiProvider,
		})
	} else {
		fmt.Println("=== OPENAI_API_KEY not set; using mock provider ===")
		router = ensemble.NewPrefixRouter(map[string]ensemble.Provider{
			"mock": newMockProvider("A"),
		})
	}

	logger := ensemble.NewStdLogger(ensemble.LogLevelInfo)
	store := ensemble.NewMemoryDefinitionStore()
	cache := ensemble.NewDefinitionCache(store, logger)
	dispatcher := ensemble.NewDispatcher(cfg, logger, router)
	voteCache := ensemble.NewMemoryVoteCache()
	engine := ensemble.NewVectorEngine(cache, dispatcher, voteCache, logger, cfg)

	model := "mock/demo-model"
	if apiKey != "" {
		model = "openai/gpt-4o-mini"
	}

	ensembleDef := ensemble.EnsembleMember{
		Inline: &ensemble.EnsembleLLM{
			Model:      model,
			OutputMode: ensemble.OutputModeJSONSchema,
		},
	}

	fmt.Println("=== Example: single-leaf vector completion ===")
	result, err := engine.Run(ctx, ensemble.VectorRequest{
		Ensemble: ensembleDef,
		Profile:  ensemble.Profile{Entries: []ensemble.ProfileEntry{{Weight: decimal.NewFromInt(1)}}},
		Messages: []ensemble.ChatMessage{
			{Role: "user", Content: "Is the sky blue? Answer yes or no."},
		},
		Options: []ensemble.ResponseOption{
			{Text: "yes"},
			{Text: "no"},
		},
	})
	if err != nil {
		log.Fatalf("vector completion failed: %v", err)
	}

	fmt.Printf("scores:  %v\n", result.Scores)
	fmt.Printf("weights: %v\n", result.Weights)
	fmt.Printf("retry token: %s\n", result.RetryToken)

	fmt.Println("\n=== Example: replaying the retry token ===")
	replay, err := engine.Run(ctx, ensemble.VectorRequest{
		Ensemble: ensembleDef,
		Profile:  ensemble.Profile{Entries: []ensemble.ProfileEntry{{Weight: decimal.NewFromInt(1)}}},
		Messages: []ensemble.ChatMessage{
			{Role: "user", Content: "Is the sky blue? Answer yes or no."},
		},
		Options: []ensemble.ResponseOption{
			{Text: "yes"},
			{Text: "no"},
		},
		RetryToken: mustDecode(result.RetryToken),
	})
	if err != nil {
		log.Fatalf("retry replay failed: %v", err)
	}
	fmt.Printf("scores:  %v\n", replay.Scores)
	fmt.Printf("retry flags: ")
	for _, v := range replay.Votes {
		fmt.Printf("%v ", v.Retry)
	}
	fmt.Println()
}

func mustDecode(token string) *ensemble.RetryToken {
	t, err := ensemble.DecodeRetryToken(token)
	if err != nil {
		log.Fatalf("decode retry token: %v", err)
	}
	return &t
}
