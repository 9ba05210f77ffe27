package function

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ObjectiveAI/objectiveai-ensemble-sub002/ensemble"
	"github.com/shopspring/decimal"
)

// SwissOptions selects the Swiss-system tournament strategy for a
// top-level vector-function execution (spec §4.G): P independent
// "players" each run the full sub-pipeline, then R rounds of pairwise
// voting narrow the field to a winner.
type SwissOptions struct {
	Pool   int
	Rounds int

	// Judge is the Ensemble-LLM that votes between two players' rendered
	// outputs each round.
	Judge ensemble.EnsembleMember

	// RenderPlayerOutput turns a player's assembled Function output into
	// a response option the judge can vote on.
	RenderPlayerOutput func(output interface{}) ensemble.ResponseOption
}

type player struct {
	index  int
	output interface{}
	score  decimal.Decimal
}

// runSwiss executes the Swiss tournament. With Rounds==0 it degenerates
// to the identity of the pool sub-results (spec §8 invariant 8): the
// final output is the untournamented list of player outputs.
func (e *Engine) runSwiss(ctx context.Context, fn *Function, profile *Profile, input interface{}, swiss SwissOptions, opts Options, emit func(Chunk)) (*Result, error) {
	if fn.Kind != KindVector {
		return nil, fmt.Errorf("%w: got %q", ErrSwissNotVector, fn.Kind)
	}

	pool := swiss.Pool
	if pool <= 0 {
		pool = 1
	}

	players := make([]player, pool)
	ec := &execCtx{}
	errs := make([]error, pool)
	var wg sync.WaitGroup
	for i := 0; i < pool; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			poolIdx := i
			round0 := 0
			playerPath := []int{i}
			out, err := e.runNode(ctx, playerPath, fn, profile, input, ec, opts.RetryToken, func(c Chunk) {
				c.SwissPool = &poolIdx
				c.SwissRound = &round0
				emit(c)
			}, 0)
			if err != nil {
				errs[i] = err
				return
			}
			players[i] = player{index: i, output: out}
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	result := &Result{Usage: ec.usage}

	if swiss.Rounds <= 0 {
		outputs := make([]interface{}, pool)
		for i, p := range players {
			outputs[i] = p.output
		}
		result.Output = outputs
		result.Votes = sortedVotes(ec.leaves)
		token, err := e.buildRetryToken(ec)
		if err != nil {
			return nil, err
		}
		result.RetryToken = token
		return result, nil
	}

	played := make(map[[2]int]bool)
	for round := 1; round <= swiss.Rounds; round++ {
		sort.SliceStable(players, func(i, j int) bool {
			return players[i].score.GreaterThan(players[j].score)
		})

		for i := 0; i+1 < len(players); i += 2 {
			a, b := players[i], players[i+1]
			key := pairKey(a.index, b.index)
			if played[key] && i+2 < len(players) {
				players[i+1], players[i+2] = players[i+2], players[i+1]
				b = players[i+1]
				key = pairKey(a.index, b.index)
			}
			played[key] = true

			winner, err := e.judgeRound(ctx, swiss, a, b, round, ec, emit)
			if err != nil {
				return nil, err
			}
			for idx := range players {
				if players[idx].index == winner {
					players[idx].score = players[idx].score.Add(decimal.NewFromInt(1))
				}
			}
		}
	}

	sort.SliceStable(players, func(i, j int) bool {
		if !players[i].score.Equal(players[j].score) {
			return players[i].score.GreaterThan(players[j].score)
		}
		return players[i].index < players[j].index
	})

	result.Output = players[0].output
	result.Votes = sortedVotes(ec.leaves)
	result.Usage = ec.usage
	token, err := e.buildRetryToken(ec)
	if err != nil {
		return nil, err
	}
	result.RetryToken = token
	return result, nil
}

func pairKey(a, b int) [2]int {
	if a < b {
		return [2]int{a, b}
	}
	return [2]int{b, a}
}

// judgeRound runs one judging vector-completion between two players'
// rendered outputs and returns the winning player's index.
func (e *Engine) judgeRound(ctx context.Context, swiss SwissOptions, a, b player, round int, ec *execCtx, emit func(Chunk)) (int, error) {
	optA := swiss.RenderPlayerOutput(a.output)
	optB := swiss.RenderPlayerOutput(b.output)

	req := ensemble.VectorRequest{
		Ensemble: swiss.Judge,
		Profile:  ensemble.Profile{Entries: []ensemble.ProfileEntry{{Weight: decimal.NewFromInt(1)}}},
		Messages: []ensemble.ChatMessage{
			{Role: "user", Content: "Vote for the better response."},
		},
		Options: []ensemble.ResponseOption{optA, optB},
	}
	result, err := e.VectorEngine.Run(ctx, req)
	if err != nil {
		return a.index, err
	}

	path := []int{-1, round}
	for i := range result.Votes {
		v := result.Votes[i]
		ec.addLeaf(path, i, v)
		roundCopy := round
		poolA := a.index
		emit(Chunk{TaskPath: path, Vote: &v, SwissPool: &poolA, SwissRound: &roundCopy})
	}
	ec.addUsage(result.Usage)

	if len(result.Scores) >= 2 && result.Scores[1].GreaterThan(result.Scores[0]) {
		return b.index, nil
	}
	return a.index, nil
}
