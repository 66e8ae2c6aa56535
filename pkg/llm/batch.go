package llm

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultWaveSize bounds how many calls one batch keeps in flight.
const DefaultWaveSize = 50

// CallFunc performs one LLM call.
type CallFunc func(ctx context.Context, prompt string) (*Response, error)

// Scheduler executes independent prompts concurrently in waves and returns
// responses in input order.
type Scheduler struct {
	WaveSize int
}

func (s Scheduler) waveSize() int {
	if s.WaveSize < 1 {
		return DefaultWaveSize
	}
	return s.WaveSize
}

// Run executes prompts wave by wave. Wave k+1 starts only after every call in
// wave k has returned. The first failing call cancels its wave and aborts the
// whole batch; no call is retried here.
func (s Scheduler) Run(ctx context.Context, prompts []string, call CallFunc) ([]*Response, error) {
	size := s.waveSize()
	out := make([]*Response, 0, len(prompts))
	for start := 0; start < len(prompts); start += size {
		end := min(start+size, len(prompts))
		log.WithFields(log.Fields{
			"wave_start": start,
			"wave_size":  end - start,
			"total":      len(prompts),
		}).Debug("dispatching batch wave")

		wave, err := runWave(ctx, prompts[start:end], start, call)
		if err != nil {
			return nil, err
		}
		out = append(out, wave...)
	}
	return out, nil
}

// tagged pairs a response with the correlation token of its prompt.
type tagged struct {
	token string
	resp  *Response
}

// runWave launches one goroutine per prompt. Responses arrive in completion
// order, so each is tagged with its prompt's token and re-indexed afterwards.
func runWave(ctx context.Context, prompts []string, offset int, call CallFunc) ([]*Response, error) {
	tokens := make([]string, len(prompts))
	done := make(chan tagged, len(prompts))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range prompts {
		tokens[i] = uuid.NewString()
		token := tokens[i]
		g.Go(func() error {
			resp, err := call(gctx, p)
			if err != nil {
				return fmt.Errorf("prompt %d: %w", offset+i, err)
			}
			done <- tagged{token: token, resp: resp}
			return nil
		})
	}
	err := g.Wait()
	close(done)
	if err != nil {
		return nil, err
	}

	byToken := make(map[string]*Response, len(prompts))
	for t := range done {
		byToken[t.token] = t.resp
	}

	out := make([]*Response, len(prompts))
	for i, token := range tokens {
		resp, ok := byToken[token]
		if !ok {
			return nil, fmt.Errorf("prompt %d: no response collected", offset+i)
		}
		out[i] = resp
	}
	return out, nil
}

// Sequential runs prompts one after another. It is the fallback used when
// the concurrent path is unavailable or has already failed.
func Sequential(ctx context.Context, prompts []string, call CallFunc) ([]*Response, error) {
	out := make([]*Response, 0, len(prompts))
	for i, p := range prompts {
		log.WithFields(log.Fields{"index": i + 1, "total": len(prompts)}).Debug("processing prompt sequentially")
		resp, err := call(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("prompt %d: %w", i, err)
		}
		out = append(out, resp)
	}
	return out, nil
}
