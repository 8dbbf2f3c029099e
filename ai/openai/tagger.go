// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package openai

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"

	"github.com/poiesic/baler/ai"
	"github.com/poiesic/baler/core"
	"github.com/poiesic/baler/retry"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

// Tagger implements ai.Tagger using OpenAI-compatible chat APIs.
type Tagger struct {
	client  llms.Model
	policy  retry.Policy
	limiter *rate.Limiter
	logger  *slog.Logger
}

var _ ai.Tagger = (*Tagger)(nil)

// newTagger is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newTagger(config *ai.Config) (*Tagger, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	// Use "none" as token for local OpenAI-compatible services that don't require authentication
	client, err := openai.New(
		openai.WithBaseURL(config.ClassifierHost),
		openai.WithToken("none"),
		openai.WithModel(config.ClassifierModel),
	)
	if err != nil {
		return nil, err
	}

	tagger := newTaggerWithModel(client, config.RetryPolicy())
	if config.RequestsPerSecond > 0 {
		tagger.limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), max(config.Burst, 1))
	}
	return tagger, nil
}

func newTaggerWithModel(model llms.Model, policy retry.Policy) *Tagger {
	return &Tagger{
		client: model,
		policy: policy,
		logger: slog.Default().With("component", "openai-tagger"),
	}
}

// NewTagger creates a new tagger using the provided configuration.
//
// Returns ai.Tagger interface to enforce abstraction.
func NewTagger(config *ai.Config) (ai.Tagger, error) {
	return newTagger(config)
}

// GenerateTags asks the chat model for tags describing chunk.
// Small local models often ignore the JSON instruction, so a single
// comma-separated line is accepted too.
func (t *Tagger) GenerateTags(ctx context.Context, chunk string) []string {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, ai.TagSystemPrompt()),
		llms.TextParts(llms.ChatMessageTypeHuman, chunk),
	}

	var tags []string
	attempts := 0
	err := retry.Do(ctx, t.policy, func(ctx context.Context) error {
		attempts++
		if err := t.wait(ctx); err != nil {
			return err
		}
		response, err := t.client.GenerateContent(ctx, content, llms.WithTemperature(0.0))
		if err != nil {
			return err
		}
		if len(response.Choices) < 1 {
			t.logger.Debug("no choices returned from model")
			tags = []string{}
			return nil
		}
		tags = ai.ParseTags(response.Choices[0].Content, ai.TagFormatCSV)
		return nil
	}, classify, nil)
	if err != nil {
		t.logger.Warn("skipping chunk, tagging failed",
			"kind", core.KindChunkSkip,
			"attempts", attempts,
			"err", err)
		return []string{}
	}
	return tags
}

// StreamResponse streams a recommendation grounded in excerpts. Failures
// before the first token are retried and returned; later failures arrive
// as an ai.EventError event.
func (t *Tagger) StreamResponse(ctx context.Context, query string, excerpts []core.Metadata) (<-chan ai.StreamEvent, error) {
	content := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, ai.CriticPrompt(query, excerpts)),
	}

	events := make(chan ai.StreamEvent)
	opened := make(chan error, 1)

	go func() {
		defer close(events)

		started := false
		stream := llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
			if !started {
				started = true
				opened <- nil
			}
			if len(chunk) == 0 {
				return nil
			}
			if !send(ctx, events, ai.ChunkEvent(string(chunk))) {
				return ctx.Err()
			}
			return nil
		})

		err := retry.Do(ctx, t.policy, func(ctx context.Context) error {
			if err := t.wait(ctx); err != nil {
				return err
			}
			_, err := t.client.GenerateContent(ctx, content, stream)
			return err
		}, func(err error) retry.Action {
			// Output already delivered cannot be taken back.
			if started {
				return retry.Stop
			}
			return classify(err)
		}, nil)

		if !started {
			opened <- err
			if err != nil {
				return
			}
		}
		if err != nil {
			t.logger.Error("stream interrupted", "err", err)
			send(ctx, events, ai.ErrorEvent(err))
			return
		}
		send(ctx, events, ai.SourcesEvent(ai.SourcesFromExcerpts(excerpts)))
	}()

	if err := <-opened; err != nil {
		return nil, err
	}
	return events, nil
}

func (t *Tagger) wait(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	return t.limiter.Wait(ctx)
}

var statusPattern = regexp.MustCompile(`status code:? (\d{3})`)

// classify extends ai.Classify with the status codes langchaingo only
// reports inside error text.
func classify(err error) retry.Action {
	if action := ai.Classify(err); action != retry.Stop {
		return refreshless(action)
	}
	m := statusPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return retry.Stop
	}
	code, _ := strconv.Atoi(m[1])
	return refreshless(ai.ClassifyStatus(code))
}

// refreshless maps Refresh to Stop: static tokens cannot be renewed.
func refreshless(action retry.Action) retry.Action {
	if action == retry.Refresh {
		return retry.Stop
	}
	return action
}

func send(ctx context.Context, events chan<- ai.StreamEvent, ev ai.StreamEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
