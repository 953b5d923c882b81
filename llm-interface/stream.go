package llminterface

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	openai "github.com/sashabaranov/go-openai"

	"github.com/ghiac/agentize/llmutils"
	"github.com/ghiac/agentize/log"
)

// endMarker is everything after it discarded on the chunk that contains it;
// the literal is emitted by upstream models that keep talking past their
// final answer.
const endMarker = "[END FINAL RESPONSE]"

// endToken is stripped from every emitted fragment regardless of position.
const endToken = "<|end|>"

// CompletionParams carries the optional per-call knobs spec 4.1 allows.
type CompletionParams struct {
	Temperature   float32
	MaxTokens     int
	StopSequences []string
}

// TokenEvent is one fragment of a streamed completion, or the terminal
// signal that the stream is done (with any error encountered).
type TokenEvent struct {
	Content string
	Done    bool
	Err     error
}

// StreamingClient wraps go-openai's chat completion stream with the marker
// stripping, retry, and failure-degrades-to-empty-sequence behavior spec
// 4.1 requires. It is the sole LLM Client (C1) implementation; every caller
// (Chat Orchestrator, Memory Builder, Hybrid Retriever, Query Rewriter)
// goes through it rather than touching go-openai directly.
type StreamingClient struct {
	client *openai.Client
	model  string
	// maxRetries bounds transient-transport retry attempts before the
	// client degrades to an empty sequence (spec: "retried up to 3 times
	// with a 1s delay").
	maxRetries int
	retryDelay time.Duration
}

// NewStreamingClient builds a StreamingClient against an OpenAI-compatible
// endpoint. baseURL may be empty to use the default OpenAI API.
// The underlying HTTP client injects the tenant's user_id (read from
// context.Context, set via model.WithUserID) as an X-User-ID header on
// every request, so a multi-tenant deployment's LLM gateway/proxy can
// attribute and rate-limit usage per tenant even though StreamingClient
// itself is process-wide.
func NewStreamingClient(apiKey, baseURL, model string) *StreamingClient {
	return &StreamingClient{
		client:     llmutils.NewOpenAIClientWithUserIDHeader(apiKey, baseURL, nil),
		model:      model,
		maxRetries: 3,
		retryDelay: time.Second,
	}
}

// StreamCompletion returns a channel of TokenEvent for the given prompt. The
// channel is closed after the terminal event (Done=true). On transient
// transport failure the call is retried up to maxRetries times with a fixed
// 1s delay (backoff.WithMaxRetries over a constant backoff); on exhaustion
// the sequence terminates silently — no tokens, Done=true, Err=nil — so the
// orchestrator can treat it as a soft failure per spec 4.1.
func (c *StreamingClient) StreamCompletion(ctx context.Context, prompt string, params CompletionParams) <-chan TokenEvent {
	out := make(chan TokenEvent, 16)

	go func() {
		defer close(out)

		req := openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleUser, Content: prompt},
			},
			Stream: true,
		}
		if params.Temperature > 0 {
			req.Temperature = params.Temperature
		}
		if params.MaxTokens > 0 {
			req.MaxTokens = params.MaxTokens
		}
		if len(params.StopSequences) > 0 {
			req.Stop = params.StopSequences
		}

		policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(c.retryDelay), uint64(c.maxRetries))

		var terminated bool
		attempt := func() error {
			stream, err := c.client.CreateChatCompletionStream(ctx, req)
			if err != nil {
				log.Log.Warnf("[LLMClient] stream start failed, will retry: %v", err)
				return err
			}
			defer stream.Close()

			for {
				resp, err := stream.Recv()
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					log.Log.Warnf("[LLMClient] stream read failed, will retry: %v", err)
					return err
				}
				if len(resp.Choices) == 0 {
					continue
				}
				fragment, done := cleanFragment(resp.Choices[0].Delta.Content)
				if fragment != "" {
					select {
					case out <- TokenEvent{Content: fragment}:
					case <-ctx.Done():
						return nil
					}
				}
				if done {
					terminated = true
					return nil
				}
			}
		}

		if err := backoff.Retry(attempt, policy); err != nil {
			log.Log.Errorf("[LLMClient] stream exhausted retries, degrading to empty sequence: %v", err)
			out <- TokenEvent{Done: true}
			return
		}
		_ = terminated
		out <- TokenEvent{Done: true}
	}()

	return out
}

// cleanFragment strips <|end|> from a fragment and reports whether the
// fragment contains the final-response marker; when it does, only the text
// preceding the marker is returned and the stream should stop after it.
func cleanFragment(fragment string) (clean string, terminal bool) {
	if idx := strings.Index(fragment, endMarker); idx >= 0 {
		fragment = fragment[:idx]
		terminal = true
	}
	fragment = strings.ReplaceAll(fragment, endToken, "")
	return fragment, terminal
}

// StripMarkers removes any trailing marker text from an already-assembled
// string. Used by the orchestrator's final cleanup sweep (spec 4.9) so no
// marker ever leaks into a persisted or done-framed response.
func StripMarkers(text string) string {
	if idx := strings.Index(text, endMarker); idx >= 0 {
		text = text[:idx]
	}
	text = strings.ReplaceAll(text, endToken, "")
	return strings.TrimSpace(text)
}

// ExtractAfterThink returns the suffix after the first literal "</think>",
// or the original text when the marker is absent (spec 4.1).
func ExtractAfterThink(text string) string {
	const marker = "</think>"
	if idx := strings.Index(text, marker); idx >= 0 {
		return strings.TrimSpace(text[idx+len(marker):])
	}
	return text
}

// Complete runs a non-streaming completion and returns the full text. Used
// by call sites that need a single answer rather than a token stream (e.g.
// the Memory Builder's transformation call, the Hybrid Retriever's planning
// and reflection calls, and the tool surface's get_context_answer tool).
func (c *StreamingClient) Complete(ctx context.Context, prompt string, params CompletionParams) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	}
	if params.Temperature > 0 {
		req.Temperature = params.Temperature
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = params.MaxTokens
	}

	var resp openai.ChatCompletionResponse
	policy := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), 3)
	err := backoff.Retry(func() error {
		var err error
		resp, err = c.client.CreateChatCompletion(ctx, req)
		return err
	}, policy)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return StripMarkers(resp.Choices[0].Message.Content), nil
}
