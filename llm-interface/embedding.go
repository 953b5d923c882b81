package llminterface

import (
	"context"
	"fmt"
	"math"
	"sync"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ghiac/agentize/llmutils"
)

// EmbeddingService implements C2: text -> unit-normalized dense vector.
// Dimension D is discovered on first successful call and thereafter
// asserted to match (spec 4.2).
type EmbeddingService struct {
	client *openai.Client
	model  openai.EmbeddingModel

	mu  sync.Mutex
	dim int
}

// NewEmbeddingService builds an EmbeddingService against an OpenAI-compatible
// embeddings endpoint.
func NewEmbeddingService(apiKey, baseURL string, model openai.EmbeddingModel) *EmbeddingService {
	return &EmbeddingService{
		client: llmutils.NewOpenAIClientWithUserIDHeader(apiKey, baseURL, nil),
		model:  model,
	}
}

// Embed returns the L2-normalized embedding for text. It raises on HTTP
// error or an empty payload; there is no retry here, by design — the
// caller decides whether to retry (spec 4.2).
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: s.model,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding service: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding service: empty embedding payload")
	}

	vec := normalizeL2(resp.Data[0].Embedding)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dim == 0 {
		s.dim = len(vec)
	} else if len(vec) != s.dim {
		return nil, fmt.Errorf("embedding service: dimension drift, expected %d got %d", s.dim, len(vec))
	}
	return vec, nil
}

// Dimension returns the discovered embedding dimension, or 0 before any
// successful call.
func (s *EmbeddingService) Dimension() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dim
}

func normalizeL2(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	if sumSquares == 0 {
		return v
	}
	norm := math.Sqrt(sumSquares)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
