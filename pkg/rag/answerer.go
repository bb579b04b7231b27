package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"enterprisesearch/pkg/ai"
	"enterprisesearch/pkg/domain"
)

// AnswererConfig wires answer generation over retrieved context.
type AnswererConfig struct {
	Generator ai.TextGenerator
}

// Answerer turns a question plus retrieved chunks into a grounded answer.
type Answerer struct {
	generator ai.TextGenerator
}

// NewAnswerer validates config and constructs the answerer.
func NewAnswerer(cfg AnswererConfig) (*Answerer, error) {
	if cfg.Generator == nil {
		return nil, fmt.Errorf("text generator required")
	}
	return &Answerer{generator: cfg.Generator}, nil
}

// Answer generates a response for the question using the supplied chunks as
// reference material. The chunks come back on the answer as its sources.
func (a *Answerer) Answer(ctx context.Context, projectID, question string, chunks []domain.RetrievedChunk) (domain.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.Answer{}, fmt.Errorf("question required")
	}
	response, err := a.generator.GenerateText(ctx, systemPrompt, buildUserPrompt(question, chunks))
	if err != nil {
		return domain.Answer{}, fmt.Errorf("generate answer: %w", err)
	}
	return domain.Answer{
		ProjectID: projectID,
		Question:  question,
		Response:  response,
		Sources:   chunks,
		CreatedAt: time.Now().UTC(),
	}, nil
}
