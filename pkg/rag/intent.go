package rag

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"enterprisesearch/pkg/domain"
)

const guardTopK = 3

// forbiddenPatterns flag prompt-override and command-injection attempts.
// They are matched case-insensitively against the raw query.
var forbiddenPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(override|bypass|ignore)`),
	regexp.MustCompile(`(?i)(^!|^\/)`),
	regexp.MustCompile(`(?i)(system\s+message|prompt\s+rules)`),
}

const (
	reasonForbiddenPattern = "Query contains forbidden override patterns or jailbreak attempts."
	reasonNotRelevant      = "Query is not relevant to the uploaded documents."
	reasonValid            = "Query is valid and passes the intent check."
)

// Decision is the outcome of an intent check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// GuardConfig configures intent validation.
type GuardConfig struct {
	Retriever *Retriever
	// RelevanceThreshold is the minimum best-match similarity for a query
	// to be considered on-topic.
	RelevanceThreshold float64
	// AllowedTopics, when set, additionally require one of the listed
	// keywords to appear in the query.
	AllowedTopics []string
}

// Guard screens chat queries before any generation happens. It rejects
// prompt-injection patterns outright, then checks that the query actually
// resembles the project's indexed content.
type Guard struct {
	retriever *Retriever
	threshold float64
	topics    []string
}

// NewGuard validates config and constructs the guard.
func NewGuard(cfg GuardConfig) (*Guard, error) {
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("retriever required")
	}
	threshold := cfg.RelevanceThreshold
	if threshold <= 0 {
		threshold = 0.5
	}
	topics := make([]string, 0, len(cfg.AllowedTopics))
	for _, topic := range cfg.AllowedTopics {
		topic = strings.ToLower(strings.TrimSpace(topic))
		if topic != "" {
			topics = append(topics, topic)
		}
	}
	return &Guard{
		retriever: cfg.Retriever,
		threshold: threshold,
		topics:    topics,
	}, nil
}

// Validate decides whether the query may proceed to retrieval and
// generation. Retrieval failures surface as errors, not as rejections.
func (g *Guard) Validate(ctx context.Context, projectID, query string) (Decision, error) {
	if isJailbreakAttempt(query) {
		return Decision{Allowed: false, Reason: reasonForbiddenPattern}, nil
	}
	relevant, err := g.isRelevant(ctx, projectID, query)
	if err != nil {
		return Decision{}, err
	}
	if !relevant {
		return Decision{Allowed: false, Reason: reasonNotRelevant}, nil
	}
	return Decision{Allowed: true, Reason: reasonValid}, nil
}

func isJailbreakAttempt(query string) bool {
	for _, pattern := range forbiddenPatterns {
		if pattern.MatchString(query) {
			return true
		}
	}
	return false
}

func (g *Guard) isRelevant(ctx context.Context, projectID, query string) (bool, error) {
	chunks, err := g.retriever.Retrieve(ctx, projectID, query, guardTopK)
	if err != nil {
		return false, fmt.Errorf("relevance check: %w", err)
	}
	if len(chunks) == 0 || bestScore(chunks) < g.threshold {
		return false, nil
	}
	if len(g.topics) == 0 {
		return true, nil
	}
	lowered := strings.ToLower(query)
	for _, topic := range g.topics {
		if strings.Contains(lowered, topic) {
			return true, nil
		}
	}
	return false, nil
}

func bestScore(chunks []domain.RetrievedChunk) float64 {
	best := chunks[0].Score
	for _, chunk := range chunks[1:] {
		if chunk.Score > best {
			best = chunk.Score
		}
	}
	return best
}
