// Package fewshot retrieves previously approved (guest question,
// answer) pairs by embedding similarity and formats them as a prompt
// fragment for the reply drafter.
package fewshot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/stayops/concierge/internal/embeddings"
	"github.com/stayops/concierge/internal/store"
)

// DefaultMinSimilarity drops matches too weak to teach the drafter
// anything.
const DefaultMinSimilarity = 0.75

// samePropertyBoost nudges same-property answers ahead of equally
// similar cross-property ones. Applied pre-ranking, clamped to 1.
const samePropertyBoost = 0.05

// Match is one retrieved answer.
type Match struct {
	GuestMessage string
	FinalAnswer  string
	Similarity   float32
	PropertyCode string
	WasEdited    bool
}

// Retriever combines the embedder and the answer store.
type Retriever struct {
	store    *store.Store
	embedder embeddings.Embedder
	logger   *slog.Logger
}

// NewRetriever creates a retriever.
func NewRetriever(st *store.Store, embedder embeddings.Embedder, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{store: st, embedder: embedder, logger: logger}
}

// StoreApproved embeds and persists one operator-approved answer.
// Called post-facto, never during drafting.
func (r *Retriever) StoreApproved(ctx context.Context, guestMessage, finalAnswer, propertyCode string, wasEdited bool, conversationRef string) error {
	vec, err := r.embedder.Embed(ctx, guestMessage)
	if err != nil {
		return fmt.Errorf("embed approved answer: %w", err)
	}
	_, err = r.store.InsertAnswerEmbedding(&store.AnswerEmbedding{
		GuestMessage:    guestMessage,
		FinalAnswer:     finalAnswer,
		Embedding:       vec,
		PropertyCode:    propertyCode,
		WasEdited:       wasEdited,
		ConversationRef: conversationRef,
	})
	if err != nil {
		return fmt.Errorf("store approved answer: %w", err)
	}
	return nil
}

// Search returns the k most similar stored answers to queryText,
// ordered by similarity descending, dropping results below
// minSimilarity. When propertyCode is set, same-property matches get
// a small ranking boost; cross-property matches remain eligible.
func (r *Retriever) Search(ctx context.Context, queryText, propertyCode string, k int, minSimilarity float32) ([]Match, error) {
	if k <= 0 {
		k = 3
	}

	queryVec, err := r.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := r.store.ListAnswerEmbeddings()
	if err != nil {
		return nil, err
	}

	matches := make([]Match, 0, len(rows))
	for _, row := range rows {
		sim := embeddings.CosineSimilarity(queryVec, row.Embedding)
		if propertyCode != "" && row.PropertyCode == propertyCode {
			sim += samePropertyBoost
			if sim > 1 {
				sim = 1
			}
		}
		if sim < minSimilarity {
			continue
		}
		matches = append(matches, Match{
			GuestMessage: row.GuestMessage,
			FinalAnswer:  row.FinalAnswer,
			Similarity:   sim,
			PropertyCode: row.PropertyCode,
			WasEdited:    row.WasEdited,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// FewShotBlock composes a prompt fragment from the top-k matches, or
// "" when nothing clears the threshold.
func (r *Retriever) FewShotBlock(ctx context.Context, queryText, propertyCode string, k int) (string, error) {
	matches, err := r.Search(ctx, queryText, propertyCode, k, DefaultMinSimilarity)
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("Previously approved answers to similar questions:\n")
	for i, m := range matches {
		fmt.Fprintf(&sb, "\nExample %d (similarity %.2f):\nGuest asked: %s\nAnswer: %s\n",
			i+1, m.Similarity, m.GuestMessage, m.FinalAnswer)
	}
	return sb.String(), nil
}
