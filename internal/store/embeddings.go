package store

import (
	"context"
	"fmt"

	"github.com/pgvector/pgvector-go"
)

const previewMaxRunes = 255

// StoreMessageEmbedding appends one immutable embedding row. Rows are never
// updated or deleted; only a truncated preview of the content is kept.
func (s *PostgresStore) StoreMessageEmbedding(ctx context.Context, sessionID, sender, content string, embedding []float32, contentHash string) error {
	if len(embedding) != s.embeddingDim {
		return fmt.Errorf("embedding has dimension %d, expected %d", len(embedding), s.embeddingDim)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO message_embeddings (session_id, sender, content_hash, content_preview, embedding)
         VALUES ($1, $2, NULLIF($3, ''), $4, $5)`,
		sessionID, sender, contentHash, previewOf(content), pgvector.NewVector(embedding),
	)
	if err != nil {
		return fmt.Errorf("failed to insert message embedding: %w", err)
	}
	return nil
}

// FindSimilarContents returns up to topK content previews from the same
// session whose cosine similarity to queryEmbedding is strictly above
// simThreshold, most similar first. The <=> operator is pgvector's cosine
// distance; similarity = 1 - distance.
func (s *PostgresStore) FindSimilarContents(ctx context.Context, sessionID string, queryEmbedding []float32, topK int, simThreshold float64) ([]string, error) {
	if len(queryEmbedding) != s.embeddingDim {
		return nil, fmt.Errorf("query embedding has dimension %d, expected %d", len(queryEmbedding), s.embeddingDim)
	}

	distanceThreshold := 1 - simThreshold
	query := pgvector.NewVector(queryEmbedding)

	rows, err := s.pool.Query(ctx,
		`SELECT content_preview FROM message_embeddings
         WHERE session_id = $1 AND embedding <=> $2 < $3
         ORDER BY embedding <=> $2 ASC
         LIMIT $4`,
		sessionID, query, distanceThreshold, topK,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar embeddings: %w", err)
	}
	defer rows.Close()

	var contents []string
	for rows.Next() {
		var preview *string
		if err := rows.Scan(&preview); err != nil {
			return nil, fmt.Errorf("failed to scan embedding row: %w", err)
		}
		if preview != nil && *preview != "" {
			contents = append(contents, *preview)
		}
	}
	return contents, rows.Err()
}

func previewOf(content string) string {
	runes := []rune(content)
	if len(runes) <= previewMaxRunes {
		return content
	}
	return string(runes[:previewMaxRunes])
}
