package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// AnswerEmbedding is one approved (guest question, final answer) pair
// with its embedding vector. Rows are immutable after insert; they are
// only created once an operator has approved an answer.
type AnswerEmbedding struct {
	ID              int64
	GuestMessage    string
	FinalAnswer     string
	Embedding       []float32
	PropertyCode    string
	WasEdited       bool
	ConversationRef string
	CreatedAt       time.Time
}

// InsertAnswerEmbedding stores one approved answer.
func (s *Store) InsertAnswerEmbedding(a *AnswerEmbedding) (int64, error) {
	if len(a.Embedding) == 0 {
		return 0, fmt.Errorf("embedding vector is required")
	}

	res, err := s.db.Exec(`
		INSERT INTO answer_embeddings (
			guest_message, final_answer, embedding, property_code,
			was_edited, conversation_ref, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.GuestMessage, a.FinalAnswer, encodeVector(a.Embedding), nullString(a.PropertyCode),
		a.WasEdited, a.ConversationRef, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert answer embedding: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert answer embedding id: %w", err)
	}
	a.ID = id
	return id, nil
}

// ListAnswerEmbeddings returns all stored answers. The retrieval layer
// scores them in memory; corpus sizes here are thousands, not millions.
func (s *Store) ListAnswerEmbeddings() ([]*AnswerEmbedding, error) {
	rows, err := s.db.Query(`
		SELECT id, guest_message, final_answer, embedding, property_code,
			was_edited, conversation_ref, created_at
		FROM answer_embeddings`)
	if err != nil {
		return nil, fmt.Errorf("list answer embeddings: %w", err)
	}
	defer rows.Close()

	var out []*AnswerEmbedding
	for rows.Next() {
		var a AnswerEmbedding
		var blob []byte
		var propertyNS sql.NullString
		if err := rows.Scan(&a.ID, &a.GuestMessage, &a.FinalAnswer, &blob, &propertyNS,
			&a.WasEdited, &a.ConversationRef, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan answer embedding: %w", err)
		}
		a.PropertyCode = scanNullString(propertyNS)
		vec, err := decodeVector(blob)
		if err != nil {
			return nil, fmt.Errorf("decode embedding %d: %w", a.ID, err)
		}
		a.Embedding = vec
		out = append(out, &a)
	}
	return out, rows.Err()
}

// encodeVector packs float32s little-endian for BLOB storage.
func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeVector unpacks a BLOB written by encodeVector.
func decodeVector(blob []byte) ([]float32, error) {
	if len(blob)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d is not a multiple of 4", len(blob))
	}
	vec := make([]float32, len(blob)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vec, nil
}
