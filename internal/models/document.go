package models

import "time"

// Document is a knowledge base source file.
type Document struct {
	ID        int64     `json:"id"`
	Source    string    `json:"source"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

// Passage is a chunk of a document returned by retrieval.
type Passage struct {
	DocumentID int64   `json:"document_id"`
	Source     string  `json:"source"`
	Index      int     `json:"index"`
	Content    string  `json:"content"`
	Score      float64 `json:"score"`
}
