package types

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// EmbeddingDimension is the fixed length of every stored embedding
const EmbeddingDimension = 384

// Kind classifies a record
type Kind string

const (
	KindIssue  Kind = "issue"
	KindSpec   Kind = "spec"
	KindArch   Kind = "arch"
	KindUpdate Kind = "update"
)

// Kinds lists every valid kind in declaration order
var Kinds = []Kind{KindIssue, KindSpec, KindArch, KindUpdate}

// Valid reports whether k is one of the enumerated kinds
func (k Kind) Valid() bool {
	switch k {
	case KindIssue, KindSpec, KindArch, KindUpdate:
		return true
	}
	return false
}

// Status tracks the lifecycle of a record
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
	StatusArchived Status = "archived"
)

// Statuses lists every valid status in declaration order
var Statuses = []Status{StatusOpen, StatusResolved, StatusArchived}

// Valid reports whether s is one of the enumerated statuses
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusResolved, StatusArchived:
		return true
	}
	return false
}

// Project is one repository-or-directory identity
type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	RecordCount int       `json:"record_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Record is a stored memory item. Embedding and ProjectID never leave the
// process in the wire shape.
type Record struct {
	ID         int64     `json:"id"`
	ProjectID  int64     `json:"-"`
	Project    string    `json:"project"`
	Kind       Kind      `json:"kind"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	Status     Status    `json:"status"`
	Embedding  []float32 `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
	Similarity *float64  `json:"similarity,omitempty"`
}

// Normalize fills defaults that callers may leave empty
func (r *Record) Normalize() {
	if r.Status == "" {
		r.Status = StatusOpen
	}
	r.Title = strings.TrimSpace(r.Title)
}

// Validate checks kind, status and title. It does not look at the embedding.
func (r *Record) Validate() error {
	if r.ID < 0 {
		return ErrInvalidID
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("%w: %q (want one of issue, spec, arch, update)", ErrInvalidKind, r.Kind)
	}
	if !r.Status.Valid() {
		return fmt.Errorf("%w: %q (want one of open, resolved, archived)", ErrInvalidStatus, r.Status)
	}
	if strings.TrimSpace(r.Title) == "" {
		return ErrEmptyTitle
	}
	return nil
}

// ValidateEmbedding checks length and that every component is finite and
// the vector is not all zeros
func ValidateEmbedding(v []float32) error {
	if len(v) != EmbeddingDimension {
		return fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(v), EmbeddingDimension)
	}
	var sum float64
	for _, x := range v {
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrInvalidEmbedding
		}
		sum += f * f
	}
	if sum == 0 {
		return ErrInvalidEmbedding
	}
	return nil
}

// EmbeddingText is the text embedded for a record
func EmbeddingText(title, body string) string {
	if body == "" {
		return title
	}
	return title + "\n\n" + body
}
