package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error by which collaborator failed, so callers can decide
// whether a failure aborts the turn or degrades it.
type Kind string

const (
	KindPersistence   Kind = "persistence"
	KindGeneration    Kind = "generation"
	KindEmbedding     Kind = "embedding"
	KindRetrieval     Kind = "retrieval"
	KindIndexing      Kind = "indexing"
	KindSummarization Kind = "summarization"
)

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return "unknown error"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s failed: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s failed", e.Op, e.Kind)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func E(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" if none.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
