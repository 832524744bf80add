// Package store provides the document persistence layer for ctxview.
//
// Documents are read and written whole. A Backend only moves bytes; the
// Documents type on top of it decodes, guards and rewrites them.
package store

import (
	"context"
	"errors"
)

// Name identifies a document.
type Name string

// Known documents, named after their files in the base directory.
const (
	Context       Name = "context.json"
	Feedback      Name = "feedback.json"
	UXConfig      Name = "ux_config.json"
	IdentityQuery Name = "identity_query.json"
	Memory        Name = "memory.md"
)

// Watched lists the documents whose changes are reported to viewers.
var Watched = []Name{Context, Feedback, UXConfig, Memory}

// ErrNotFound is returned by a Backend when the document does not exist.
var ErrNotFound = errors.New("document not found")

// Backend stores raw document bytes.
type Backend interface {
	Read(ctx context.Context, name Name) ([]byte, error)
	Write(ctx context.Context, name Name, data []byte) error
	Close() error
}
