package directory

import (
	"context"
	"errors"
)

var ErrPersonNotFound = errors.New("person not found in directory")

// Person is a public-figure snapshot as reported by the directory at lookup
// time. Deceased and Age are not a subscription; callers own any copy they
// keep.
type Person struct {
	ExternalID string `json:"externalID"`
	Name       string `json:"name"`
	Descriptor string `json:"descriptor"`
	Deceased   bool   `json:"deceased"`
	Age        *int   `json:"age,omitempty"`
}

// Directory resolves free-text queries and stable identifiers against an
// authoritative source of public figures and their mortality status.
type Directory interface {
	Search(ctx context.Context, query, locale string) ([]Person, error)
	Lookup(ctx context.Context, externalID string) (Person, error)
}
