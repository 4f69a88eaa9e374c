package lookup

import "context"

// Provider is the collaborator interface implemented by ncbi.Client and
// ensembl.Client: submit a batch of identifiers for one organism and get
// back a per-identifier answer.
type Provider interface {
	Name() string
	// BatchSize is the maximum number of identifiers this provider accepts
	// in one call. Providers without batch support return 1.
	BatchSize() int
	Resolve(ctx context.Context, organism string, identifiers []string) ([]Answer, error)
}

// Answer is one provider's verdict for a single identifier.
type Answer struct {
	Identifier    string
	Found         bool
	Ambiguous     bool
	CanonicalName string
}
