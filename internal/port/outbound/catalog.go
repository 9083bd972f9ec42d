package outbound

import "context"

// CatalogSourcePort fetches the raw pricing catalog document.
type CatalogSourcePort interface {
	// Name identifies the source in logs and metrics.
	Name() string

	// Fetch returns the current document bytes.
	Fetch(ctx context.Context) ([]byte, error)
}
