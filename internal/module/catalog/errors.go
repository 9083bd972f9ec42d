package catalog

import (
	"errors"
	"fmt"
)

var (
	// ErrCatalogUnavailable means the catalog source is unreachable or its document is unusable.
	ErrCatalogUnavailable = errors.New("catalog unavailable")

	// ErrMalformedCatalog means the document was fetched but could not be accepted.
	ErrMalformedCatalog = fmt.Errorf("%w: malformed document", ErrCatalogUnavailable)
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedCatalog, fmt.Sprintf(format, args...))
}
