package enrich

import "github.com/rotisserie/eris"

var (
	// ErrInvalidIdentifier is returned when a handle reduces to nothing usable.
	ErrInvalidIdentifier = eris.New("enrich: invalid linkedin identifier")

	// ErrGatewayUnavailable marks a lookup that failed outright. The runner
	// degrades it to an empty result.
	ErrGatewayUnavailable = eris.New("enrich: lookup gateway unavailable")

	// ErrPersistenceUnavailable marks a selection or upsert failure. The run
	// aborts when it sees one.
	ErrPersistenceUnavailable = eris.New("enrich: persistence unavailable")

	// ErrInvalidBatchSize is returned for a non-positive batch size.
	ErrInvalidBatchSize = eris.New("enrich: batch size must be positive")
)
