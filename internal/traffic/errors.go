package traffic

import (
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/sells-group/traffic-score/internal/spatial"
)

var (
	// ErrNotPrepared is returned by queries issued before a model is installed.
	ErrNotPrepared = eris.New("traffic: scorer not prepared")

	// ErrNoData is returned when ingestion yields no usable observations.
	ErrNoData = eris.New("traffic: no usable observations")

	// ErrSourceUnavailable matches any *SourceError.
	ErrSourceUnavailable = eris.New("traffic: source unavailable")

	// ErrCorruptCache is returned when a cache file exists but cannot be read back.
	ErrCorruptCache = eris.New("traffic: corrupt cache")

	// ErrCacheNotFound is returned when no cache file exists at the path.
	ErrCacheNotFound = eris.New("traffic: cache not found")

	// ErrInvalidCoordinate is returned for non-finite or out-of-range lon/lat.
	ErrInvalidCoordinate = eris.New("traffic: invalid coordinate")

	// ErrInvalidMaxDistance is returned for a negative or non-finite cutoff.
	ErrInvalidMaxDistance = eris.New("traffic: invalid max distance")

	// ErrInvalidK is returned when a query asks for fewer than one neighbor.
	ErrInvalidK = spatial.ErrInvalidK
)

// SourceError reports a failing observation or road-network source.
type SourceError struct {
	Source string
	Err    error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("traffic: source %s unavailable: %v", e.Source, e.Err)
}

func (e *SourceError) Unwrap() error { return e.Err }

// Is reports true for ErrSourceUnavailable.
func (e *SourceError) Is(target error) bool {
	return target == ErrSourceUnavailable
}
