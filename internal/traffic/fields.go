package traffic

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sells-group/traffic-score/internal/source"
)

// EarliestYear is the oldest yearly volume field probed.
const EarliestYear = 2000

// FallbackVolumeFields are probed, in order, when no yearly field yields a volume.
var FallbackVolumeFields = []string{"AADT", "ADT", "Volume", "VOLUME", "Traffic_Volume", "Count"}

// VolumeRule reads one candidate attribute. Parse reports false when the
// value is unusable.
type VolumeRule struct {
	Field string
	Parse func(v any) (float64, bool)
}

// DefaultVolumeRules returns YEAR<latestYear> down to YEAR2000 followed by
// the fallback fields. A latestYear of 0 means the current calendar year.
func DefaultVolumeRules(latestYear int) []VolumeRule {
	if latestYear <= 0 {
		latestYear = time.Now().Year()
	}
	var rules []VolumeRule
	for y := latestYear; y >= EarliestYear; y-- {
		rules = append(rules, VolumeRule{Field: fmt.Sprintf("YEAR%d", y), Parse: ParsePositive})
	}
	for _, f := range FallbackVolumeFields {
		rules = append(rules, VolumeRule{Field: f, Parse: ParsePositive})
	}
	return rules
}

// ResolveVolume returns the value of the first rule whose field is present
// and parses, along with that field name.
func ResolveVolume(attrs source.Attributes, rules []VolumeRule) (float64, string, bool) {
	for _, r := range rules {
		raw, ok := attrs.Lookup(r.Field)
		if !ok {
			continue
		}
		if v, ok := r.Parse(raw); ok {
			return v, r.Field, true
		}
	}
	return 0, "", false
}

// ParsePositive accepts finite, strictly positive numbers given as Go
// numerics, json.Number or numeric strings.
func ParsePositive(v any) (float64, bool) {
	var f float64
	switch t := v.(type) {
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case uint32:
		f = float64(t)
	case uint64:
		f = float64(t)
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return 0, false
		}
		f = n
	case string:
		n, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		f = n
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0, false
	}
	return f, true
}
