package traffic

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/traffic-score/internal/source"
)

// DefaultRoadClassField is the OSM attribute carrying the road classification.
const DefaultRoadClassField = "highway"

const unclassified = "unclassified"

// RoadClasses maps a road classification to a synthetic daily volume.
type RoadClasses struct {
	Volumes map[string]float64 `yaml:"classes"`
	Default float64            `yaml:"default"`
}

// DefaultRoadClasses returns the built-in OSM highway volume estimates.
func DefaultRoadClasses() RoadClasses {
	return RoadClasses{
		Volumes: map[string]float64{
			"motorway":     50000,
			"trunk":        40000,
			"primary":      30000,
			"secondary":    20000,
			"tertiary":     10000,
			"residential":  2000,
			"unclassified": 5000,
		},
		Default: 5000,
	}
}

// LoadRoadClasses reads a YAML override file and merges it over the
// defaults. An empty path returns the defaults.
func LoadRoadClasses(path string) (RoadClasses, error) {
	rc := DefaultRoadClasses()
	if path == "" {
		return rc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rc, eris.Wrapf(err, "roads: read class table %s", path)
	}
	var override RoadClasses
	if err := yaml.Unmarshal(data, &override); err != nil {
		return rc, eris.Wrapf(err, "roads: parse class table %s", path)
	}

	for class, vol := range override.Volumes {
		if vol <= 0 {
			return rc, eris.Errorf("roads: class %q volume must be > 0", class)
		}
		rc.Volumes[class] = vol
	}
	if override.Default < 0 {
		return rc, eris.New("roads: default volume must be > 0")
	}
	if override.Default > 0 {
		rc.Default = override.Default
	}
	return rc, nil
}

// Volume returns the synthetic volume for a class, or Default when unknown.
func (rc RoadClasses) Volume(class string) float64 {
	if v, ok := rc.Volumes[class]; ok {
		return v
	}
	return rc.Default
}

// RoadClass normalizes a classification attribute. Lists (native or
// encoded as "['a', 'b']") yield their first element; a missing value is
// "unclassified".
func RoadClass(v any) string {
	switch t := v.(type) {
	case nil:
		return unclassified
	case string:
		s := strings.TrimSpace(t)
		if strings.HasPrefix(s, "[") && strings.HasSuffix(s, "]") {
			return firstListElement(s)
		}
		if s == "" {
			return unclassified
		}
		return s
	case []string:
		if len(t) == 0 {
			return unclassified
		}
		return RoadClass(t[0])
	case []any:
		if len(t) == 0 {
			return unclassified
		}
		return RoadClass(t[0])
	default:
		return unclassified
	}
}

func firstListElement(s string) string {
	var list []string
	if err := json.Unmarshal([]byte(s), &list); err == nil {
		if len(list) == 0 {
			return unclassified
		}
		return RoadClass(list[0])
	}
	inner := strings.TrimSpace(s[1 : len(s)-1])
	first, _, _ := strings.Cut(inner, ",")
	first = strings.Trim(strings.TrimSpace(first), `'"`)
	if first == "" {
		return unclassified
	}
	return first
}

// ExtractRoadObservations turns road segments into synthetic observations at
// their centroids. Segments without a usable geometry are skipped.
func ExtractRoadObservations(features []source.Feature, classField string, classes RoadClasses) ([]Observation, map[string]int) {
	if classField == "" {
		classField = DefaultRoadClassField
	}
	counts := make(map[string]int)
	obs := make([]Observation, 0, len(features))
	for _, f := range features {
		lon, lat, ok := Location(f.Geometry)
		if !ok {
			continue
		}
		raw, _ := f.Attributes.Lookup(classField)
		class := RoadClass(raw)
		counts[class]++
		obs = append(obs, Observation{Lon: lon, Lat: lat, Volume: classes.Volume(class), Synthetic: true})
	}
	return obs, counts
}
