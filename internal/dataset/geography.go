package dataset

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/KaramelBytes/bmpopt/internal/mapper"
	"github.com/KaramelBytes/bmpopt/internal/repository"
	"github.com/KaramelBytes/bmpopt/internal/table"
)

// GeoScale selects how geography entities are interpreted.
type GeoScale int

const (
	// ScaleSegment treats entities as land-river segment names.
	ScaleSegment GeoScale = iota + 1
	// ScaleCounty treats entities as "County, ST" strings.
	ScaleCounty
)

func (s GeoScale) String() string {
	switch s {
	case ScaleSegment:
		return "segment"
	case ScaleCounty:
		return "county"
	default:
		return fmt.Sprintf("geoscale(%d)", int(s))
	}
}

// ParseGeoScale maps "segment"/"county" (case-insensitive) to a GeoScale.
func ParseGeoScale(s string) (GeoScale, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "segment", "lrseg", "landriversegment":
		return ScaleSegment, nil
	case "county":
		return ScaleCounty, nil
	default:
		return 0, &UnrecognizedGeoScaleError{Scale: s}
	}
}

// geographyResolver expands request entities into land-segment ids. It also
// returns the entities that matched no segment, in request order.
type geographyResolver interface {
	resolve(entities []string) (ids, unmatched []string, err error)
}

// newGeographyResolver picks the strategy for a scale.
func newGeographyResolver(scale GeoScale, tables Tables) (geographyResolver, error) {
	segs, err := tables.Table(repository.TableLandRiverSegment)
	if err != nil {
		return nil, err
	}
	physical, err := nonZeroArea(segs)
	if err != nil {
		return nil, err
	}
	switch scale {
	case ScaleSegment:
		return segmentResolver{segs: physical}, nil
	case ScaleCounty:
		counties, err := tables.Table(repository.TableCounty)
		if err != nil {
			return nil, err
		}
		return countyResolver{segs: physical, counties: counties}, nil
	default:
		return nil, &UnrecognizedGeoScaleError{Scale: scale.String()}
	}
}

// nonZeroArea drops segments whose totalacres is zero.
func nonZeroArea(segs *table.Frame) (*table.Frame, error) {
	var parseErr error
	out := segs.Filter(func(i int) bool {
		v, err := segs.Float(i, "totalacres")
		if err != nil {
			if parseErr == nil {
				parseErr = err
			}
			return false
		}
		return v != 0
	})
	return out, parseErr
}

type segmentResolver struct {
	segs *table.Frame
}

func (r segmentResolver) resolve(entities []string) ([]string, []string, error) {
	bySegment, err := mapper.Dict(entities, r.segs, "landriversegment", "lrsegid")
	if err != nil {
		return nil, nil, err
	}
	return union(entities, func(e string) []string { return bySegment[e] })
}

type countyResolver struct {
	segs     *table.Frame
	counties *table.Frame
}

// countyKey normalizes "Adams, PA" and "adams ,pa" to "adams, pa".
func countyKey(name, state string) string {
	return strings.ToLower(strings.TrimSpace(name)) + ", " + strings.ToLower(strings.TrimSpace(state))
}

func (r countyResolver) resolve(entities []string) ([]string, []string, error) {
	keyed := table.New(repository.TableCounty, "countykey", "countyid")
	for i := 0; i < r.counties.Len(); i++ {
		k := countyKey(r.counties.Value(i, "countyname"), r.counties.Value(i, "stateabbreviation"))
		_ = keyed.Append(k, r.counties.Value(i, "countyid"))
	}
	keyOf := make(map[string]string, len(entities))
	keys := make([]string, 0, len(entities))
	for _, e := range entities {
		name, state, ok := strings.Cut(e, ",")
		if !ok {
			continue
		}
		keyOf[e] = countyKey(name, state)
		keys = append(keys, keyOf[e])
	}
	byKey, err := mapper.Dict(keys, keyed, "countykey", "countyid")
	if err != nil {
		return nil, nil, err
	}
	countyIDs, err := mapper.FlattenedSet(keys, keyed, "countykey", "countyid")
	if err != nil {
		return nil, nil, err
	}
	byCounty, err := mapper.Dict(countyIDs, r.segs, "countyid", "lrsegid")
	if err != nil {
		return nil, nil, err
	}
	return union(entities, func(e string) []string {
		var segs []string
		if k, ok := keyOf[e]; ok {
			for _, c := range byKey[k] {
				segs = append(segs, byCounty[c]...)
			}
		}
		return segs
	})
}

// union merges the segment ids of every entity and collects entities with none.
func union(entities []string, segsOf func(string) []string) ([]string, []string, error) {
	seen := map[string]bool{}
	var ids, unmatched []string
	for _, e := range entities {
		segs := segsOf(e)
		if len(segs) == 0 {
			unmatched = append(unmatched, e)
			continue
		}
		for _, id := range segs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	return ids, unmatched, nil
}

// sortIDs orders numeric identifiers numerically and anything else lexically.
func sortIDs(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		a, errA := strconv.Atoi(ids[i])
		b, errB := strconv.Atoi(ids[j])
		if errA == nil && errB == nil {
			return a < b
		}
		return ids[i] < ids[j]
	})
}
