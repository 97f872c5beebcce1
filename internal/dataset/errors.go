package dataset

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRepositoryUnavailable is returned when an assembler is built without reference tables.
var ErrRepositoryUnavailable = errors.New("reference repository unavailable")

// UnrecognizedGeoScaleError reports a geography scale other than segment or county.
type UnrecognizedGeoScaleError struct {
	Scale string
}

func (e *UnrecognizedGeoScaleError) Error() string {
	return fmt.Sprintf("unrecognized geography scale %q (want segment or county)", e.Scale)
}

// NoMatchingGeographyError reports a geography request that resolved to no land segment.
type NoMatchingGeographyError struct {
	Scale    GeoScale
	Entities []string
}

func (e *NoMatchingGeographyError) Error() string {
	return fmt.Sprintf("no land segment with non-zero area matches %s geography [%s]", e.Scale, strings.Join(e.Entities, "; "))
}

// AmbiguousBMPTypeError reports a BMP present in more than one type table.
type AmbiguousBMPTypeError struct {
	BMP   string
	Types []string
}

func (e *AmbiguousBMPTypeError) Error() string {
	return fmt.Sprintf("bmp %s is classified as more than one type: %s", e.BMP, strings.Join(e.Types, ", "))
}

// MissingBMPTypeError reports a BMP with no type membership and no fallback type.
type MissingBMPTypeError struct {
	BMP string
}

func (e *MissingBMPTypeError) Error() string {
	return fmt.Sprintf("bmp %s has no type: not in any type table and no bmptype fallback", e.BMP)
}

// InvalidParameterError reports a parameter value outside its domain.
type InvalidParameterError struct {
	Param string
	Key   string
	Value float64
	Want  string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("parameter %s[%s] = %g, want %s", e.Param, e.Key, e.Value, e.Want)
}

// NonFiniteLoadError reports a base load (rate times area) that is infinite or NaN.
type NonFiniteLoadError struct {
	Pollutant  string
	LoadSource string
	Segment    string
	Agency     string
	Rate       float64
	Area       float64
}

func (e *NonFiniteLoadError) Error() string {
	return fmt.Sprintf("non-finite base load for pollutant %s, load source %s (segment %s, agency %s): rate %g x area %g",
		e.Pollutant, e.LoadSource, e.Segment, e.Agency, e.Rate, e.Area)
}
