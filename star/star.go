// Public domain.

// Package star has the objects tied together by the association
// graph: detections on single exposures (MeasuredStar), the sky
// objects they are grouped into (FittedStar), external catalog
// entries (RefStar), and the exposures themselves (CcdImage).
package star

import (
	"sort"

	"github.com/soniakeys/coord"
	"github.com/soniakeys/unit"

	"github.com/soniakeys/jointfit/geom"
)

// BaseStar is a position with errors and a flux.
type BaseStar struct {
	geom.FatPoint
	Flux float64
}

// MeasuredStar is a detection on one CcdImage.  Its FatPoint is the
// pixel position with measurement covariance.
type MeasuredStar struct {
	BaseStar
	EFlux float64
	Mag   float64

	// TP is the position projected to the common tangent plane,
	// maintained by the association stage for matching.
	TP geom.Point

	// Valid is cleared when the measurement is clipped as an
	// outlier.  Invalid measurements stay in the catalog but no
	// longer contribute to fits.
	Valid bool

	FittedStar *FittedStar
	CcdImage   *CcdImage
}

// InstFluxErr returns the flux error, substituting a 10% error when
// none was measured.
func (m *MeasuredStar) InstFluxErr() float64 {
	if m.EFlux > 0 {
		return m.EFlux
	}
	return .1 * m.Flux
}

// MeasuredStarList is a list of detections, one per list per
// CcdImage.
type MeasuredStarList []*MeasuredStar

// Motion is the proper motion diagnostic of a FittedStar, from a
// great circle fit of its measurements over time.
type Motion struct {
	RatePerDay unit.Angle // motion along the fitted great circle
	Rms        unit.Angle // scatter about the fit
	NObs       int
}

// FittedStar is a sky object.  Its FatPoint is the position in the
// common tangent plane, in degrees; Flux aggregates the measured
// fluxes.
type FittedStar struct {
	BaseStar
	Mag   float64
	Color float64

	// MeasCount tracks how many valid measurements point here.
	MeasCount int

	// IndexInMatrix and FluxIndex locate this star's position and
	// flux parameters in the fit.  They are -1 outside an
	// assignment.
	IndexInMatrix int
	FluxIndex     int

	RefStar *RefStar

	// Sky is the deprojected position, maintained by
	// DeprojectFittedStars.
	Sky coord.Equa

	// PM is filled by EstimateMotions.
	PM *Motion
}

// NewFittedStar returns a FittedStar at the position and flux of m
// with indices invalidated.
func NewFittedStar(m *MeasuredStar) *FittedStar {
	return &FittedStar{
		BaseStar:      m.BaseStar,
		Mag:           m.Mag,
		IndexInMatrix: -1,
		FluxIndex:     -1,
	}
}

// FittedStarList is the set of sky objects of an association run.
type FittedStarList []*FittedStar

// RefStar is an external catalog entry projected into the common
// tangent plane.  Flux is in the band being fit.
type RefStar struct {
	BaseStar
	Sky coord.Equa
	MJD float64 // catalog epoch
}

type RefStarList []*RefStar

// CcdImageList is a list of exposures.  Fitters iterate it in the
// order built by the association stage.
type CcdImageList []*CcdImage

// SortByName orders the list by visit then chip so that runs over
// the same data are repeatable.
func (l CcdImageList) SortByName() {
	sort.Slice(l, func(i, j int) bool {
		if l[i].Visit != l[j].Visit {
			return l[i].Visit < l[j].Visit
		}
		return l[i].Ccd < l[j].Ccd
	})
}

// Visits returns the distinct visit ids in list order.
func (l CcdImageList) Visits() []int {
	seen := map[int]bool{}
	var v []int
	for _, c := range l {
		if !seen[c.Visit] {
			seen[c.Visit] = true
			v = append(v, c.Visit)
		}
	}
	return v
}
