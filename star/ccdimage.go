// Public domain.

package star

import (
	"fmt"
	"time"

	"github.com/soniakeys/meeus/v3/julian"

	"github.com/soniakeys/jointfit/geom"
)

// Source is one raw detection as read from an input catalog: pixel
// position, covariance, and instrumental flux.
type Source struct {
	X, Y        float64
	Vx, Vy, Vxy float64
	Flux, EFlux float64
}

// CcdImage is one chip of one exposure with its detections.
type CcdImage struct {
	Visit, Ccd int
	Filter     string
	MJD        float64
	Airmass    float64

	// PhotC is the photometric calibration factor applied to
	// instrumental fluxes before model factors.
	PhotC float64

	// Frame is the pixel bounding box of the chip.
	Frame geom.Frame

	// ReadWcs is the astrometric solution the input came with.
	ReadWcs *geom.TanPix2RaDec

	// Sky2TP projects the sky about the common tangent point;
	// Pix2TP chains ReadWcs with it.  Both are reset by
	// SetCommonTangentPoint.
	Sky2TP *geom.TanRaDec2Pix
	Pix2TP geom.Transfo

	// WholeCatalog holds every detection; CatalogForFit the subset
	// selected for fitting.
	WholeCatalog  MeasuredStarList
	CatalogForFit MeasuredStarList
}

// NewCcdImage builds a CcdImage from raw detections.  Sources with
// zero variance get defaultVar, in pixel units.
func NewCcdImage(sources []Source, readWcs *geom.TanPix2RaDec,
	frame geom.Frame, visit, ccd int, filter string,
	mjd, airmass, photC, defaultVar float64) *CcdImage {

	c := &CcdImage{
		Visit:   visit,
		Ccd:     ccd,
		Filter:  filter,
		MJD:     mjd,
		Airmass: airmass,
		PhotC:   photC,
		Frame:   frame,
		ReadWcs: readWcs,
	}
	c.WholeCatalog = make(MeasuredStarList, len(sources))
	for i, s := range sources {
		vx, vy := s.Vx, s.Vy
		if vx <= 0 {
			vx = defaultVar
		}
		if vy <= 0 {
			vy = defaultVar
		}
		c.WholeCatalog[i] = &MeasuredStar{
			BaseStar: BaseStar{
				FatPoint: geom.FatPoint{
					Point: geom.Point{X: s.X, Y: s.Y},
					Vx:    vx, Vy: vy, Vxy: s.Vxy,
				},
				Flux: s.Flux,
			},
			EFlux:    s.EFlux,
			Valid:    true,
			CcdImage: c,
		}
	}
	c.CatalogForFit = append(MeasuredStarList{}, c.WholeCatalog...)
	return c
}

// Name identifies the image in logs and diagnostics.
func (c *CcdImage) Name() string {
	return fmt.Sprintf("%d-%d", c.Visit, c.Ccd)
}

// SetCommonTangentPoint installs the projection used to compare this
// image with the others.  The point is in degrees.
func (c *CcdImage) SetCommonTangentPoint(p geom.Point) {
	c.Sky2TP = &geom.TanRaDec2Pix{TangentPoint: p}
	c.Pix2TP = geom.Compose(c.Sky2TP, c.ReadWcs)
}

// ObsDate returns the observation time of the exposure.
func (c *CcdImage) ObsDate() time.Time {
	return julian.JDToTime(c.MJD + 2400000.5)
}
