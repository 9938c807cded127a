// Public domain.

// Package simul generates synthetic star fields and exposures with
// known transforms, for tests and for the command's self check.
package simul

import (
	"math"

	xrand "golang.org/x/exp/rand"

	"github.com/soniakeys/jointfit/geom"
	"github.com/soniakeys/jointfit/star"
)

// PixScale is the plate scale of generated exposures, degrees per
// pixel (.2 arcsec).
const PixScale = .2 / 3600

// Generator draws fields and exposures from a seeded source, so any
// sequence of calls is repeatable.
type Generator struct {
	rnd *xrand.Rand
}

// New returns a Generator seeded with seed.
func New(seed uint64) *Generator {
	rnd := xrand.New(&xrand.PCGSource{})
	rnd.Seed(seed)
	return &Generator{rnd: rnd}
}

// Field is a set of true star positions on the sky.
type Field struct {
	TangentPoint geom.Point // degrees
	Sky          []geom.Point
	Flux         []float64
}

// Field draws n stars within halfWidth degrees of the tangent point.
func (g *Generator) Field(n int, tangentPoint geom.Point, halfWidth float64) *Field {
	f := &Field{TangentPoint: tangentPoint}
	for i := 0; i < n; i++ {
		f.Sky = append(f.Sky, geom.Point{
			X: tangentPoint.X + (g.rnd.Float64()*2-1)*halfWidth,
			Y: tangentPoint.Y + (g.rnd.Float64()*2-1)*halfWidth,
		})
		f.Flux = append(f.Flux, 1000*math.Exp(g.rnd.NormFloat64()*.5))
	}
	return f
}

// ExposureOpts shape one generated exposure.
type ExposureOpts struct {
	Visit, Ccd int
	MJD        float64

	// Offset displaces the exposure's pointing from the field
	// tangent point, in degrees.
	Offset geom.Point

	// Rot rotates the camera, radians.
	Rot float64

	// Distortion, when non nil, bends true pixel positions before
	// they are reported.  The fitters should recover it.
	Distortion geom.Transfo

	// NoisePix is the gaussian measurement noise, pixels.
	NoisePix float64

	// FluxFactor scales true fluxes, standing in for transparency
	// and exposure time.  Zero means 1.
	FluxFactor float64

	// Frame is the chip bounding box.  Zero means 2048².
	Frame geom.Frame
}

// Exposure observes field under opts.  The reported WCS is the true
// undistorted one, so any Distortion is left for the fit to find.
// Stars falling off the frame are dropped.
func (g *Generator) Exposure(field *Field, opts ExposureOpts) *star.CcdImage {
	frame := opts.Frame
	if frame.Area() == 0 {
		frame = geom.Frame{XMax: 2048, YMax: 2048}
	}
	ff := opts.FluxFactor
	if ff == 0 {
		ff = 1
	}
	tp := geom.Point{
		X: field.TangentPoint.X + opts.Offset.X,
		Y: field.TangentPoint.Y + opts.Offset.Y,
	}
	sr, cr := math.Sincos(opts.Rot)
	lin := geom.Lin{
		A11: PixScale * cr, A12: -PixScale * sr,
		A21: PixScale * sr, A22: PixScale * cr,
	}
	// center the frame on the pointing
	c := frame.Center()
	mid := lin.Apply(c)
	lin.Dx = -mid.X
	lin.Dy = -mid.Y
	wcs := &geom.TanPix2RaDec{Lin: lin, TangentPoint: tp}
	tan2pix, err := lin.Invert()
	if err != nil {
		panic(err)
	}
	proj := geom.TanRaDec2Pix{TangentPoint: tp}
	noiseVar := opts.NoisePix * opts.NoisePix
	if noiseVar == 0 {
		noiseVar = 1e-8
	}
	var srcs []star.Source
	for i, sky := range field.Sky {
		pix := tan2pix.Apply(proj.Apply(sky))
		if opts.Distortion != nil {
			pix = opts.Distortion.Apply(pix)
		}
		pix.X += g.rnd.NormFloat64() * opts.NoisePix
		pix.Y += g.rnd.NormFloat64() * opts.NoisePix
		if !frame.Contains(pix) {
			continue
		}
		flux := field.Flux[i] * ff
		srcs = append(srcs, star.Source{
			X: pix.X, Y: pix.Y,
			Vx: noiseVar, Vy: noiseVar,
			Flux:  flux * (1 + g.rnd.NormFloat64()*.01),
			EFlux: flux * .01,
		})
	}
	return star.NewCcdImage(srcs, wcs, frame,
		opts.Visit, opts.Ccd, "r", opts.MJD, 1, 1, noiseVar)
}
