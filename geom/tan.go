// Public domain.

package geom

import "math"

// Sky positions and tangent plane coordinates are in degrees
// throughout this file.

// TanRaDec2Pix is the gnomonic projection of the sky about a tangent
// point.  Input points are (ra, dec), output points are tangent plane
// coordinates.
type TanRaDec2Pix struct {
	TangentPoint Point
}

func (t *TanRaDec2Pix) Apply(in Point) Point {
	ra0 := in.X*math.Pi/180 - t.TangentPoint.X*math.Pi/180
	dec := in.Y * math.Pi / 180
	sd0, cd0 := math.Sincos(t.TangentPoint.Y * math.Pi / 180)
	sd, cd := math.Sincos(dec)
	sr, cr := math.Sincos(ra0)
	denom := sd*sd0 + cd*cd0*cr
	return Point{
		X: cd * sr / denom * 180 / math.Pi,
		Y: (sd*cd0 - cd*sd0*cr) / denom * 180 / math.Pi,
	}
}

// Deproject maps tangent plane coordinates back to (ra, dec).
func (t *TanRaDec2Pix) Deproject(in Point) Point {
	x := in.X * math.Pi / 180
	y := in.Y * math.Pi / 180
	sd0, cd0 := math.Sincos(t.TangentPoint.Y * math.Pi / 180)
	d := cd0 - y*sd0
	ra := t.TangentPoint.X + math.Atan2(x, d)*180/math.Pi
	dec := math.Atan2(sd0+y*cd0, math.Hypot(x, d)) * 180 / math.Pi
	if ra < 0 {
		ra += 360
	} else if ra >= 360 {
		ra -= 360
	}
	return Point{ra, dec}
}

func (t *TanRaDec2Pix) TransformPosAndErrors(in FatPoint) FatPoint {
	return propagate(in, t.Apply(in.Point), t.Derivative(in.Point, 1e-4))
}

func (t *TanRaDec2Pix) Derivative(where Point, step float64) Lin {
	if step <= 0 {
		step = 1e-4
	}
	return numDerivative(t, where, step)
}

func (t *TanRaDec2Pix) NPar() int                             { return 0 }
func (t *TanRaDec2Pix) Params() []float64                     { return nil }
func (t *TanRaDec2Pix) ParamDerivatives(Point, []float64, []float64) {}
func (t *TanRaDec2Pix) OffsetParams([]float64)                {}

func (t *TanRaDec2Pix) Clone() Transfo {
	c := *t
	return &c
}

// Inverted returns the corresponding deprojection transform.
func (t *TanRaDec2Pix) Inverted() *TanPix2RaDec {
	return &TanPix2RaDec{
		Lin:          IdentityLin(),
		TangentPoint: t.TangentPoint,
	}
}

// TanPix2RaDec maps pixel coordinates to (ra, dec): an optional SIP
// distortion polynomial, then an affine part taking pixels to tangent
// plane degrees, then deprojection about the tangent point.
type TanPix2RaDec struct {
	Lin          Lin
	Sip          *Poly
	TangentPoint Point
}

// tp returns the tangent plane position of a pixel, before
// deprojection.
func (t *TanPix2RaDec) tp(in Point) Point {
	if t.Sip != nil {
		in = t.Sip.Apply(in)
	}
	return t.Lin.Apply(in)
}

func (t *TanPix2RaDec) Apply(in Point) Point {
	proj := TanRaDec2Pix{TangentPoint: t.TangentPoint}
	return proj.Deproject(t.tp(in))
}

func (t *TanPix2RaDec) TransformPosAndErrors(in FatPoint) FatPoint {
	return propagate(in, t.Apply(in.Point), t.Derivative(in.Point, 1e-2))
}

func (t *TanPix2RaDec) Derivative(where Point, step float64) Lin {
	if step <= 0 {
		step = 1e-2
	}
	return numDerivative(t, where, step)
}

func (t *TanPix2RaDec) NPar() int                             { return 0 }
func (t *TanPix2RaDec) Params() []float64                     { return nil }
func (t *TanPix2RaDec) ParamDerivatives(Point, []float64, []float64) {}
func (t *TanPix2RaDec) OffsetParams([]float64)                {}

func (t *TanPix2RaDec) Clone() Transfo {
	c := *t
	if t.Sip != nil {
		c.Sip = t.Sip.Clone().(*Poly)
	}
	return &c
}

// PixToTangentPlane returns the pixel to tangent plane part of the
// WCS, without the deprojection.
func (t *TanPix2RaDec) PixToTangentPlane() Transfo {
	if t.Sip == nil {
		return t.Lin
	}
	return Compose(t.Lin, t.Sip)
}
