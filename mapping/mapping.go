// Public domain.

// Package mapping connects pixel space to the tangent plane for the
// fitters: a Mapping owns the free parameters moving one image, or
// one chip and one visit, and exposes derivatives with respect to
// them.
package mapping

import (
	"github.com/soniakeys/jointfit/geom"
)

// Mapping transforms measured positions into the common tangent
// plane and differentiates that transform with respect to its free
// parameters.
type Mapping interface {
	// NPar returns the number of parameters being fit.
	NPar() int

	// Index returns the offset of this mapping's first parameter
	// in the grand parameter vector; SetIndex installs it.
	Index() int
	SetIndex(int)

	// MappingIndices returns the grand vector indices of every
	// parameter of this mapping.
	MappingIndices() []int

	// Transform maps a position and propagates errors through the
	// frozen error transform.
	Transform(in geom.FatPoint) geom.FatPoint

	// TransformAndDerivatives also fills dx and dy, each NPar
	// long, with derivatives of the output coordinates with
	// respect to each parameter.
	TransformAndDerivatives(in geom.FatPoint) (out geom.FatPoint, dx, dy []float64)

	// OffsetParams adds delta, NPar long, to the parameters.
	OffsetParams(delta []float64)

	// FreezeErrorTransform fixes the transform used for error
	// propagation at the current parameter values, so that later
	// parameter moves change residuals but not weights.
	FreezeErrorTransform()
}

// SimplePolyMapping fits one polynomial per image.  Coordinates are
// normalized onto [-1,1]² before the polynomial so that its normal
// equations stay well conditioned.
type SimplePolyMapping struct {
	norm      geom.Lin
	poly      *geom.Poly
	errorProp geom.Transfo
	toBeFit   bool
	index     int
}

// NewSimplePolyMapping wraps poly behind the normalization norm.  The
// mapping starts flagged for fitting.
func NewSimplePolyMapping(norm geom.Lin, poly *geom.Poly) *SimplePolyMapping {
	m := &SimplePolyMapping{
		norm:    norm,
		poly:    poly,
		toBeFit: true,
		index:   -1,
	}
	m.FreezeErrorTransform()
	return m
}

// SetToBeFit flags whether the parameters move during fits.  A
// mapping held fixed reports zero parameters.
func (m *SimplePolyMapping) SetToBeFit(fit bool) { m.toBeFit = fit }

func (m *SimplePolyMapping) ToBeFit() bool { return m.toBeFit }

func (m *SimplePolyMapping) NPar() int {
	if !m.toBeFit {
		return 0
	}
	return m.poly.NPar()
}

func (m *SimplePolyMapping) Index() int       { return m.index }
func (m *SimplePolyMapping) SetIndex(i int)   { m.index = i }

func (m *SimplePolyMapping) MappingIndices() []int {
	n := m.NPar()
	ix := make([]int, n)
	for k := range ix {
		ix[k] = m.index + k
	}
	return ix
}

func (m *SimplePolyMapping) Transform(in geom.FatPoint) geom.FatPoint {
	out := m.errorProp.TransformPosAndErrors(in)
	out.Point = m.poly.Apply(m.norm.Apply(in.Point))
	return out
}

func (m *SimplePolyMapping) TransformAndDerivatives(in geom.FatPoint) (geom.FatPoint, []float64, []float64) {
	out := m.Transform(in)
	n := m.poly.NPar()
	dx := make([]float64, n)
	dy := make([]float64, n)
	m.poly.ParamDerivatives(m.norm.Apply(in.Point), dx, dy)
	if !m.toBeFit {
		dx = dx[:0]
		dy = dy[:0]
	}
	return out, dx, dy
}

func (m *SimplePolyMapping) OffsetParams(delta []float64) {
	if m.toBeFit {
		m.poly.OffsetParams(delta)
	}
}

func (m *SimplePolyMapping) FreezeErrorTransform() {
	m.errorProp = geom.Compose(m.poly.Clone(), m.norm)
}

// Transfo returns the full pixel to tangent plane transform,
// normalization included, at the current parameters.
func (m *SimplePolyMapping) Transfo() geom.Transfo {
	return geom.Compose(m.poly, m.norm)
}

// Poly returns the fitted polynomial, in normalized coordinates.
func (m *SimplePolyMapping) Poly() *geom.Poly { return m.poly }

// Norm returns the normalization applied before the polynomial.
func (m *SimplePolyMapping) Norm() geom.Lin { return m.norm }

// TwoTransfoMapping chains a chip mapping and a visit mapping.  The
// chip transform T1 maps pixels to the focal plane, the visit
// transform T2 maps the focal plane to the tangent plane.
type TwoTransfoMapping struct {
	Map1, Map2 *SimplePolyMapping
}

func (m *TwoTransfoMapping) NPar() int {
	return m.Map1.NPar() + m.Map2.NPar()
}

// Index returns the first parameter index of the pair, the chip's
// when it is being fit.
func (m *TwoTransfoMapping) Index() int {
	if m.Map1.NPar() > 0 {
		return m.Map1.Index()
	}
	return m.Map2.Index()
}

// SetIndex is not meaningful for the pair; component mappings carry
// their own indices.
func (m *TwoTransfoMapping) SetIndex(i int) {}

func (m *TwoTransfoMapping) MappingIndices() []int {
	return append(m.Map1.MappingIndices(), m.Map2.MappingIndices()...)
}

func (m *TwoTransfoMapping) Transform(in geom.FatPoint) geom.FatPoint {
	return m.Map2.Transform(m.Map1.Transform(in))
}

func (m *TwoTransfoMapping) TransformAndDerivatives(in geom.FatPoint) (geom.FatPoint, []float64, []float64) {
	mid, dx1, dy1 := m.Map1.TransformAndDerivatives(in)
	out, dx2, dy2 := m.Map2.TransformAndDerivatives(mid)
	n1, n2 := len(dx1), len(dx2)
	dx := make([]float64, n1+n2)
	dy := make([]float64, n1+n2)
	if n1 > 0 {
		// chain rule through the visit transform
		d2 := m.Map2.poly.Derivative(m.Map2.norm.Apply(mid.Point), 0)
		d2 = d2.ComposeLin(m.Map2.norm.Derivative(geom.Point{}, 0))
		for k := 0; k < n1; k++ {
			dx[k] = d2.A11*dx1[k] + d2.A12*dy1[k]
			dy[k] = d2.A21*dx1[k] + d2.A22*dy1[k]
		}
	}
	copy(dx[n1:], dx2)
	copy(dy[n1:], dy2)
	return out, dx, dy
}

func (m *TwoTransfoMapping) OffsetParams(delta []float64) {
	n1 := m.Map1.NPar()
	m.Map1.OffsetParams(delta[:n1])
	m.Map2.OffsetParams(delta[n1:])
}

func (m *TwoTransfoMapping) FreezeErrorTransform() {
	m.Map1.FreezeErrorTransform()
	m.Map2.FreezeErrorTransform()
}

// Transfo returns the composed pixel to tangent plane transform at
// the current parameters.
func (m *TwoTransfoMapping) Transfo() geom.Transfo {
	return geom.Compose(m.Map2.Transfo(), m.Map1.Transfo())
}
