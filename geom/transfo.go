// Public domain.

package geom

// Transfo maps plane coordinates to plane coordinates.
//
// Implementations with free parameters expose them through NPar,
// Params, ParamDerivatives and OffsetParams; fixed transforms report
// NPar of zero.
type Transfo interface {
	// Apply maps a position.
	Apply(in Point) Point

	// TransformPosAndErrors maps a position and propagates its
	// covariance through the local derivative.
	TransformPosAndErrors(in FatPoint) FatPoint

	// Derivative returns the local linear derivative at where.
	// Step is the offset used by implementations that
	// differentiate numerically.
	Derivative(where Point, step float64) Lin

	// NPar returns the number of free parameters.
	NPar() int

	// Params returns the free parameters.  The slice aliases
	// internal state for transforms that have any.
	Params() []float64

	// ParamDerivatives fills dx and dy, each NPar long, with the
	// derivatives of the output x and y with respect to each
	// parameter, evaluated at where.
	ParamDerivatives(where Point, dx, dy []float64)

	// OffsetParams adds delta, NPar long, to the parameters.
	OffsetParams(delta []float64)

	// Clone returns a deep copy.
	Clone() Transfo
}

// FitTransfo is a Transfo whose parameters can be adjusted to a list
// of point pairs by weighted least squares.
type FitTransfo interface {
	Transfo
	// Fit adjusts parameters so that Apply(from[i]) approaches
	// to[i], weighting by the to covariances.  It returns the
	// weighted chi2 of the fit.
	Fit(from []Point, to []FatPoint) (chi2 float64, err error)
}

// propagate maps in through apply and propagates the covariance with
// the jacobian d.
func propagate(in FatPoint, out Point, d Lin) FatPoint {
	a11, a12 := d.A11, d.A12
	a21, a22 := d.A21, d.A22
	return FatPoint{
		Point: out,
		Vx:    a11*a11*in.Vx + a12*a12*in.Vy + 2*a11*a12*in.Vxy,
		Vy:    a21*a21*in.Vx + a22*a22*in.Vy + 2*a21*a22*in.Vxy,
		Vxy:   a11*a21*in.Vx + a12*a22*in.Vy + (a11*a22+a12*a21)*in.Vxy,
	}
}

// numDerivative differentiates t numerically with central differences.
func numDerivative(t Transfo, where Point, step float64) Lin {
	xp := t.Apply(Point{where.X + step, where.Y})
	xm := t.Apply(Point{where.X - step, where.Y})
	yp := t.Apply(Point{where.X, where.Y + step})
	ym := t.Apply(Point{where.X, where.Y - step})
	h := 1 / (2 * step)
	return Lin{
		A11: (xp.X - xm.X) * h, A12: (yp.X - ym.X) * h,
		A21: (xp.Y - xm.Y) * h, A22: (yp.Y - ym.Y) * h,
	}
}

// LinearApproximation returns the first order expansion of t about
// where, exact at where.
func LinearApproximation(t Transfo, where Point, step float64) Lin {
	d := t.Derivative(where, step)
	out := t.Apply(where)
	d.Dx = out.X - d.A11*where.X - d.A12*where.Y
	d.Dy = out.Y - d.A21*where.X - d.A22*where.Y
	return d
}

// Identity maps every point to itself.
type Identity struct{}

func (Identity) Apply(in Point) Point { return in }

func (Identity) TransformPosAndErrors(in FatPoint) FatPoint { return in }

func (Identity) Derivative(Point, float64) Lin {
	return Lin{A11: 1, A22: 1}
}

func (Identity) NPar() int                             { return 0 }
func (Identity) Params() []float64                     { return nil }
func (Identity) ParamDerivatives(Point, []float64, []float64) {}
func (Identity) OffsetParams([]float64)                {}
func (Identity) Clone() Transfo                        { return Identity{} }

// Lin is an affine transform.  It has no free parameters; the
// fittable degree 1 polynomial is Poly.
type Lin struct {
	Dx, Dy             float64
	A11, A12, A21, A22 float64
}

// IdentityLin returns the identity affine transform.
func IdentityLin() Lin { return Lin{A11: 1, A22: 1} }

// ShiftLin returns a pure translation.
func ShiftLin(dx, dy float64) Lin {
	return Lin{Dx: dx, Dy: dy, A11: 1, A22: 1}
}

// ScaleLin returns a scaling about the origin.
func ScaleLin(sx, sy float64) Lin {
	return Lin{A11: sx, A22: sy}
}

func (l Lin) Apply(in Point) Point {
	return Point{
		X: l.Dx + l.A11*in.X + l.A12*in.Y,
		Y: l.Dy + l.A21*in.X + l.A22*in.Y,
	}
}

func (l Lin) TransformPosAndErrors(in FatPoint) FatPoint {
	return propagate(in, l.Apply(in.Point), l)
}

func (l Lin) Derivative(Point, float64) Lin {
	l.Dx = 0
	l.Dy = 0
	return l
}

func (l Lin) NPar() int                             { return 0 }
func (l Lin) Params() []float64                     { return nil }
func (l Lin) ParamDerivatives(Point, []float64, []float64) {}
func (l Lin) OffsetParams([]float64)                {}
func (l Lin) Clone() Transfo                        { return l }

// Det returns the determinant of the linear part.
func (l Lin) Det() float64 { return l.A11*l.A22 - l.A12*l.A21 }

// ComposeLin returns l∘m, applying m first.
func (l Lin) ComposeLin(m Lin) Lin {
	return Lin{
		Dx:  l.Dx + l.A11*m.Dx + l.A12*m.Dy,
		Dy:  l.Dy + l.A21*m.Dx + l.A22*m.Dy,
		A11: l.A11*m.A11 + l.A12*m.A21,
		A12: l.A11*m.A12 + l.A12*m.A22,
		A21: l.A21*m.A11 + l.A22*m.A21,
		A22: l.A21*m.A12 + l.A22*m.A22,
	}
}

// Invert returns the inverse affine transform.  An error wrapping
// ErrNumeric is returned for a singular linear part.
func (l Lin) Invert() (Lin, error) {
	det := l.Det()
	if det == 0 {
		return Lin{}, numErrf("Lin.Invert: singular transform")
	}
	i := Lin{
		A11: l.A22 / det, A12: -l.A12 / det,
		A21: -l.A21 / det, A22: l.A11 / det,
	}
	i.Dx = -(i.A11*l.Dx + i.A12*l.Dy)
	i.Dy = -(i.A21*l.Dx + i.A22*l.Dy)
	return i, nil
}

// NormalizeCoordinatesTransfo returns the affine transform mapping
// frame onto [-1,1]×[-1,1].
func NormalizeCoordinatesTransfo(frame Frame) Lin {
	c := frame.Center()
	return Lin{
		Dx:  -2 * c.X / (frame.XMax - frame.XMin),
		Dy:  -2 * c.Y / (frame.YMax - frame.YMin),
		A11: 2 / (frame.XMax - frame.XMin),
		A22: 2 / (frame.YMax - frame.YMin),
	}
}

// Composition chains two transforms, applying First then Second.  It
// carries no free parameters of its own.
type Composition struct {
	First, Second Transfo
}

func (c Composition) Apply(in Point) Point {
	return c.Second.Apply(c.First.Apply(in))
}

func (c Composition) TransformPosAndErrors(in FatPoint) FatPoint {
	return c.Second.TransformPosAndErrors(c.First.TransformPosAndErrors(in))
}

func (c Composition) Derivative(where Point, step float64) Lin {
	return numDerivative(c, where, step)
}

func (c Composition) NPar() int                             { return 0 }
func (c Composition) Params() []float64                     { return nil }
func (c Composition) ParamDerivatives(Point, []float64, []float64) {}
func (c Composition) OffsetParams([]float64)                {}

func (c Composition) Clone() Transfo {
	return Composition{First: c.First.Clone(), Second: c.Second.Clone()}
}

// Compose returns second∘first, applying first first.  Affine and
// polynomial pairs compose into a single Poly when the product of
// degrees stays within maxPolyDegree; other pairs chain through a
// Composition.
func Compose(second, first Transfo) Transfo {
	ps, oks := asPoly(second)
	pf, okf := asPoly(first)
	if oks && okf && ps.Degree*pf.Degree <= maxPolyDegree {
		return ps.ComposePoly(pf)
	}
	return Composition{First: first, Second: second}
}

// asPoly views affine and polynomial transforms as a *Poly.
func asPoly(t Transfo) (*Poly, bool) {
	switch t := t.(type) {
	case *Poly:
		return t, true
	case Identity:
		return NewPoly(1), true
	case Lin:
		return PolyFromLin(t), true
	}
	return nil, false
}
