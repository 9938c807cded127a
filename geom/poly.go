// Public domain.

package geom

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// maxPolyDegree caps the degree of composed polynomials.  Above this
// the formal product is numerically useless and a Composition chain
// is returned instead.
const maxPolyDegree = 9

func invErrf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidArgument)...)
}

func numErrf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrNumeric)...)
}

// NTerms returns the number of monomials of a 2D polynomial of the
// given degree.
func NTerms(degree int) int {
	return (degree + 1) * (degree + 2) / 2
}

// monIndex returns the coefficient index of x^i y^j in a polynomial
// of the given degree.  Terms are ordered with the x power outermost.
func monIndex(degree, i, j int) int {
	return i*(degree+1) - i*(i-1)/2 + j
}

// Poly is a transform where each output coordinate is a 2D polynomial
// of the input coordinates.  Both output polynomials share one degree.
//
// Coeffs holds the x' coefficients followed by the y' coefficients,
// each NTerms(Degree) long, ordered by monIndex.
type Poly struct {
	Degree int
	Coeffs []float64
}

// NewPoly returns the identity polynomial transform of the given
// degree.  Degree must be at least 1.
func NewPoly(degree int) *Poly {
	if degree < 1 {
		degree = 1
	}
	nt := NTerms(degree)
	p := &Poly{Degree: degree, Coeffs: make([]float64, 2*nt)}
	p.Coeffs[monIndex(degree, 1, 0)] = 1      // x' = x
	p.Coeffs[nt+monIndex(degree, 0, 1)] = 1   // y' = y
	return p
}

// PolyFromLin returns the degree 1 polynomial equal to l.
func PolyFromLin(l Lin) *Poly {
	return &Poly{Degree: 1, Coeffs: []float64{
		l.Dx, l.A12, l.A11,
		l.Dy, l.A22, l.A21,
	}}
}

// ToLin returns the affine transform equal to p.  An error wrapping
// ErrInvalidArgument is returned unless p has degree 1.
func (p *Poly) ToLin() (Lin, error) {
	if p.Degree != 1 {
		return Lin{}, invErrf("Poly.ToLin: degree %d", p.Degree)
	}
	return Lin{
		Dx: p.Coeffs[0], A12: p.Coeffs[1], A11: p.Coeffs[2],
		Dy: p.Coeffs[3], A22: p.Coeffs[4], A21: p.Coeffs[5],
	}, nil
}

// Monomials fills out, NTerms(p.Degree) long, with the monomial
// values at where.
func (p *Poly) Monomials(where Point, out []float64) {
	d := p.Degree
	xi := 1.
	k := 0
	for i := 0; i <= d; i++ {
		m := xi
		for j := 0; j <= d-i; j++ {
			out[k] = m
			m *= where.Y
			k++
		}
		xi *= where.X
	}
}

func (p *Poly) Apply(in Point) Point {
	nt := NTerms(p.Degree)
	m := make([]float64, nt)
	p.Monomials(in, m)
	var x, y float64
	for k, mk := range m {
		x += p.Coeffs[k] * mk
		y += p.Coeffs[nt+k] * mk
	}
	return Point{x, y}
}

func (p *Poly) TransformPosAndErrors(in FatPoint) FatPoint {
	return propagate(in, p.Apply(in.Point), p.Derivative(in.Point, 0))
}

// Derivative returns the analytic derivative; step is unused.
func (p *Poly) Derivative(where Point, step float64) Lin {
	d := p.Degree
	nt := NTerms(d)
	xp := powers(where.X, d)
	yp := powers(where.Y, d)
	var l Lin
	k := 0
	for i := 0; i <= d; i++ {
		for j := 0; j <= d-i; j++ {
			cx := p.Coeffs[k]
			cy := p.Coeffs[nt+k]
			if i > 0 {
				dm := float64(i) * xp[i-1] * yp[j]
				l.A11 += cx * dm
				l.A21 += cy * dm
			}
			if j > 0 {
				dm := float64(j) * xp[i] * yp[j-1]
				l.A12 += cx * dm
				l.A22 += cy * dm
			}
			k++
		}
	}
	return l
}

func powers(x float64, d int) []float64 {
	p := make([]float64, d+1)
	p[0] = 1
	for i := 1; i <= d; i++ {
		p[i] = p[i-1] * x
	}
	return p
}

func (p *Poly) NPar() int { return len(p.Coeffs) }

func (p *Poly) Params() []float64 { return p.Coeffs }

// ParamDerivatives fills dx and dy with the derivative of the output
// position with respect to each coefficient.  The x' coefficients
// only move x, the y' ones only y.
func (p *Poly) ParamDerivatives(where Point, dx, dy []float64) {
	nt := NTerms(p.Degree)
	m := make([]float64, nt)
	p.Monomials(where, m)
	for k := 0; k < nt; k++ {
		dx[k] = m[k]
		dx[nt+k] = 0
		dy[k] = 0
		dy[nt+k] = m[k]
	}
}

func (p *Poly) OffsetParams(delta []float64) {
	for k, d := range delta {
		p.Coeffs[k] += d
	}
}

func (p *Poly) Clone() Transfo {
	c := &Poly{Degree: p.Degree, Coeffs: make([]float64, len(p.Coeffs))}
	copy(c.Coeffs, p.Coeffs)
	return c
}

// Fit adjusts the coefficients by weighted least squares so that
// p.Apply(from[i]) approaches to[i].Point, weighting each axis with
// the inverse variance of to[i].  It returns the weighted chi2.
//
// An error wrapping ErrInvalidArgument is returned when there are
// fewer pairs than monomials, one wrapping ErrNumeric when the normal
// equations are degenerate.
func (p *Poly) Fit(from []Point, to []FatPoint) (float64, error) {
	nt := NTerms(p.Degree)
	if len(from) != len(to) {
		return -1, invErrf("Poly.Fit: %d from, %d to", len(from), len(to))
	}
	if len(from) < nt {
		return -1, invErrf("Poly.Fit: %d pairs for %d terms",
			len(from), nt)
	}
	// the two axes decouple; each gets its own normal equations
	ax := mat.NewSymDense(nt, nil)
	ay := mat.NewSymDense(nt, nil)
	bx := mat.NewVecDense(nt, nil)
	by := mat.NewVecDense(nt, nil)
	m := make([]float64, nt)
	for i, f := range from {
		p.Monomials(f, m)
		wx, wy := weights(to[i])
		for k := 0; k < nt; k++ {
			for l := k; l < nt; l++ {
				ax.SetSym(k, l, ax.At(k, l)+wx*m[k]*m[l])
				ay.SetSym(k, l, ay.At(k, l)+wy*m[k]*m[l])
			}
			bx.SetVec(k, bx.AtVec(k)+wx*m[k]*to[i].X)
			by.SetVec(k, by.AtVec(k)+wy*m[k]*to[i].Y)
		}
	}
	var chx, chy mat.Cholesky
	if !chx.Factorize(ax) || !chy.Factorize(ay) {
		return -1, numErrf("Poly.Fit: degenerate normal equations")
	}
	var cx, cy mat.VecDense
	if err := chx.SolveVecTo(&cx, bx); err != nil {
		return -1, numErrf("Poly.Fit: %v", err)
	}
	if err := chy.SolveVecTo(&cy, by); err != nil {
		return -1, numErrf("Poly.Fit: %v", err)
	}
	for k := 0; k < nt; k++ {
		p.Coeffs[k] = cx.AtVec(k)
		p.Coeffs[nt+k] = cy.AtVec(k)
	}
	var chi2 float64
	for i, f := range from {
		out := p.Apply(f)
		wx, wy := weights(to[i])
		dx := to[i].X - out.X
		dy := to[i].Y - out.Y
		chi2 += wx*dx*dx + wy*dy*dy
	}
	return chi2, nil
}

func weights(p FatPoint) (wx, wy float64) {
	wx, wy = 1, 1
	if p.Vx > 0 {
		wx = 1 / p.Vx
	}
	if p.Vy > 0 {
		wy = 1 / p.Vy
	}
	return
}

// xyPoly is a scratch bivariate polynomial for formal composition.
type xyPoly struct {
	deg int
	c   []float64
}

func newXYPoly(deg int) xyPoly {
	return xyPoly{deg: deg, c: make([]float64, NTerms(deg))}
}

func mulXY(a, b xyPoly) xyPoly {
	r := newXYPoly(a.deg + b.deg)
	for i1 := 0; i1 <= a.deg; i1++ {
		for j1 := 0; j1 <= a.deg-i1; j1++ {
			ca := a.c[monIndex(a.deg, i1, j1)]
			if ca == 0 {
				continue
			}
			for i2 := 0; i2 <= b.deg; i2++ {
				for j2 := 0; j2 <= b.deg-i2; j2++ {
					cb := b.c[monIndex(b.deg, i2, j2)]
					if cb == 0 {
						continue
					}
					r.c[monIndex(r.deg, i1+i2, j1+j2)] += ca * cb
				}
			}
		}
	}
	return r
}

// addScaled adds s×a into r.  r.deg must be at least a.deg.
func (r xyPoly) addScaled(a xyPoly, s float64) {
	for i := 0; i <= a.deg; i++ {
		for j := 0; j <= a.deg-i; j++ {
			r.c[monIndex(r.deg, i, j)] += s * a.c[monIndex(a.deg, i, j)]
		}
	}
}

// ComposePoly returns p∘q, applying q first, as the formal
// polynomial product.
func (p *Poly) ComposePoly(q *Poly) *Poly {
	dr := p.Degree * q.Degree
	ntq := NTerms(q.Degree)
	qx := xyPoly{deg: q.Degree, c: q.Coeffs[:ntq]}
	qy := xyPoly{deg: q.Degree, c: q.Coeffs[ntq : 2*ntq]}
	// powers of the inner polynomials
	xPow := make([]xyPoly, p.Degree+1)
	yPow := make([]xyPoly, p.Degree+1)
	xPow[0] = newXYPoly(0)
	xPow[0].c[0] = 1
	yPow[0] = xPow[0]
	for k := 1; k <= p.Degree; k++ {
		xPow[k] = mulXY(xPow[k-1], qx)
		yPow[k] = mulXY(yPow[k-1], qy)
	}
	ntp := NTerms(p.Degree)
	rx := newXYPoly(dr)
	ry := newXYPoly(dr)
	for i := 0; i <= p.Degree; i++ {
		for j := 0; j <= p.Degree-i; j++ {
			k := monIndex(p.Degree, i, j)
			term := mulXY(xPow[i], yPow[j])
			if c := p.Coeffs[k]; c != 0 {
				rx.addScaled(term, c)
			}
			if c := p.Coeffs[ntp+k]; c != 0 {
				ry.addScaled(term, c)
			}
		}
	}
	r := &Poly{Degree: dr, Coeffs: make([]float64, 2*NTerms(dr))}
	copy(r.Coeffs[:NTerms(dr)], rx.c)
	copy(r.Coeffs[NTerms(dr):], ry.c)
	return r
}

// PolyApprox fits a polynomial of the given degree approximating t
// over a sampling grid on frame.
func PolyApprox(t Transfo, frame Frame, degree int) (*Poly, error) {
	from, to := sampleGrid(t, frame, degree)
	p := NewPoly(degree)
	if _, err := p.Fit(from, to); err != nil {
		return nil, err
	}
	return p, nil
}

// InversePoly fits a polynomial approximating the inverse of t over
// domain: images of grid points map back to their preimages.
func InversePoly(t Transfo, domain Frame, degree int) (*Poly, error) {
	from, to := sampleGrid(t, domain, degree)
	inv := NewPoly(degree)
	ifrom := make([]Point, len(from))
	ito := make([]FatPoint, len(from))
	for i := range from {
		ifrom[i] = to[i].Point
		ito[i] = FatPoint{Point: from[i], Vx: 1, Vy: 1}
	}
	if _, err := inv.Fit(ifrom, ito); err != nil {
		return nil, err
	}
	return inv, nil
}

// sampleGrid maps a regular grid on frame through t.  The grid is
// dense enough to overdetermine a fit of the given degree.
func sampleGrid(t Transfo, frame Frame, degree int) ([]Point, []FatPoint) {
	n := degree + 3
	from := make([]Point, 0, n*n)
	to := make([]FatPoint, 0, n*n)
	for i := 0; i < n; i++ {
		x := frame.XMin + (frame.XMax-frame.XMin)*float64(i)/float64(n-1)
		for j := 0; j < n; j++ {
			y := frame.YMin + (frame.YMax-frame.YMin)*float64(j)/float64(n-1)
			p := Point{x, y}
			from = append(from, p)
			to = append(to, FatPoint{Point: t.Apply(p), Vx: 1, Vy: 1})
		}
	}
	return from, to
}

// RelativeDiff returns the largest relative coefficient difference
// between two polynomials of equal degree.
func RelativeDiff(a, b *Poly) float64 {
	var m float64
	for k, c := range a.Coeffs {
		d := math.Abs(c - b.Coeffs[k])
		if s := math.Abs(c) + math.Abs(b.Coeffs[k]); s > 0 {
			d /= s
		}
		if d > m {
			m = d
		}
	}
	return m
}
