// Public domain.

package geom_test

import (
	"math"
	"testing"

	"github.com/soniakeys/jointfit/geom"
)

func TestLinCompose(t *testing.T) {
	a := geom.Lin{Dx: 3, Dy: -1, A11: 2, A12: .5, A21: -.25, A22: 1.5}
	b := geom.Lin{Dx: -2, Dy: 4, A11: 1.1, A12: -.3, A21: .2, A22: .9}
	c := a.ComposeLin(b)
	p := geom.Point{7, -3}
	want := a.Apply(b.Apply(p))
	got := c.Apply(p)
	if math.Abs(got.X-want.X) > 1e-12 || math.Abs(got.Y-want.Y) > 1e-12 {
		t.Fatal("composition disagrees with chained application:",
			got, want)
	}
}

func TestLinInvert(t *testing.T) {
	a := geom.Lin{Dx: 3, Dy: -1, A11: 2, A12: .5, A21: -.25, A22: 1.5}
	inv, err := a.Invert()
	if err != nil {
		t.Fatal(err)
	}
	p := geom.Point{-4, 11}
	r := inv.Apply(a.Apply(p))
	if math.Abs(r.X-p.X) > 1e-12 || math.Abs(r.Y-p.Y) > 1e-12 {
		t.Fatal("inverse round trip:", r, p)
	}
	if _, err = geom.ScaleLin(0, 1).Invert(); err == nil {
		t.Fatal("expected error inverting singular transform")
	}
}

func TestNormalizeCoordinatesTransfo(t *testing.T) {
	f := geom.Frame{XMin: 100, YMin: -50, XMax: 300, YMax: 150}
	n := geom.NormalizeCoordinatesTransfo(f)
	for _, tc := range []struct {
		in, want geom.Point
	}{
		{geom.Point{100, -50}, geom.Point{-1, -1}},
		{geom.Point{300, 150}, geom.Point{1, 1}},
		{f.Center(), geom.Point{0, 0}},
	} {
		got := n.Apply(tc.in)
		if math.Abs(got.X-tc.want.X) > 1e-12 ||
			math.Abs(got.Y-tc.want.Y) > 1e-12 {
			t.Fatal(tc.in, got, tc.want)
		}
	}
}

// testPoly returns a mildly distorted degree 2 transform.
func testPoly() *geom.Poly {
	p := geom.NewPoly(2)
	p.Coeffs[0] = 12.5 // constant in x'
	nt := geom.NTerms(2)
	p.Coeffs[nt] = -3.25 // constant in y'
	p.Coeffs[2] += .05 // quadratic and shear terms
	p.Coeffs[nt+1] -= .03
	p.Coeffs[5] = 1e-4
	p.Coeffs[nt+3] = -2e-4
	return p
}

func TestPolyIdentity(t *testing.T) {
	p := geom.NewPoly(3)
	in := geom.Point{1.5, -2.25}
	if out := p.Apply(in); out != in {
		t.Fatal("identity poly:", out)
	}
}

func TestPolyDerivative(t *testing.T) {
	p := testPoly()
	where := geom.Point{3, -7}
	d := p.Derivative(where, 0)
	// compare against central differences
	h := 1e-5
	xp := p.Apply(geom.Point{where.X + h, where.Y})
	xm := p.Apply(geom.Point{where.X - h, where.Y})
	if g := (xp.X - xm.X) / (2 * h); math.Abs(g-d.A11) > 1e-7 {
		t.Fatal("A11", g, d.A11)
	}
	if g := (xp.Y - xm.Y) / (2 * h); math.Abs(g-d.A21) > 1e-7 {
		t.Fatal("A21", g, d.A21)
	}
}

func TestPolyFitRecovers(t *testing.T) {
	truth := testPoly()
	var from []geom.Point
	var to []geom.FatPoint
	for i := 0; i < 6; i++ {
		for j := 0; j < 6; j++ {
			p := geom.Point{float64(i) * 20, float64(j) * 20}
			from = append(from, p)
			to = append(to,
				geom.FatPoint{Point: truth.Apply(p), Vx: 1, Vy: 1})
		}
	}
	fit := geom.NewPoly(2)
	chi2, err := fit.Fit(from, to)
	if err != nil {
		t.Fatal(err)
	}
	if chi2 > 1e-15 {
		t.Fatal("noiseless fit chi2:", chi2)
	}
	if d := geom.RelativeDiff(truth, fit); d > 1e-8 {
		t.Fatal("coefficients not recovered, relative diff", d)
	}
}

func TestPolyFitTooFewPairs(t *testing.T) {
	fit := geom.NewPoly(2)
	from := []geom.Point{{0, 0}, {1, 1}}
	to := []geom.FatPoint{{}, {}}
	if _, err := fit.Fit(from, to); err == nil {
		t.Fatal("expected error for underdetermined fit")
	}
}

func TestComposePoly(t *testing.T) {
	a := testPoly()
	b := geom.NewPoly(2)
	b.Coeffs[1] = .01
	b.Coeffs[geom.NTerms(2)+4] = 2e-5
	c := geom.Compose(a, b)
	cp, ok := c.(*geom.Poly)
	if !ok {
		t.Fatal("expected *Poly composition")
	}
	if cp.Degree != 4 {
		t.Fatal("composition degree:", cp.Degree)
	}
	for _, p := range []geom.Point{{0, 0}, {13, -7}, {-2.5, 40}} {
		want := a.Apply(b.Apply(p))
		got := c.Apply(p)
		if math.Abs(got.X-want.X) > 1e-9*(1+math.Abs(want.X)) ||
			math.Abs(got.Y-want.Y) > 1e-9*(1+math.Abs(want.Y)) {
			t.Fatal(p, got, want)
		}
	}
}

func TestComposeDegreeCap(t *testing.T) {
	a := geom.NewPoly(5)
	b := geom.NewPoly(4)
	if _, poly := geom.Compose(a, b).(*geom.Poly); poly {
		t.Fatal("degree 20 composition should not be formal")
	}
	if _, poly := geom.Compose(geom.NewPoly(3), geom.NewPoly(3)).(*geom.Poly); !poly {
		t.Fatal("degree 9 composition should be formal")
	}
}

func TestInversePoly(t *testing.T) {
	truth := testPoly()
	dom := geom.Frame{XMin: 0, YMin: 0, XMax: 100, YMax: 100}
	inv, err := geom.InversePoly(truth, dom, 4)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range []geom.Point{{10, 10}, {50, 90}, {99, 1}} {
		r := inv.Apply(truth.Apply(p))
		if math.Abs(r.X-p.X) > 1e-4 || math.Abs(r.Y-p.Y) > 1e-4 {
			t.Fatal("inverse round trip:", p, r)
		}
	}
}

func TestTanProjectionRoundTrip(t *testing.T) {
	proj := geom.TanRaDec2Pix{TangentPoint: geom.Point{150, -30}}
	for _, sky := range []geom.Point{
		{150, -30},
		{150.5, -29.7},
		{149.2, -30.9},
	} {
		tp := proj.Apply(sky)
		back := proj.Deproject(tp)
		if math.Abs(back.X-sky.X) > 1e-10 ||
			math.Abs(back.Y-sky.Y) > 1e-10 {
			t.Fatal("round trip:", sky, back)
		}
	}
	// tangent point maps to origin
	if o := proj.Apply(geom.Point{150, -30}); o.X != 0 || o.Y != 0 {
		t.Fatal("tangent point image:", o)
	}
}

func TestTanPix2RaDec(t *testing.T) {
	// .2 arcsec/pixel scale, no distortion
	scale := .2 / 3600
	wcs := geom.TanPix2RaDec{
		Lin:          geom.ScaleLin(scale, scale),
		TangentPoint: geom.Point{150, -30},
	}
	sky := wcs.Apply(geom.Point{0, 0})
	if math.Abs(sky.X-150) > 1e-12 || math.Abs(sky.Y+30) > 1e-12 {
		t.Fatal("origin should map to tangent point:", sky)
	}
	sky = wcs.Apply(geom.Point{1000, 0})
	proj := geom.TanRaDec2Pix{TangentPoint: geom.Point{150, -30}}
	tp := proj.Apply(sky)
	if math.Abs(tp.X-1000*scale) > 1e-9 {
		t.Fatal("pixel scale not preserved:", tp.X, 1000*scale)
	}
}

func TestFrameIntersection(t *testing.T) {
	f := geom.Frame{XMin: 0, YMin: 0, XMax: 10, YMax: 20}
	g := geom.Frame{XMin: 5, YMin: -5, XMax: 15, YMax: 15}
	want := geom.Frame{XMin: 5, YMin: 0, XMax: 10, YMax: 15}
	if got := f.Intersection(g); got != want {
		t.Fatal(got, want)
	}
	if got := g.Intersection(f); got != want {
		t.Fatal("not symmetric:", got, want)
	}
	if a := want.Area(); a != 75 {
		t.Fatal("overlap area:", a)
	}
	disjoint := geom.Frame{XMin: 20, YMin: 0, XMax: 30, YMax: 20}
	if got := f.Intersection(disjoint); got != (geom.Frame{}) {
		t.Fatal("disjoint frames:", got)
	}
	touching := geom.Frame{XMin: 10, YMin: 0, XMax: 20, YMax: 20}
	if got := f.Intersection(touching); got.Area() != 0 {
		t.Fatal("degenerate overlap has area:", got)
	}
}

func TestTransformFrame(t *testing.T) {
	f := geom.Frame{XMin: 0, YMin: 0, XMax: 10, YMax: 20}
	g := geom.TransformFrame(geom.ShiftLin(5, -5), f)
	want := geom.Frame{XMin: 5, YMin: -5, XMax: 15, YMax: 15}
	if g != want {
		t.Fatal(g, want)
	}
}

func TestLinearApproximation(t *testing.T) {
	p := testPoly()
	where := geom.Point{40, 60}
	lin := geom.LinearApproximation(p, where, 0)
	exact := p.Apply(where)
	approx := lin.Apply(where)
	if math.Abs(exact.X-approx.X) > 1e-9 ||
		math.Abs(exact.Y-approx.Y) > 1e-9 {
		t.Fatal("approximation not exact at expansion point")
	}
}

func TestFatPointPropagation(t *testing.T) {
	in := geom.FatPoint{Point: geom.Point{1, 2}, Vx: 4, Vy: 9, Vxy: 1}
	out := geom.ScaleLin(2, 3).TransformPosAndErrors(in)
	if out.Vx != 16 || out.Vy != 81 || out.Vxy != 6 {
		t.Fatal("covariance propagation:", out)
	}
}
