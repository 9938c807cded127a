// Public domain.

package star_test

import (
	"math"
	"testing"

	"github.com/soniakeys/jointfit/geom"
	"github.com/soniakeys/jointfit/star"
)

func testWcs(tp geom.Point) *geom.TanPix2RaDec {
	scale := .2 / 3600
	return &geom.TanPix2RaDec{
		Lin:          geom.ScaleLin(scale, scale),
		TangentPoint: tp,
	}
}

func TestNewCcdImage(t *testing.T) {
	srcs := []star.Source{
		{X: 10, Y: 20, Vx: .01, Vy: .02, Flux: 1000, EFlux: 30},
		{X: 30, Y: 40, Flux: 2000}, // no errors measured
	}
	c := star.NewCcdImage(srcs, testWcs(geom.Point{150, -30}),
		geom.Frame{XMax: 2048, YMax: 2048}, 7, 3, "r",
		58000, 1.2, 1, .04)
	if len(c.WholeCatalog) != 2 || len(c.CatalogForFit) != 2 {
		t.Fatal("catalog sizes")
	}
	if v := c.WholeCatalog[0].Vx; v != .01 {
		t.Fatal("measured variance overridden:", v)
	}
	if v := c.WholeCatalog[1].Vx; v != .04 {
		t.Fatal("default variance not applied:", v)
	}
	if !c.WholeCatalog[0].Valid {
		t.Fatal("new measurement should be valid")
	}
	if c.Name() != "7-3" {
		t.Fatal("name:", c.Name())
	}
}

func TestSetCommonTangentPoint(t *testing.T) {
	c := star.NewCcdImage(nil, testWcs(geom.Point{150, -30}),
		geom.Frame{XMax: 2048, YMax: 2048}, 1, 1, "r",
		58000, 1, 1, .04)
	c.SetCommonTangentPoint(geom.Point{150, -30})
	// pixel origin is the wcs tangent point, so it lands on the
	// common tangent point, the origin of the projection
	p := c.Pix2TP.Apply(geom.Point{0, 0})
	if math.Abs(p.X) > 1e-12 || math.Abs(p.Y) > 1e-12 {
		t.Fatal("pixel origin in tangent plane:", p)
	}
}

func TestCcdImageListOrder(t *testing.T) {
	mk := func(visit, ccd int) *star.CcdImage {
		return star.NewCcdImage(nil, testWcs(geom.Point{0, 0}),
			geom.Frame{}, visit, ccd, "r", 58000, 1, 1, .04)
	}
	l := star.CcdImageList{mk(2, 1), mk(1, 2), mk(1, 1), mk(2, 0)}
	l.SortByName()
	want := [][2]int{{1, 1}, {1, 2}, {2, 0}, {2, 1}}
	for i, c := range l {
		if c.Visit != want[i][0] || c.Ccd != want[i][1] {
			t.Fatal("order at", i, c.Visit, c.Ccd)
		}
	}
	if v := l.Visits(); len(v) != 2 || v[0] != 1 || v[1] != 2 {
		t.Fatal("visits:", v)
	}
}

func TestNewFittedStar(t *testing.T) {
	m := &star.MeasuredStar{
		BaseStar: star.BaseStar{
			FatPoint: geom.FatPoint{Point: geom.Point{1, 2}, Vx: 1, Vy: 1},
			Flux:     500,
		},
		Mag: 18.5,
	}
	fs := star.NewFittedStar(m)
	if fs.IndexInMatrix != -1 || fs.FluxIndex != -1 {
		t.Fatal("indices should start invalidated")
	}
	if fs.Flux != 500 || fs.Mag != 18.5 {
		t.Fatal("flux and magnitude not copied")
	}
}

func TestInstFluxErr(t *testing.T) {
	m := &star.MeasuredStar{BaseStar: star.BaseStar{Flux: 1000}}
	if e := m.InstFluxErr(); e != 100 {
		t.Fatal("default flux error:", e)
	}
	m.EFlux = 25
	if e := m.InstFluxErr(); e != 25 {
		t.Fatal("measured flux error:", e)
	}
}
