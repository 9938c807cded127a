// Public domain.

package model_test

import (
	"errors"
	"math"
	"testing"

	"github.com/soniakeys/jointfit/geom"
	"github.com/soniakeys/jointfit/model"
	"github.com/soniakeys/jointfit/simul"
	"github.com/soniakeys/jointfit/star"
)

var tp = geom.Point{150, -30}

// fourImages builds two visits of two chips each, all projected about
// the common tangent point.
func fourImages(t *testing.T) star.CcdImageList {
	t.Helper()
	g := simul.New(9)
	f := g.Field(50, tp, .05)
	var images star.CcdImageList
	for _, v := range []int{1, 2} {
		off := geom.Point{}
		if v == 2 {
			off = geom.Point{.001, .002}
		}
		for _, ccd := range []int{1, 2} {
			c := g.Exposure(f, simul.ExposureOpts{
				Visit: v, Ccd: ccd,
				MJD: 58000 + float64(v), NoisePix: .02,
				Offset: off,
			})
			c.SetCommonTangentPoint(tp)
			images = append(images, c)
		}
	}
	return images
}

func proj() model.CommonTangentPlane {
	return model.CommonTangentPlane{Point: tp}
}

func TestSimplePolyModelMapping(t *testing.T) {
	images := fourImages(t)
	m, err := model.NewSimplePolyModel(proj(), images, 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range images {
		mp := m.Mapping(c)
		if mp == nil {
			t.Fatal("no mapping for", c.Name())
		}
		// before any fit the mapping must reproduce the image's
		// own pixel to tangent plane transform
		ms := c.CatalogForFit[0]
		want := c.Pix2TP.Apply(ms.Point)
		got := mp.Transform(ms.FatPoint).Point
		if got.Dist(want) > 1e-8 {
			t.Fatal("mapping far from pix2TP on", c.Name(),
				got.Dist(want))
		}
	}
	g := simul.New(10)
	f := g.Field(5, tp, .05)
	stranger := g.Exposure(f, simul.ExposureOpts{Visit: 9, Ccd: 9})
	if m.Mapping(stranger) != nil {
		t.Fatal("mapping for image outside the model")
	}
}

func TestSimplePolyModelAssignIndices(t *testing.T) {
	images := fourImages(t)
	m, err := model.NewSimplePolyModel(proj(), images, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	next := m.AssignIndices("Distortions Positions", 3)
	perImage := 2 * geom.NTerms(2)
	if want := 3 + len(images)*perImage; next != want {
		t.Fatal("next index:", next, "want", want)
	}
	if m.TotalParameters() != len(images)*perImage {
		t.Fatal("total parameters:", m.TotalParameters())
	}
	seen := map[int]bool{}
	for _, c := range images {
		for _, ix := range m.Mapping(c).MappingIndices() {
			if ix < 3 || seen[ix] {
				t.Fatal("bad or duplicate index", ix)
			}
			seen[ix] = true
		}
	}
	if next := m.AssignIndices("Positions", 7); next != 0 {
		t.Fatal("next index without distortions requested:", next)
	}
	if m.TotalParameters() != 0 {
		t.Fatal("parameters without distortions requested")
	}
}

func TestSimplePolyModelOffsetParams(t *testing.T) {
	images := fourImages(t)
	m, err := model.NewSimplePolyModel(proj(), images, 2, nil)
	if err != nil {
		t.Fatal(err)
	}
	total := m.AssignIndices("Distortions", 0)
	c0, c1 := images[0], images[1]
	in := c0.CatalogForFit[0].FatPoint
	before0 := m.Mapping(c0).Transform(in).Point
	before1 := m.Mapping(c1).Transform(in).Point
	delta := make([]float64, total)
	delta[m.Mapping(c0).MappingIndices()[0]] = 1e-3
	m.OffsetParams(delta)
	if after := m.Mapping(c0).Transform(in).Point; after == before0 {
		t.Fatal("offset did not move the touched mapping")
	}
	if after := m.Mapping(c1).Transform(in).Point; after != before1 {
		t.Fatal("offset moved an untouched mapping")
	}
}

func TestSimplePolyModelProduceSipWcs(t *testing.T) {
	images := fourImages(t)
	m, err := model.NewSimplePolyModel(proj(), images, 3, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range images {
		wcs, err := m.ProduceSipWcs(c)
		if err != nil {
			t.Fatal(err)
		}
		for _, pix := range []geom.Point{
			c.Frame.Center(), {100, 100}, {1900, 250},
		} {
			want := c.ReadWcs.Apply(pix)
			got := wcs.Apply(pix)
			if got.Dist(want) > 1e-6 {
				t.Fatal("sip wcs far from read wcs on",
					c.Name(), got.Dist(want))
			}
		}
	}
}

func TestConstrainedPolyModel(t *testing.T) {
	images := fourImages(t)
	m, err := model.NewConstrainedPolyModel(proj(), images, 2, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	if v := m.GetVisits(); len(v) != 2 || v[0] != 1 || v[1] != 2 {
		t.Fatal("visits:", v)
	}
	// one chip and the reference visit are held fixed
	chipPar := 2 * geom.NTerms(2)
	visitPar := 2 * geom.NTerms(1)
	total := m.AssignIndices("Distortions", 0)
	if want := chipPar + visitPar; total != want {
		t.Fatal("total:", total, "want", want)
	}
	if next := m.AssignIndices("DistortionsChip", 0); next != chipPar {
		t.Fatal("chip only:", next)
	}
	if next := m.AssignIndices("DistortionsVisit", 0); next != visitPar {
		t.Fatal("visit only:", next)
	}
	if next := m.AssignIndices("Positions", 7); next != 0 {
		t.Fatal("next index without distortions requested:", next)
	}
}

func TestConstrainedPolyModelMapping(t *testing.T) {
	images := fourImages(t)
	m, err := model.NewConstrainedPolyModel(proj(), images, 2, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	// the reference visit transform starts at identity, so mappings
	// of its images reproduce pix2TP
	for _, c := range images {
		if c.Visit != 1 {
			continue
		}
		ms := c.CatalogForFit[0]
		want := c.Pix2TP.Apply(ms.Point)
		got := m.Mapping(c).Transform(ms.FatPoint).Point
		if got.Dist(want) > 1e-7 {
			t.Fatal("mapping far from pix2TP on", c.Name(),
				got.Dist(want))
		}
	}
	vt, err := m.GetVisitTransfo(1)
	if err != nil {
		t.Fatal(err)
	}
	in := geom.Point{.01, -.02}
	if out := vt.Apply(in); math.Hypot(out.X-in.X, out.Y-in.Y) > 1e-12 {
		t.Fatal("reference visit transform is not identity:", out)
	}
	if _, err := m.GetChipTransfo(99); !errors.Is(err, model.ErrConfiguration) {
		t.Fatal("unknown chip error:", err)
	}
	if _, err := m.GetVisitTransfo(99); !errors.Is(err, model.ErrConfiguration) {
		t.Fatal("unknown visit error:", err)
	}
}

func TestConstrainedPolyModelProduceSipWcs(t *testing.T) {
	images := fourImages(t)
	m, err := model.NewConstrainedPolyModel(proj(), images, 2, 1, nil)
	if err != nil {
		t.Fatal(err)
	}
	c := images[0]
	wcs, err := m.ProduceSipWcs(c)
	if err != nil {
		t.Fatal(err)
	}
	pix := geom.Point{512, 1536}
	if d := wcs.Apply(pix).Dist(c.ReadWcs.Apply(pix)); d > 1e-6 {
		t.Fatal("sip wcs far from read wcs:", d)
	}
}

func TestSimplePhotomModel(t *testing.T) {
	images := fourImages(t)
	m, err := model.NewSimplePhotomModel(images, nil)
	if err != nil {
		t.Fatal(err)
	}
	for _, c := range images {
		if f := m.PhotomFactor(c); f != c.PhotC {
			t.Fatal("initial factor:", f)
		}
	}
	total := m.AssignIndices("Model Fluxes", 0)
	if total != 1 {
		t.Fatal("total photom parameters:", total)
	}
	var c1, c2 *star.CcdImage
	for _, c := range images {
		switch c.Visit {
		case 1:
			c1 = c
		case 2:
			c2 = c
		}
	}
	indices := make([]int, model.MaxMeasParams)
	derivs := make([]float64, model.MaxMeasParams)
	if n := m.IndicesAndDerivatives(c1.CatalogForFit[0], indices, derivs); n != 0 {
		t.Fatal("reference visit measurement has parameters")
	}
	ms := c2.CatalogForFit[0]
	if n := m.IndicesAndDerivatives(ms, indices, derivs); n != 1 {
		t.Fatal("expected one parameter")
	}
	if derivs[0] != c2.PhotC*ms.Flux {
		t.Fatal("derivative:", derivs[0])
	}
	delta := make([]float64, total)
	delta[indices[0]] = .25
	m.OffsetParams(delta)
	if f, err := m.FactorOfVisit(2); err != nil || f != 1.25 {
		t.Fatal("offset factor:", f, err)
	}
	if f, err := m.FactorOfVisit(1); err != nil || f != 1 {
		t.Fatal("reference factor moved:", f, err)
	}
	if _, err := m.FactorOfVisit(9); !errors.Is(err, model.ErrConfiguration) {
		t.Fatal("unknown visit error:", err)
	}
	if next := m.AssignIndices("Fluxes", 7); next != 0 {
		t.Fatal("next index without Model requested:", next)
	}
}

func TestSimplePhotomModelValidate(t *testing.T) {
	images := fourImages(t)
	m, err := model.NewSimplePhotomModel(images, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := m.Validate(10); err != nil {
		t.Fatal(err)
	}
	if err := m.Validate(0); !errors.Is(err, model.ErrDOF) {
		t.Fatal("dof error:", err)
	}
	total := m.AssignIndices("Model", 0)
	delta := make([]float64, total)
	delta[0] = -5
	m.OffsetParams(delta)
	if err := m.Validate(10); !errors.Is(err, model.ErrConfiguration) {
		t.Fatal("negative factor error:", err)
	}
}
