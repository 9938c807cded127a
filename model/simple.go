// Public domain.

package model

import (
	"fmt"

	"github.com/soniakeys/jointfit/geom"
	"github.com/soniakeys/jointfit/jlog"
	"github.com/soniakeys/jointfit/mapping"
	"github.com/soniakeys/jointfit/star"
)

// normFrame is the domain of a normalized polynomial mapping.
var normFrame = geom.Frame{XMin: -1, YMin: -1, XMax: 1, YMax: 1}

// SimplePolyModel gives every image an independent polynomial mapping
// to the common tangent plane.  It is the model of choice when visits
// do not share optics, or as a cross check of the constrained model.
type SimplePolyModel struct {
	proj     ProjectionHandler
	images   star.CcdImageList
	mappings map[*star.CcdImage]*mapping.SimplePolyMapping
	degree   int
	total    int
	log      jlog.Logger
}

// NewSimplePolyModel builds a mapping per image, started at a
// polynomial approximation of the image's current pixel to tangent
// plane transform, so the first fit iteration begins near the truth.
func NewSimplePolyModel(proj ProjectionHandler, images star.CcdImageList,
	degree int, log jlog.Logger) (*SimplePolyModel, error) {

	if log == nil {
		log = jlog.NullLogger{}
	}
	if len(images) == 0 {
		return nil, confErrf("simple model: no images")
	}
	m := &SimplePolyModel{
		proj:     proj,
		images:   images,
		mappings: make(map[*star.CcdImage]*mapping.SimplePolyMapping),
		degree:   degree,
		log:      log,
	}
	for _, c := range images {
		norm := geom.NormalizeCoordinatesTransfo(c.Frame)
		normInv, err := norm.Invert()
		if err != nil {
			return nil, fmt.Errorf("simple model %s: %w",
				c.Name(), err)
		}
		poly, err := geom.PolyApprox(
			geom.Compose(c.Pix2TP, normInv), normFrame, degree)
		if err != nil {
			return nil, fmt.Errorf("simple model %s: %w",
				c.Name(), err)
		}
		m.mappings[c] = mapping.NewSimplePolyMapping(norm, poly)
	}
	return m, nil
}

func (m *SimplePolyModel) Mapping(c *star.CcdImage) mapping.Mapping {
	sm, ok := m.mappings[c]
	if !ok {
		return nil
	}
	return sm
}

// AssignIndices numbers the mapping parameters in image order.  The
// simple model only has distortion parameters, so whatToFit must
// request them.
func (m *SimplePolyModel) AssignIndices(whatToFit string, firstIndex int) int {
	if !fitsDistortions(whatToFit) {
		m.log.Errorf("simple model: nothing to fit in %q", whatToFit)
		m.total = 0
		return 0
	}
	i := firstIndex
	for _, c := range m.images {
		sm := m.mappings[c]
		sm.SetIndex(i)
		i += sm.NPar()
	}
	m.total = i - firstIndex
	return i
}

func (m *SimplePolyModel) OffsetParams(delta []float64) {
	for _, c := range m.images {
		sm := m.mappings[c]
		if n := sm.NPar(); n > 0 {
			sm.OffsetParams(delta[sm.Index() : sm.Index()+n])
		}
	}
}

func (m *SimplePolyModel) FreezeErrorTransforms() {
	for _, c := range m.images {
		m.mappings[c].FreezeErrorTransform()
	}
}

func (m *SimplePolyModel) TotalParameters() int { return m.total }

func (m *SimplePolyModel) ProduceSipWcs(c *star.CcdImage) (*geom.TanPix2RaDec, error) {
	sm, ok := m.mappings[c]
	if !ok {
		return nil, confErrf("simple model: unknown image %s", c.Name())
	}
	return sipWcs(sm.Transfo(), c.Frame,
		m.proj.Sky2TP(c).TangentPoint, m.degree)
}
