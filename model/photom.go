// Public domain.

package model

import (
	"sort"
	"strings"

	"github.com/soniakeys/jointfit/jlog"
	"github.com/soniakeys/jointfit/star"
)

// PhotometryModel relates instrumental fluxes to the common calibrated
// flux scale.
type PhotometryModel interface {
	// PhotomFactor returns the factor taking an instrumental flux
	// measured on c to the calibrated scale.
	PhotomFactor(c *star.CcdImage) float64

	// AssignIndices numbers the free parameters from firstIndex and
	// returns the index past the last.  WhatToFit must request
	// "Model" for the factors to move.
	AssignIndices(whatToFit string, firstIndex int) int

	// OffsetParams moves the parameters by their slice of delta.
	OffsetParams(delta []float64)

	// TotalParameters returns the parameter count of the last
	// AssignIndices call.
	TotalParameters() int

	// IndicesAndDerivatives fills indices and derivs with the
	// parameters the flux predicted for ms depends on and the
	// derivative of that flux with respect to each.  It returns the
	// number filled, at most MaxMeasParams.
	IndicesAndDerivatives(ms *star.MeasuredStar, indices []int, derivs []float64) int
}

// MaxMeasParams bounds the model parameters one measurement can touch.
const MaxMeasParams = 1

// SimplePhotomModel fits one flux scale factor per visit, standing in
// for transparency and exposure time differences.  The first visit is
// the reference with factor one.
type SimplePhotomModel struct {
	images  star.CcdImageList
	visits  []int
	factors map[int]float64
	indices map[int]int
	refVisit int
	total   int
	log     jlog.Logger
}

// NewSimplePhotomModel starts every visit factor at one.
func NewSimplePhotomModel(images star.CcdImageList, log jlog.Logger) (*SimplePhotomModel, error) {
	if log == nil {
		log = jlog.NullLogger{}
	}
	if len(images) == 0 {
		return nil, confErrf("photom model: no images")
	}
	m := &SimplePhotomModel{
		images:  images,
		factors: make(map[int]float64),
		indices: make(map[int]int),
		log:     log,
	}
	for _, c := range images {
		if _, ok := m.factors[c.Visit]; !ok {
			m.factors[c.Visit] = 1
			m.visits = append(m.visits, c.Visit)
		}
	}
	sort.Ints(m.visits)
	m.refVisit = m.visits[0]
	return m, nil
}

func (m *SimplePhotomModel) PhotomFactor(c *star.CcdImage) float64 {
	return c.PhotC * m.factors[c.Visit]
}

func (m *SimplePhotomModel) AssignIndices(whatToFit string, firstIndex int) int {
	m.indices = make(map[int]int)
	if !strings.Contains(whatToFit, "Model") {
		m.log.Errorf("photom model: nothing to fit in %q", whatToFit)
		m.total = 0
		return 0
	}
	i := firstIndex
	for _, v := range m.visits {
		if v == m.refVisit {
			continue
		}
		m.indices[v] = i
		i++
	}
	m.total = i - firstIndex
	return i
}

func (m *SimplePhotomModel) OffsetParams(delta []float64) {
	for v, i := range m.indices {
		m.factors[v] += delta[i]
	}
}

func (m *SimplePhotomModel) TotalParameters() int { return m.total }

func (m *SimplePhotomModel) IndicesAndDerivatives(ms *star.MeasuredStar,
	indices []int, derivs []float64) int {

	c := ms.CcdImage
	i, ok := m.indices[c.Visit]
	if !ok {
		return 0
	}
	indices[0] = i
	derivs[0] = c.PhotC * ms.Flux
	return 1
}

// Validate checks the model against the data about to be fit: every
// image must calibrate with a positive factor, and there must be at
// least one degree of freedom.
func (m *SimplePhotomModel) Validate(ndof int) error {
	for _, c := range m.images {
		if m.PhotomFactor(c) <= 0 {
			return confErrf("photom model: factor %g on image %s",
				m.PhotomFactor(c), c.Name())
		}
	}
	if ndof < 1 {
		return dofErrf("photom model: %d degrees of freedom", ndof)
	}
	return nil
}

// FactorOfVisit returns the fitted scale factor of one visit.
func (m *SimplePhotomModel) FactorOfVisit(visit int) (float64, error) {
	f, ok := m.factors[visit]
	if !ok {
		return 0, unknownErrf("photom model: unknown visit %d", visit)
	}
	return f, nil
}
