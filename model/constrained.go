// Public domain.

package model

import (
	"fmt"
	"sort"
	"strings"

	"github.com/soniakeys/jointfit/geom"
	"github.com/soniakeys/jointfit/jlog"
	"github.com/soniakeys/jointfit/mapping"
	"github.com/soniakeys/jointfit/star"
)

func unknownErrf(format string, args ...interface{}) error {
	return fmt.Errorf(format+": %w", append(args, ErrConfiguration)...)
}

// visitMapping is a per visit transform of the focal plane onto the
// tangent plane.  The reference visit stays at identity so the chip
// transforms are anchored to something.
type visitMapping struct {
	*mapping.SimplePolyMapping
	reference bool
}

// ConstrainedPolyModel shares distortion parameters across images: one
// polynomial per chip, constant over the campaign, composed with one
// polynomial per visit.  With v visits and c chips it fits v+c
// transforms instead of v×c, which is what makes many short exposures
// tractable.
type ConstrainedPolyModel struct {
	proj   ProjectionHandler
	chips  []int
	visits []int

	chipMappings  map[int]*chipMapping
	visitMappings map[int]*visitMapping
	pairs         map[*star.CcdImage]*mapping.TwoTransfoMapping

	chipDegree, visitDegree int
	fixedChip               int
	total                   int
	log                     jlog.Logger
}

// chipMapping is a per chip transform of pixels onto the focal
// plane.  One central chip stays fixed to break the degeneracy with
// the visit transforms.
type chipMapping struct {
	*mapping.SimplePolyMapping
	fixed bool
}

// NewConstrainedPolyModel builds chip transforms from the images of the
// first visit and starts every visit transform at identity.  The first
// visit in visit order is the reference and never moves; the chip
// whose center projects nearest the tangent point is held fixed.
func NewConstrainedPolyModel(proj ProjectionHandler, images star.CcdImageList,
	chipDegree, visitDegree int, log jlog.Logger) (*ConstrainedPolyModel, error) {

	if log == nil {
		log = jlog.NullLogger{}
	}
	if len(images) == 0 {
		return nil, confErrf("constrained model: no images")
	}
	m := &ConstrainedPolyModel{
		proj:          proj,
		chipMappings:  make(map[int]*chipMapping),
		visitMappings: make(map[int]*visitMapping),
		pairs:         make(map[*star.CcdImage]*mapping.TwoTransfoMapping),
		chipDegree:    chipDegree,
		visitDegree:   visitDegree,
		log:           log,
	}
	chipSeen := map[int]bool{}
	visitSeen := map[int]bool{}
	for _, c := range images {
		if !chipSeen[c.Ccd] {
			chipSeen[c.Ccd] = true
			m.chips = append(m.chips, c.Ccd)
		}
		if !visitSeen[c.Visit] {
			visitSeen[c.Visit] = true
			m.visits = append(m.visits, c.Visit)
		}
	}
	sort.Ints(m.chips)
	sort.Ints(m.visits)
	refVisit := m.visits[0]

	// a representative image per chip, from the reference visit when
	// one exists
	rep := map[int]*star.CcdImage{}
	for _, c := range images {
		if r, ok := rep[c.Ccd]; !ok ||
			(r.Visit != refVisit && c.Visit == refVisit) {
			rep[c.Ccd] = c
		}
	}
	bestD2 := -1.
	for _, chip := range m.chips {
		r := rep[chip]
		if r.Visit != refVisit {
			log.Warnf("constrained model: chip %d missing from "+
				"reference visit %d, seeding from visit %d",
				chip, refVisit, r.Visit)
		}
		norm := geom.NormalizeCoordinatesTransfo(r.Frame)
		normInv, err := norm.Invert()
		if err != nil {
			return nil, fmt.Errorf("constrained model chip %d: %w",
				chip, err)
		}
		poly, err := geom.PolyApprox(
			geom.Compose(r.Pix2TP, normInv), normFrame, chipDegree)
		if err != nil {
			return nil, fmt.Errorf("constrained model chip %d: %w",
				chip, err)
		}
		m.chipMappings[chip] = &chipMapping{
			SimplePolyMapping: mapping.NewSimplePolyMapping(norm, poly),
		}
		center := r.Pix2TP.Apply(r.Frame.Center())
		if d2 := center.X*center.X + center.Y*center.Y; bestD2 < 0 || d2 < bestD2 {
			bestD2 = d2
			m.fixedChip = chip
		}
	}
	m.chipMappings[m.fixedChip].fixed = true
	log.Infof("constrained model: chip %d held fixed, visit %d is "+
		"the reference", m.fixedChip, refVisit)

	for _, visit := range m.visits {
		m.visitMappings[visit] = &visitMapping{
			SimplePolyMapping: mapping.NewSimplePolyMapping(
				geom.IdentityLin(), geom.NewPoly(visitDegree)),
			reference: visit == refVisit,
		}
	}
	for _, c := range images {
		m.pairs[c] = &mapping.TwoTransfoMapping{
			Map1: m.chipMappings[c.Ccd].SimplePolyMapping,
			Map2: m.visitMappings[c.Visit].SimplePolyMapping,
		}
	}
	return m, nil
}

func (m *ConstrainedPolyModel) Mapping(c *star.CcdImage) mapping.Mapping {
	p, ok := m.pairs[c]
	if !ok {
		return nil
	}
	return p
}

// AssignIndices numbers chip parameters first, then visit parameters.
// WhatToFit selects the groups: "DistortionsChip", "DistortionsVisit",
// or plain "Distortions" for both.
func (m *ConstrainedPolyModel) AssignIndices(whatToFit string, firstIndex int) int {
	fitChips := fitsChipDistortions(whatToFit)
	fitVisits := fitsVisitDistortions(whatToFit)
	if !fitChips && !fitVisits && fitsDistortions(whatToFit) {
		fitChips = true
		fitVisits = true
	}
	if !fitChips && !fitVisits {
		m.log.Errorf("constrained model: nothing to fit in %q",
			whatToFit)
		m.total = 0
		return 0
	}
	i := firstIndex
	for _, chip := range m.chips {
		cm := m.chipMappings[chip]
		cm.SetToBeFit(fitChips && !cm.fixed)
		cm.SetIndex(i)
		i += cm.NPar()
	}
	for _, visit := range m.visits {
		vm := m.visitMappings[visit]
		vm.SetToBeFit(fitVisits && !vm.reference)
		vm.SetIndex(i)
		i += vm.NPar()
	}
	m.total = i - firstIndex
	return i
}

func fitsChipDistortions(whatToFit string) bool {
	return strings.Contains(whatToFit, "DistortionsChip")
}

func fitsVisitDistortions(whatToFit string) bool {
	return strings.Contains(whatToFit, "DistortionsVisit")
}

func (m *ConstrainedPolyModel) OffsetParams(delta []float64) {
	for _, chip := range m.chips {
		cm := m.chipMappings[chip]
		if n := cm.NPar(); n > 0 {
			cm.OffsetParams(delta[cm.Index() : cm.Index()+n])
		}
	}
	for _, visit := range m.visits {
		vm := m.visitMappings[visit]
		if n := vm.NPar(); n > 0 {
			vm.OffsetParams(delta[vm.Index() : vm.Index()+n])
		}
	}
}

func (m *ConstrainedPolyModel) FreezeErrorTransforms() {
	for _, cm := range m.chipMappings {
		cm.FreezeErrorTransform()
	}
	for _, vm := range m.visitMappings {
		vm.FreezeErrorTransform()
	}
}

func (m *ConstrainedPolyModel) TotalParameters() int { return m.total }

func (m *ConstrainedPolyModel) ProduceSipWcs(c *star.CcdImage) (*geom.TanPix2RaDec, error) {
	p, ok := m.pairs[c]
	if !ok {
		return nil, confErrf("constrained model: unknown image %s",
			c.Name())
	}
	return sipWcs(p.Transfo(), c.Frame,
		m.proj.Sky2TP(c).TangentPoint, m.chipDegree*m.visitDegree)
}

// GetChipTransfo returns the fitted pixel to focal plane transform of
// one chip.
func (m *ConstrainedPolyModel) GetChipTransfo(chip int) (geom.Transfo, error) {
	cm, ok := m.chipMappings[chip]
	if !ok {
		return nil, unknownErrf("constrained model: unknown chip %d",
			chip)
	}
	return cm.Transfo(), nil
}

// GetVisitTransfo returns the fitted focal plane to tangent plane
// transform of one visit.
func (m *ConstrainedPolyModel) GetVisitTransfo(visit int) (geom.Transfo, error) {
	vm, ok := m.visitMappings[visit]
	if !ok {
		return nil, unknownErrf("constrained model: unknown visit %d",
			visit)
	}
	return vm.Transfo(), nil
}

// GetVisits returns the visit numbers in order.
func (m *ConstrainedPolyModel) GetVisits() []int {
	return append([]int{}, m.visits...)
}
