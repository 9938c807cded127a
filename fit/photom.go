// Public domain.

package fit

import (
	"fmt"
	"math"
	"strings"

	"github.com/soniakeys/jointfit/assoc"
	"github.com/soniakeys/jointfit/jlog"
	"github.com/soniakeys/jointfit/model"
	"github.com/soniakeys/jointfit/star"
)

// PhotometryFit adjusts the flux scale model and the fitted star
// fluxes so that every calibrated measurement agrees with its star.
type PhotometryFit struct {
	a   *assoc.Associations
	m   model.PhotometryModel
	log jlog.Logger

	fitModel  bool
	fitFluxes bool
	nTotal    int
}

// NewPhotometryFit pairs an association graph with a photometric
// model and starts every fitted star flux at the mean of its
// calibrated measurements.
func NewPhotometryFit(a *assoc.Associations, m model.PhotometryModel,
	log jlog.Logger) *PhotometryFit {

	if log == nil {
		log = jlog.NullLogger{}
	}
	f := &PhotometryFit{a: a, m: m, log: log}
	f.initFluxes()
	return f
}

func (f *PhotometryFit) initFluxes() {
	sum := map[*star.FittedStar]float64{}
	n := map[*star.FittedStar]int{}
	for _, c := range f.a.Images {
		for _, ms := range c.CatalogForFit {
			if !ms.Valid || ms.FittedStar == nil {
				continue
			}
			sum[ms.FittedStar] += f.m.PhotomFactor(c) * ms.Flux
			n[ms.FittedStar]++
		}
	}
	for _, fs := range f.a.FittedStars {
		if n[fs] > 0 {
			fs.Flux = sum[fs] / float64(n[fs])
		}
	}
}

// AssignIndices numbers the free parameters: model parameters first,
// then one flux per fitted star.  WhatToFit selects the groups with
// "Model" and "Fluxes".  It returns the total parameter count.
func (f *PhotometryFit) AssignIndices(whatToFit string) int {
	f.fitModel = strings.Contains(whatToFit, "Model")
	f.fitFluxes = strings.Contains(whatToFit, "Fluxes")
	i := 0
	if f.fitModel {
		i = f.m.AssignIndices(whatToFit, 0)
	}
	for _, fs := range f.a.FittedStars {
		fs.FluxIndex = -1
		if f.fitFluxes && fs.MeasCount > 0 {
			fs.FluxIndex = i
			i++
		}
	}
	f.nTotal = i
	if i == 0 {
		f.log.Errorf("photometry fit: nothing to fit in %q", whatToFit)
	}
	return i
}

// OffsetParams moves the model and the star fluxes by delta.
func (f *PhotometryFit) OffsetParams(delta []float64) {
	if f.fitModel {
		f.m.OffsetParams(delta)
	}
	for _, fs := range f.a.FittedStars {
		if ix := fs.FluxIndex; ix >= 0 {
			fs.Flux += delta[ix]
		}
	}
}

func (f *PhotometryFit) accumulate(acc *accum, collect bool) []term {
	var terms []term
	mi := make([]int, model.MaxMeasParams)
	md := make([]float64, model.MaxMeasParams)
	for _, c := range f.a.Images {
		factor := f.m.PhotomFactor(c)
		for _, ms := range c.CatalogForFit {
			fs := ms.FittedStar
			if !ms.Valid || fs == nil {
				continue
			}
			sigma := factor * ms.InstFluxErr()
			if sigma <= 0 {
				f.log.Warnf("photometry fit: bad flux error "+
					"on %s, measurement skipped", c.Name())
				continue
			}
			w := 1 / (sigma * sigma)
			r := fs.Flux - factor*ms.Flux
			var n int
			if f.fitModel {
				n = f.m.IndicesAndDerivatives(ms, mi, md)
			}
			ix := make([]int, n, n+1)
			j := make([]float64, n, n+1)
			for k := 0; k < n; k++ {
				ix[k] = mi[k]
				j[k] = -md[k]
			}
			if fs.FluxIndex >= 0 {
				ix = append(ix, fs.FluxIndex)
				j = append(j, 1)
			}
			acc.add1(ix, j, w, r)
			if collect {
				terms = append(terms, term{
					chi2: w * r * r,
					ms:   ms, fs: fs, ix: ix,
				})
			}
		}
	}
	return terms
}

// ComputeChi2 returns the chi2 of the current parameters, with the
// degree of freedom count floored at one.
func (f *PhotometryFit) ComputeChi2() Chi2 {
	acc := newAccum(f.nTotal)
	f.accumulate(acc, false)
	ndof := acc.nTerms - f.nTotal
	if ndof < 1 {
		f.log.Warnf("photometry fit: %d terms for %d parameters",
			acc.nTerms, f.nTotal)
		ndof = 1
	}
	return Chi2{Chi2: acc.chi2, Ndof: ndof}
}

// FindOutliers returns the measurements whose chi2 stands above
// mean + nSigCut sigma of all contributions.
func (f *PhotometryFit) FindOutliers(nSigCut float64) []*star.MeasuredStar {
	acc := newAccum(f.nTotal)
	terms := f.accumulate(acc, true)
	meas, _ := clipOutliers(terms, nSigCut)
	return meas
}

// RemoveOutliers invalidates the given measurements.
func (f *PhotometryFit) RemoveOutliers(meas []*star.MeasuredStar) {
	for _, ms := range meas {
		ms.Valid = false
		ms.FittedStar.MeasCount--
	}
}

// Minimize solves for the parameter groups named in whatToFit,
// clipping outliers at nSigCut sigma between solutions when nSigCut is
// positive.  At most maxIter rounds are run.
func (f *PhotometryFit) Minimize(whatToFit string, nSigCut float64, maxIter int) (Chi2, error) {
	if maxIter < 1 {
		maxIter = 1
	}
	if f.AssignIndices(whatToFit) == 0 {
		return Chi2{}, fmt.Errorf("photometry fit: nothing to fit "+
			"in %q: %w", whatToFit, model.ErrConfiguration)
	}
	prev := -1.
	for it := 0; it < maxIter; it++ {
		acc := newAccum(f.nTotal)
		f.accumulate(acc, false)
		delta, err := acc.solve(f.nTotal)
		if err != nil {
			return Chi2{}, err
		}
		f.OffsetParams(delta)
		if nSigCut > 0 {
			if meas := f.FindOutliers(nSigCut); len(meas) > 0 {
				f.log.Infof("photometry fit: clipping %d "+
					"measurements", len(meas))
				f.RemoveOutliers(meas)
				f.AssignIndices(whatToFit)
				prev = -1
				continue
			}
		}
		cur := f.ComputeChi2().Chi2
		if prev >= 0 && math.Abs(cur-prev) <= 1e-9*(1+cur) {
			break
		}
		prev = cur
	}
	chi2 := f.ComputeChi2()
	f.log.Infof("photometry fit: %v", chi2)
	return chi2, nil
}
