// Public domain.

// Package assoc builds the association graph: measurements on
// individual exposures are grouped into fitted stars, and fitted
// stars are tied to external reference catalog entries.
package assoc

import (
	"fmt"
	"math"
	"sort"

	"github.com/soniakeys/coord"
	"github.com/soniakeys/lmfit"
	"github.com/soniakeys/observation"
	"github.com/soniakeys/unit"

	"github.com/soniakeys/jointfit/geom"
	"github.com/soniakeys/jointfit/jlog"
	"github.com/soniakeys/jointfit/match"
	"github.com/soniakeys/jointfit/star"
)

// Associations holds the exposures of a fit and the graph linking
// their measurements to fitted stars and reference stars.
type Associations struct {
	Images      star.CcdImageList
	FittedStars star.FittedStarList
	RefStars    star.RefStarList

	// CommonTangentPoint is the (ra, dec) in degrees all images
	// are projected about.
	CommonTangentPoint geom.Point

	sky2TP *geom.TanRaDec2Pix
	log    jlog.Logger
}

// New returns Associations projecting about tangentPoint, in degrees.
func New(tangentPoint geom.Point, log jlog.Logger) *Associations {
	if log == nil {
		log = jlog.NullLogger{}
	}
	return &Associations{
		CommonTangentPoint: tangentPoint,
		sky2TP:             &geom.TanRaDec2Pix{TangentPoint: tangentPoint},
		log:                log,
	}
}

// AddImage installs the common tangent point on c and adds it to the
// fit.
func (a *Associations) AddImage(c *star.CcdImage) {
	c.SetCommonTangentPoint(a.CommonTangentPoint)
	a.Images = append(a.Images, c)
	a.log.Debugf("assoc: added image %s with %d measurements",
		c.Name(), len(c.WholeCatalog))
}

// degrees of a radian valued angle
func deg(an unit.Angle) float64 { return float64(an) * 180 / math.Pi }

// AssociateCatalogs groups measurements into fitted stars.
// Measurements of each image are projected to the common tangent
// plane and matched against the fitted star list within matchCut.
//
// With useFittedList the current fitted star list is kept as the
// match target, otherwise it restarts empty.  With enlargeFittedList
// unmatched measurements found new fitted stars.
func (a *Associations) AssociateCatalogs(matchCut unit.Angle,
	useFittedList, enlargeFittedList bool) {

	cut := deg(matchCut)
	if !useFittedList {
		a.FittedStars = nil
	}
	for _, fs := range a.FittedStars {
		fs.MeasCount = 0
	}
	tpFat := make(map[*star.MeasuredStar]geom.FatPoint)
	for _, c := range a.Images {
		for _, ms := range c.CatalogForFit {
			ms.FittedStar = nil
			f := c.Pix2TP.TransformPosAndErrors(ms.FatPoint)
			ms.TP = f.Point
			tpFat[ms] = f
		}
	}
	for _, c := range a.Images {
		l1 := make([]match.Entry, 0, len(c.CatalogForFit))
		for _, ms := range c.CatalogForFit {
			l1 = append(l1, match.Entry{
				Pos: tpFat[ms],
				Obj: ms,
			})
		}
		l2 := make([]match.Entry, 0, len(a.FittedStars))
		for _, fs := range a.FittedStars {
			l2 = append(l2, match.Entry{
				Pos: fs.FatPoint,
				Obj: fs,
			})
		}
		ml := match.Collect(l1, l2, geom.Identity{}, cut)
		ml.RemoveAmbiguities(3)
		for _, m := range ml.Matches {
			ms := m.S1.(*star.MeasuredStar)
			fs := m.S2.(*star.FittedStar)
			ms.FittedStar = fs
			fs.MeasCount++
		}
		if !enlargeFittedList {
			continue
		}
		for _, ms := range c.CatalogForFit {
			if ms.FittedStar != nil {
				continue
			}
			fs := star.NewFittedStar(ms)
			fs.FatPoint = tpFat[ms]
			fs.MeasCount = 1
			ms.FittedStar = fs
			a.FittedStars = append(a.FittedStars, fs)
		}
	}
	a.log.Infof("assoc: %d fitted stars from %d images",
		len(a.FittedStars), len(a.Images))
}

// RefSource is one reference catalog row offered to CollectRefStars:
// an epochal sky measurement, its positional errors, and fluxes per
// band.
type RefSource struct {
	Meas          observation.VMeas
	ErrRa, ErrDec unit.Angle
	Flux          map[string]float64
}

// CollectRefStars projects reference rows into the common tangent
// plane.  FluxField selects the band; an error wrapping
// geom.ErrInvalidArgument is returned when a row has no flux for it.
func (a *Associations) CollectRefStars(refs []RefSource, fluxField string) error {
	if len(refs) == 0 {
		a.log.Warnf("assoc: no reference stars in this field")
		return nil
	}
	for _, r := range refs {
		flux, ok := r.Flux[fluxField]
		if !ok {
			return fmt.Errorf(
				"assoc: reference flux field %q missing: %w",
				fluxField, geom.ErrInvalidArgument)
		}
		raDeg := r.Meas.RA * 180 / math.Pi
		decDeg := r.Meas.Dec * 180 / math.Pi
		p := a.sky2TP.Apply(geom.Point{X: float64(raDeg), Y: float64(decDeg)})
		vra := deg(r.ErrRa) * deg(r.ErrRa)
		vdec := deg(r.ErrDec) * deg(r.ErrDec)
		rs := &star.RefStar{
			BaseStar: star.BaseStar{
				FatPoint: geom.FatPoint{Point: p, Vx: vra, Vy: vdec},
				Flux:     flux,
			},
			Sky: r.Meas.Equa,
			MJD: r.Meas.MJD,
		}
		a.RefStars = append(a.RefStars, rs)
	}
	a.log.Infof("assoc: collected %d reference stars", len(a.RefStars))
	return nil
}

// AssociateRefStars ties reference stars to fitted stars within
// matchCut in the common tangent plane.
func (a *Associations) AssociateRefStars(matchCut unit.Angle) {
	cut := deg(matchCut)
	l1 := make([]match.Entry, len(a.RefStars))
	for i, rs := range a.RefStars {
		l1[i] = match.Entry{Pos: rs.FatPoint, Obj: rs}
	}
	l2 := make([]match.Entry, len(a.FittedStars))
	for i, fs := range a.FittedStars {
		l2[i] = match.Entry{Pos: fs.FatPoint, Obj: fs}
	}
	ml := match.Collect(l1, l2, geom.Identity{}, cut)
	ml.RemoveAmbiguities(3)
	for _, fs := range a.FittedStars {
		fs.RefStar = nil
	}
	for _, m := range ml.Matches {
		m.S2.(*star.FittedStar).RefStar = m.S1.(*star.RefStar)
	}
	a.log.Infof("assoc: %d of %d fitted stars have a reference star",
		a.NFittedStarsWithRef(), len(a.FittedStars))
}

// SelectFittedStars keeps fitted stars with at least minMeas valid
// measurements or a reference star, and rebuilds each image's fit
// catalog accordingly.
func (a *Associations) SelectFittedStars(minMeas int) {
	before := len(a.FittedStars)
	kept := a.FittedStars[:0]
	for _, fs := range a.FittedStars {
		if fs.MeasCount >= minMeas || fs.RefStar != nil {
			kept = append(kept, fs)
		} else {
			fs.MeasCount = -1 // mark dropped
		}
	}
	a.FittedStars = kept
	for _, c := range a.Images {
		cat := c.CatalogForFit[:0]
		for _, ms := range c.CatalogForFit {
			if fs := ms.FittedStar; fs != nil && fs.MeasCount >= 0 {
				cat = append(cat, ms)
			} else {
				ms.FittedStar = nil
			}
		}
		c.CatalogForFit = cat
	}
	a.log.Infof("assoc: selected %d of %d fitted stars (minmeas %d)",
		len(a.FittedStars), before, minMeas)
}

// DeprojectFittedStars refreshes the sky position of every fitted
// star from its tangent plane position.
func (a *Associations) DeprojectFittedStars() {
	for _, fs := range a.FittedStars {
		sky := a.sky2TP.Deproject(fs.Point)
		fs.Sky.RA = unit.RA(sky.X * math.Pi / 180)
		fs.Sky.Dec = unit.Angle(sky.Y * math.Pi / 180)
	}
}

// AssignMags computes magnitudes from calibrated fluxes on the
// measurements and aggregates them onto the fitted stars.
func (a *Associations) AssignMags() {
	for _, c := range a.Images {
		for _, ms := range c.WholeCatalog {
			if f := ms.Flux * c.PhotC; f > 0 {
				ms.Mag = -2.5 * math.Log10(f)
			}
		}
	}
	for _, fs := range a.FittedStars {
		var sum float64
		var n int
		for _, c := range a.Images {
			for _, ms := range c.CatalogForFit {
				if ms.FittedStar == fs && ms.Valid && ms.Mag != 0 {
					sum += ms.Mag
					n++
				}
			}
		}
		if n > 0 {
			fs.Mag = sum / float64(n)
		}
	}
}

// EstimateMotions fits a great circle through the epochs of each
// fitted star with at least two measurements and records the motion
// rate and scatter.
func (a *Associations) EstimateMotions() {
	type epoch struct {
		mjd float64
		e   coord.Equa
	}
	byStar := make(map[*star.FittedStar][]epoch)
	for _, c := range a.Images {
		for _, ms := range c.CatalogForFit {
			if ms.FittedStar == nil || !ms.Valid {
				continue
			}
			sky := a.sky2TP.Deproject(ms.TP)
			var e coord.Equa
			e.RA = unit.RA(sky.X * math.Pi / 180)
			e.Dec = unit.Angle(sky.Y * math.Pi / 180)
			byStar[ms.FittedStar] = append(byStar[ms.FittedStar],
				epoch{mjd: c.MJD, e: e})
		}
	}
	for _, fs := range a.FittedStars {
		eps := byStar[fs]
		if len(eps) < 2 {
			fs.PM = nil
			continue
		}
		sort.Slice(eps, func(i, j int) bool {
			return eps[i].mjd < eps[j].mjd
		})
		if eps[len(eps)-1].mjd == eps[0].mjd {
			fs.PM = nil
			continue
		}
		t := make([]float64, len(eps))
		s := make(coord.EquaS, len(eps))
		for i, ep := range eps {
			t[i] = ep.mjd
			s[i] = ep.e
		}
		lmf := lmfit.New(t, s)
		p0 := lmf.Pos(t[0])
		p1 := lmf.Pos(t[len(t)-1])
		sep := sphereSep(p0, p1)
		fs.PM = &star.Motion{
			RatePerDay: unit.Angle(sep / (t[len(t)-1] - t[0])),
			Rms:        lmf.Rms(),
			NObs:       len(eps),
		}
	}
}

// sphereSep returns the angular separation in radians.
func sphereSep(a, b *coord.Equa) float64 {
	sd := math.Sin(float64(b.Dec-a.Dec) / 2)
	sr := math.Sin(float64(b.RA-a.RA) / 2)
	h := sd*sd + math.Cos(float64(a.Dec))*math.Cos(float64(b.Dec))*sr*sr
	return 2 * math.Asin(math.Sqrt(h))
}

// RaDecBBox returns the bounding box of the fitted star catalog on
// the sky, in degrees.
func (a *Associations) RaDecBBox() geom.Frame {
	var f geom.Frame
	for i, fs := range a.FittedStars {
		sky := a.sky2TP.Deproject(fs.Point)
		if i == 0 {
			f = geom.Frame{XMin: sky.X, YMin: sky.Y,
				XMax: sky.X, YMax: sky.Y}
			continue
		}
		f.XMin = math.Min(f.XMin, sky.X)
		f.YMin = math.Min(f.YMin, sky.Y)
		f.XMax = math.Max(f.XMax, sky.X)
		f.YMax = math.Max(f.YMax, sky.Y)
	}
	return f
}

// NBands returns the number of photometric bands in the fit.
func (a *Associations) NBands() int { return 1 }

// NFittedStarsWithRef counts fitted stars tied to a reference star.
func (a *Associations) NFittedStarsWithRef() int {
	n := 0
	for _, fs := range a.FittedStars {
		if fs.RefStar != nil {
			n++
		}
	}
	return n
}

// NValidMeasurements counts measurements still contributing to fits.
func (a *Associations) NValidMeasurements() int {
	n := 0
	for _, c := range a.Images {
		for _, ms := range c.CatalogForFit {
			if ms.Valid && ms.FittedStar != nil {
				n++
			}
		}
	}
	return n
}
