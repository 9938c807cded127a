// Public domain.

package jfprog

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"go/build"
	"io"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/soniakeys/exit"
	"github.com/soniakeys/mpcformat"
	"github.com/soniakeys/observation"
	sexa "github.com/soniakeys/sexagesimal"
	"github.com/soniakeys/unit"

	"github.com/soniakeys/jointfit/assoc"
	"github.com/soniakeys/jointfit/fit"
	"github.com/soniakeys/jointfit/geom"
	"github.com/soniakeys/jointfit/jlog"
	"github.com/soniakeys/jointfit/model"
	"github.com/soniakeys/jointfit/simul"
	"github.com/soniakeys/jointfit/star"
)

const parentImport = "jointfit"
const versionString = "jointfit version 1.0 Go source."
const copyrightString = "Public domain."

func Main() {
	defer exit.Handler()

	// these functions all terminate on error
	cl := parseCommandLine()
	lg := jlog.Std(os.Stderr, cl.verbose)
	cfg := readConfig(cl)

	var images []*star.CcdImage
	if cl.demo {
		images = demoImages(cfg)
	} else {
		ocdMap := readOcd(cl)

		// open obs file
		var f *os.File
		if cl.fnObs == "-" {
			f = os.Stdin
			cl.fnObs = "input stream"
		} else {
			var err error
			f, err = os.Open(cl.fnObs)
			if err != nil {
				exit.Log(err)
			}
			defer f.Close()
		}
		images = readObservations(f, ocdMap, cfg, lg)
	}
	if len(images) < 2 {
		exit.Log("Nothing to fit: need at least two images.")
	}

	a, af, pm := runFits(images, cfg, lg)
	printSummary(a, pm)

	if cl.fnTuple > "" && af != nil {
		f, err := os.Create(cl.fnTuple)
		if err != nil {
			exit.Log(err)
		}
		if err := af.MakeResTuple(f); err != nil {
			exit.Log(err)
		}
		if err := f.Close(); err != nil {
			exit.Log(err)
		}
	}
	if cl.demo {
		demoCheck(pm)
	}
}

// runFits associates the images and runs the astrometric and then the
// photometric solution, as far as the whattofit tokens ask for.
func runFits(images []*star.CcdImage, cfg *config, lg jlog.Logger) (
	*assoc.Associations, *fit.AstrometryFit, model.PhotometryModel) {

	tp := cfg.tp
	if !cfg.tpSet {
		tp = meanPointing(images)
	}
	a := assoc.New(tp, lg)
	for _, c := range images {
		a.AddImage(c)
	}
	a.Images.SortByName()
	a.AssociateCatalogs(cfg.matchCut, false, true)
	a.SelectFittedStars(cfg.minMeas)
	a.AssignMags()

	proj := model.CommonTangentPlane{Point: tp}
	var af *fit.AstrometryFit
	if strings.Contains(cfg.whatToFit, "Distortions") ||
		strings.Contains(cfg.whatToFit, "Positions") {
		var am model.AstrometryModel
		var err error
		if cfg.constrained {
			am, err = model.NewConstrainedPolyModel(proj, a.Images,
				cfg.chipDegree, cfg.visitDegree, lg)
		} else {
			am, err = model.NewSimplePolyModel(proj, a.Images,
				cfg.degree, lg)
		}
		if err != nil {
			exit.Log(err)
		}
		af = fit.NewAstrometryFit(a, am, lg)
		chi2, err := af.Minimize(cfg.whatToFit, cfg.nSigCut, cfg.maxIter)
		if err != nil {
			exit.Log(err)
		}
		fmt.Println("astrometry:", chi2)
	}
	a.DeprojectFittedStars()
	a.EstimateMotions()

	var pm model.PhotometryModel
	if strings.Contains(cfg.whatToFit, "Model") ||
		strings.Contains(cfg.whatToFit, "Fluxes") {
		spm, err := model.NewSimplePhotomModel(a.Images, lg)
		if err != nil {
			exit.Log(err)
		}
		pf := fit.NewPhotometryFit(a, spm, lg)
		chi2, err := pf.Minimize(cfg.whatToFit, cfg.nSigCut, cfg.maxIter)
		switch {
		case errors.Is(err, model.ErrConfiguration):
			lg.Infof("photometry not fit: %v", err)
		case err != nil:
			exit.Log(err)
		default:
			fmt.Println("photometry:", chi2)
			pm = spm
		}
	}
	return a, af, pm
}

func printSummary(a *assoc.Associations, pm model.PhotometryModel) {
	fmt.Printf("%d images, %d fitted stars, %d valid measurements\n",
		len(a.Images), len(a.FittedStars), a.NValidMeasurements())
	bb := a.RaDecBBox()
	fmt.Printf("field RA %v to %v, Dec %v to %v\n",
		fmtDeg(bb.XMin), fmtDeg(bb.XMax),
		fmtDeg(bb.YMin), fmtDeg(bb.YMax))
	if spm, ok := pm.(*model.SimplePhotomModel); ok {
		for _, v := range a.Images.Visits() {
			if f, err := spm.FactorOfVisit(v); err == nil {
				fmt.Printf("visit %d flux factor %.4f\n", v, f)
			}
		}
	}
	var nPM int
	var maxRate unit.Angle
	for _, fs := range a.FittedStars {
		if fs.PM == nil {
			continue
		}
		nPM++
		if fs.PM.RatePerDay > maxRate {
			maxRate = fs.PM.RatePerDay
		}
	}
	if nPM > 0 {
		fmt.Printf("motion estimated for %d stars, largest %.3g\"/day\n",
			nPM, float64(maxRate)*180/math.Pi*3600)
	}
}

func fmtDeg(d float64) *sexa.Angle {
	return sexa.FmtAngle(unit.AngleFromSec(d * 3600))
}

func meanPointing(images []*star.CcdImage) geom.Point {
	var p geom.Point
	for _, c := range images {
		tp := c.ReadWcs.TangentPoint
		p.X += tp.X
		p.Y += tp.Y
	}
	p.X /= float64(len(images))
	p.Y /= float64(len(images))
	return p
}

// readObservations turns an 80 column MPC observation file into
// synthetic images, one per observing site per night, with pixel
// positions projected about the per image mean pointing.
func readObservations(r io.Reader, ocdMap observation.ParallaxMap,
	cfg *config, lg jlog.Logger) []*star.CcdImage {

	type gkey struct {
		site  string
		night int
	}
	type row struct {
		ra, dec float64 // degrees
		mjd     float64
		vmag    float64
	}
	groups := map[gkey][]row{}
	for s := mpcformat.ArcSplitter(r, ocdMap); ; {
		a, err := s()
		if err == io.EOF {
			break
		}
		if _, ok := err.(mpcformat.ArcError); ok {
			continue
		}
		if err != nil {
			exit.Log(err)
		}
		for _, o := range a.Obs {
			m := o.Meas()
			if m.MJD <= 0 {
				continue
			}
			k := gkey{site: m.Qual, night: int(math.Floor(m.MJD))}
			groups[k] = append(groups[k], row{
				ra:   float64(m.RA) * 180 / math.Pi,
				dec:  float64(m.Dec) * 180 / math.Pi,
				mjd:  m.MJD,
				vmag: m.VMag,
			})
		}
	}
	if len(groups) == 0 {
		exit.Log("No usable observations in input.")
	}

	// number visits by night and chips by site, in sorted order, so a
	// rerun of the same input gives the same names
	keys := make([]gkey, 0, len(groups))
	nightSet := map[int]bool{}
	siteSet := map[string]bool{}
	for k := range groups {
		keys = append(keys, k)
		nightSet[k.night] = true
		siteSet[k.site] = true
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].night != keys[j].night {
			return keys[i].night < keys[j].night
		}
		return keys[i].site < keys[j].site
	})
	nights := make([]int, 0, len(nightSet))
	for n := range nightSet {
		nights = append(nights, n)
	}
	sort.Ints(nights)
	visitOf := map[int]int{}
	for i, n := range nights {
		visitOf[n] = i + 1
	}
	sites := make([]string, 0, len(siteSet))
	for s := range siteSet {
		sites = append(sites, s)
	}
	sort.Strings(sites)
	ccdOf := map[string]int{}
	for i, s := range sites {
		ccdOf[s] = i + 1
	}

	var images []*star.CcdImage
	for _, k := range keys {
		rows := groups[k]
		var cp geom.Point
		var mjd float64
		for _, r := range rows {
			cp.X += r.ra
			cp.Y += r.dec
			mjd += r.mjd
		}
		cp.X /= float64(len(rows))
		cp.Y /= float64(len(rows))
		mjd /= float64(len(rows))

		lin := geom.Lin{A11: simul.PixScale, A22: simul.PixScale}
		tan2pix, err := lin.Invert()
		if err != nil {
			exit.Log(err)
		}
		proj := geom.TanRaDec2Pix{TangentPoint: cp}
		oe := cfg.obsErrDefault
		if site, ok := cfg.obsErrMap[k.site]; ok {
			oe = site
		}
		oePix := float64(oe) * 180 / math.Pi / simul.PixScale
		pixVar := oePix * oePix

		var srcs []star.Source
		frame := geom.Frame{
			XMin: math.Inf(1), YMin: math.Inf(1),
			XMax: math.Inf(-1), YMax: math.Inf(-1),
		}
		for _, r := range rows {
			pix := tan2pix.Apply(proj.Apply(geom.Point{X: r.ra, Y: r.dec}))
			vmag := r.vmag
			if vmag <= 0 {
				vmag = 21 // typical limiting magnitude
			}
			flux := math.Pow(10, -.4*(vmag-25))
			srcs = append(srcs, star.Source{
				X: pix.X, Y: pix.Y,
				Vx: pixVar, Vy: pixVar,
				Flux: flux, EFlux: flux * .05,
			})
			frame.XMin = math.Min(frame.XMin, pix.X)
			frame.XMax = math.Max(frame.XMax, pix.X)
			frame.YMin = math.Min(frame.YMin, pix.Y)
			frame.YMax = math.Max(frame.YMax, pix.Y)
		}
		frame.XMin -= 50
		frame.YMin -= 50
		frame.XMax += 50
		frame.YMax += 50
		wcs := &geom.TanPix2RaDec{Lin: lin, TangentPoint: cp}
		c := star.NewCcdImage(srcs, wcs, frame,
			visitOf[k.night], ccdOf[k.site], "V", mjd, 1, 1, pixVar)
		images = append(images, c)
		lg.Debugf("site %s night %d: image %s with %d sources",
			k.site, k.night, c.Name(), len(srcs))
	}
	return images
}

// demoImages generates a two visit synthetic field with a known
// distortion and flux factor.  demoCheck tests the fitted flux factor;
// the distortion is not checked.
func demoImages(cfg *config) []*star.CcdImage {
	g := simul.New(42)
	tp := cfg.tp
	if !cfg.tpSet {
		tp = geom.Point{X: 150, Y: -30}
	}
	f := g.Field(120, tp, .05)
	d := geom.NewPoly(2)
	d.Coeffs[5] = 2.5e-7
	d.Coeffs[8] = 2.5e-7
	return []*star.CcdImage{
		g.Exposure(f, simul.ExposureOpts{
			Visit: 1, Ccd: 1, MJD: 58000, NoisePix: .02}),
		g.Exposure(f, simul.ExposureOpts{
			Visit: 2, Ccd: 1, MJD: 58001, NoisePix: .02,
			Offset:     geom.Point{X: .001, Y: -.002},
			Distortion: d, FluxFactor: .8}),
	}
}

func demoCheck(pm model.PhotometryModel) {
	spm, ok := pm.(*model.SimplePhotomModel)
	if !ok {
		exit.Log("demo: photometry was not fit")
	}
	factor, err := spm.FactorOfVisit(2)
	if err != nil {
		exit.Log(err)
	}
	if math.Abs(factor-1.25) > .05 {
		exit.Log(fmt.Sprintf(
			"demo: fitted flux factor %.4f, want about 1.25", factor))
	}
	fmt.Println("demo: known flux factor recovered")
}

type commandLine struct {
	dc      string // config file
	do      string // obscode file
	dp      string // default path
	fnTuple string // residual tuple output
	fnObs   string // observations
	demo    bool
	verbose bool
}

func parseCommandLine() *commandLine {
	// Package path of jointfit is used for default file locations.
	pp, ppErr := build.Import(parentImport, "", build.FindOnly)
	var cl commandLine
	if ppErr == nil {
		cl.dp = pp.Dir
	}
	dh := flag.Bool("h", false, "")
	dv := flag.Bool("v", false, "")
	flag.BoolVar(&cl.demo, "demo", false, "")
	flag.BoolVar(&cl.verbose, "verbose", false, "")
	flag.StringVar(&cl.dc, "c", "", "")
	flag.StringVar(&cl.do, "o", "", "")
	flag.StringVar(&cl.fnTuple, "t", "", "")
	flag.StringVar(&cl.dp, "p", cl.dp, "")
	flag.Usage = func() {
		os.Stderr.WriteString(`
Usage: jointfit [options] <obsfile>   fit observations in file
       jointfit [options] -           fit observations from stdin
       jointfit -demo [options]      fit a synthetic field, check recovery
       jointfit -h                    display help and quick reference
       jointfit -v                    display version and copyright

Options:
       -c <config-file>
       -o <obscode-file>
       -t <restuple-file>
       -verbose
`)
		if ppErr == nil {
			os.Stderr.WriteString(`
Default:
       -p=` + pp.Dir + "\n")
		}
	}
	flag.Parse()
	switch {
	case *dh:
		printHelp()
		os.Exit(0)
	case *dv:
		fmt.Println(versionString)
		fmt.Println(copyrightString)
		os.Exit(0)
	case cl.demo:
		return &cl
	case flag.NArg() != 1:
		flag.Usage()
		os.Exit(1)
	}
	cl.fnObs = flag.Arg(0)
	return &cl
}

func readOcd(cl *commandLine) observation.ParallaxMap {
	ocdFile := cl.fixupCP(cl.do, "jointfit.obscodes")
	ocdMap, readErr := mpcformat.ReadObscodeDatFile(ocdFile)
	if readErr == nil {
		return ocdMap
	}
	// that didn't work.  try getting a fresh copy.
	if err := mpcformat.FetchObscodeDat(ocdFile); err != nil {
		fmt.Fprintln(os.Stderr, readErr) // error from read attempt,
		exit.Log(err)                    // and from download attempt
	}
	// retry with downloaded file.  see if this copy works better
	if ocdMap, readErr = mpcformat.ReadObscodeDatFile(ocdFile); readErr != nil {
		exit.Log(readErr)
	}
	return ocdMap
}

type config struct {
	tp            geom.Point
	tpSet         bool
	matchCut      unit.Angle
	minMeas       int
	constrained   bool
	degree        int
	chipDegree    int
	visitDegree   int
	whatToFit     string
	nSigCut       float64
	maxIter       int
	obsErrDefault unit.Angle
	obsErrMap     map[string]unit.Angle
}

func defaultConfig() *config {
	return &config{
		matchCut:      unit.AngleFromSec(1),
		minMeas:       2,
		degree:        3,
		chipDegree:    1,
		visitDegree:   2,
		whatToFit:     "Distortions Model Fluxes",
		nSigCut:       5,
		maxIter:       20,
		obsErrDefault: unit.AngleFromSec(1),
		obsErrMap:     map[string]unit.Angle{},
	}
}

func readConfig(cl *commandLine) *config {
	cfg := defaultConfig()
	f, err := os.Open(cl.fixupCP(cl.dc, "jointfit.config"))
	if err != nil {
		if cl.dc == "" {
			return cfg
		}
		exit.Log(err)
	}
	defer f.Close()

	rxKV := regexp.MustCompile(`^[ \t]*(.*?)[ \t]*=[ \t]*(.+)$`)
	bad := func(ls, why string) {
		exit.Log(fmt.Sprintf("%s\nConfig file line: %s", why, ls))
	}
	parseFloat := func(ls, v string) float64 {
		x, err := strconv.ParseFloat(v, 64)
		if err != nil {
			bad(ls, err.Error())
		}
		return x
	}
	parseInt := func(ls, v string) int {
		x, err := strconv.Atoi(v)
		if err != nil {
			bad(ls, err.Error())
		}
		return x
	}
	for lr := bufio.NewReader(f); ; {
		l, isPre, err := lr.ReadLine()
		switch {
		case err == io.EOF:
			return cfg
		case err != nil:
			exit.Log(err)
		case isPre:
			exit.Log("Unexpected long line in config file.")
		case len(l) == 0:
			continue
		case l[0] == '#':
			continue
		}
		ls := string(l)
		switch ls {
		case "simple":
			cfg.constrained = false
			continue
		case "constrained":
			cfg.constrained = true
			continue
		}
		ss := rxKV.FindStringSubmatch(ls)
		if len(ss) != 3 {
			exit.Log("Unrecognized line in config file: " + ls)
		}
		key, val := ss[1], ss[2]
		switch {
		case key == "tangentpoint":
			fs := strings.Fields(val)
			if len(fs) != 2 {
				bad(ls, "tangentpoint wants two values, RA and Dec in degrees.")
			}
			cfg.tp = geom.Point{
				X: parseFloat(ls, fs[0]),
				Y: parseFloat(ls, fs[1]),
			}
			cfg.tpSet = true
		case key == "matchcut":
			cfg.matchCut = unit.AngleFromSec(parseFloat(ls, val))
		case key == "minmeasurements":
			cfg.minMeas = parseInt(ls, val)
		case key == "degree":
			cfg.degree = parseInt(ls, val)
		case key == "chipdegree":
			cfg.chipDegree = parseInt(ls, val)
		case key == "visitdegree":
			cfg.visitDegree = parseInt(ls, val)
		case key == "whattofit":
			cfg.whatToFit = val
		case key == "nsigcut":
			cfg.nSigCut = parseFloat(ls, val)
		case key == "maxiter":
			cfg.maxIter = parseInt(ls, val)
		case key == "obserr":
			oe := parseFloat(ls, val)
			if oe > 10 {
				bad(ls, "Observational error > 10 arc seconds not allowed.")
			}
			cfg.obsErrDefault = unit.AngleFromSec(oe)
		case strings.HasPrefix(key, "obserr "):
			oe := parseFloat(ls, val)
			if oe > 10 {
				bad(ls, "Observational error > 10 arc seconds not allowed.")
			}
			site := strings.TrimSpace(key[len("obserr"):])
			cfg.obsErrMap[site] = unit.AngleFromSec(oe)
		default:
			exit.Log("Unrecognized line in config file: " + ls)
		}
	}
}

func (cl *commandLine) fixupCP(fnSpec, fnDefault string) string {
	if fnSpec > "" {
		return fnSpec
	}
	return filepath.Join(cl.dp, fnDefault)
}

func printHelp() {
	fmt.Println(`
Jointfit solves distortion models and star positions jointly across
overlapping exposures, and flux scale factors across visits.  Input is
a file of 80 column MPC-format observations; observations are grouped
into one synthetic image per observing site per night.  Output is a fit
summary and optionally a residual tuple.

Config file keywords:
   simple
   constrained
   tangentpoint = <ra> <dec>
   matchcut = <arc seconds>
   minmeasurements = <n>
   degree = <n>
   chipdegree = <n>
   visitdegree = <n>
   whattofit = <tokens>
   nsigcut = <n>
   maxiter = <n>
   obserr = <arc seconds>
   obserr <site> = <arc seconds>

Whattofit tokens: Distortions, DistortionsChip, DistortionsVisit,
Positions, Model, Fluxes.  Fitting Positions together with the simple
model leaves the tangent plane origin free and the solve fails; use
the constrained model, which holds its reference visit fixed.

For full documentation:
   godoc jointfit`)
}
