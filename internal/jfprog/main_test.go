// Public domain.

package jfprog

import (
	"bytes"
	"math"
	"strings"
	"testing"

	"github.com/soniakeys/jointfit/jlog"
	"github.com/soniakeys/jointfit/model"
)

func TestDemoRecovery(t *testing.T) {
	cfg := defaultConfig()
	images := demoImages(cfg)
	if len(images) != 2 {
		t.Fatal("demo images:", len(images))
	}
	a, af, pm := runFits(images, cfg, jlog.NullLogger{})
	if af == nil {
		t.Fatal("astrometry not fit")
	}
	if pm == nil {
		t.Fatal("photometry not fit")
	}
	if a.NValidMeasurements() == 0 {
		t.Fatal("no valid measurements survived")
	}
	factor, err := pm.(*model.SimplePhotomModel).FactorOfVisit(2)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(factor-1.25) > .05 {
		t.Fatal("fitted flux factor:", factor, "want about 1.25")
	}
	var buf bytes.Buffer
	if err := af.MakeResTuple(&buf); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != a.NValidMeasurements()+1 {
		t.Fatal("res tuple lines:", len(lines))
	}
}

func TestDemoRecoveryConstrained(t *testing.T) {
	cfg := defaultConfig()
	cfg.constrained = true
	cfg.chipDegree = 2
	cfg.visitDegree = 2
	cfg.whatToFit = "Distortions Positions Model Fluxes"
	images := demoImages(cfg)
	a, af, _ := runFits(images, cfg, jlog.NullLogger{})
	if af == nil {
		t.Fatal("astrometry not fit")
	}
	if len(a.FittedStars) == 0 {
		t.Fatal("no fitted stars")
	}
}
