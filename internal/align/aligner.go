package align

import (
	"fmt"
	"math"

	"github.com/quant-ingest/pkg/models"
)

// Result carries an aligned frame plus alignment counters.
type Result struct {
	Frame          models.Frame
	Deduped        int
	NoObservations bool
}

// Align reindexes a normalized per-symbol frame onto the target calendar and
// applies the missing-data policy to gap rows. Observations outside the
// calendar are discarded; duplicate dates keep the first occurrence. A frame
// with zero observations in the window comes back empty: no policy fabricates
// data from nothing.
func Align(frame models.Frame, cal []string, policy models.FillPolicy) (*Result, error) {
	switch policy {
	case models.FillForward, models.FillInterpolate, models.FillFlag:
	default:
		return nil, fmt.Errorf("align: unknown fill policy %q", policy)
	}

	res := &Result{Frame: models.Frame{Symbol: frame.Symbol, Alias: frame.Alias}}

	calSet := make(map[string]int, len(cal))
	for i, d := range cal {
		calSet[d] = i
	}

	obs := make(map[string]models.Bar, len(frame.Bars))
	var source models.Source
	for _, bar := range frame.Bars {
		if _, onCal := calSet[bar.Date]; !onCal {
			continue
		}
		if _, dup := obs[bar.Date]; dup {
			res.Deduped++
			continue
		}
		obs[bar.Date] = bar
		source = bar.Source
	}

	if len(obs) == 0 {
		res.NoObservations = true
		return res, nil
	}

	res.Frame.Bars = make([]models.Bar, len(cal))
	gaps := make([]int, 0)
	for i, day := range cal {
		if bar, ok := obs[day]; ok {
			res.Frame.Bars[i] = bar
			continue
		}
		res.Frame.Bars[i] = models.Bar{
			Symbol:   frame.Symbol,
			Date:     day,
			Source:   source,
			IsFilled: true,
		}
		gaps = append(gaps, i)
	}

	switch policy {
	case models.FillForward:
		forwardFill(res.Frame.Bars, gaps)
	case models.FillInterpolate:
		interpolate(res.Frame.Bars, gaps)
	case models.FillFlag:
		flagNull(res.Frame.Bars, gaps)
	}
	return res, nil
}

// forwardFill propagates the last observed close into gap rows, then
// back-fills any leading gap from the first observation's close.
func forwardFill(bars []models.Bar, gaps []int) {
	gapSet := toSet(gaps)
	lastClose := math.NaN()
	for i := range bars {
		if !gapSet[i] {
			lastClose = bars[i].Close
			continue
		}
		setPrice(&bars[i], lastClose)
	}
	// Leading gap: back-fill with the first observation's close.
	firstClose := math.NaN()
	for i := range bars {
		if !gapSet[i] {
			firstClose = bars[i].Close
			break
		}
	}
	for i := range bars {
		if !gapSet[i] {
			break
		}
		setPrice(&bars[i], firstClose)
	}
}

// interpolate fills gap rows by linear interpolation between the nearest
// bracketing observations; endpoints extrapolate by nearest value, never by
// slope.
func interpolate(bars []models.Bar, gaps []int) {
	gapSet := toSet(gaps)
	n := len(bars)
	for _, g := range gaps {
		prev, next := -1, -1
		for i := g - 1; i >= 0; i-- {
			if !gapSet[i] {
				prev = i
				break
			}
		}
		for i := g + 1; i < n; i++ {
			if !gapSet[i] {
				next = i
				break
			}
		}
		switch {
		case prev >= 0 && next >= 0:
			t := float64(g-prev) / float64(next-prev)
			bars[g].Open = lerp(bars[prev].Open, bars[next].Open, t)
			bars[g].High = lerp(bars[prev].High, bars[next].High, t)
			bars[g].Low = lerp(bars[prev].Low, bars[next].Low, t)
			bars[g].Close = lerp(bars[prev].Close, bars[next].Close, t)
		case prev >= 0:
			setPrice(&bars[g], bars[prev].Close)
		case next >= 0:
			setPrice(&bars[g], bars[next].Close)
		}
	}
}

// flagNull leaves gap rows with null prices for downstream consumers.
func flagNull(bars []models.Bar, gaps []int) {
	for _, g := range gaps {
		setPrice(&bars[g], math.NaN())
	}
}

func setPrice(bar *models.Bar, v float64) {
	bar.Open, bar.High, bar.Low, bar.Close = v, v, v, v
	bar.Volume = 0
}

func lerp(a, b, t float64) float64 { return a + (b-a)*t }

func toSet(idx []int) map[int]bool {
	s := make(map[int]bool, len(idx))
	for _, i := range idx {
		s[i] = true
	}
	return s
}
