package download

import (
	"regexp"
	"strconv"
)

// percentPattern matches the downloader's progress lines, e.g.
// "Downloading depot 441 - 42.57% complete".
var percentPattern = regexp.MustCompile(`(\d{1,3}\.\d{2})%`)

// parsePercent extracts a per-depot percentage from one output line.
func parsePercent(line string) (float64, bool) {
	m := percentPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}
	pct, err := strconv.ParseFloat(m[1], 64)
	if err != nil || pct < 0 || pct > 100 {
		return 0, false
	}
	return pct, true
}

// progressAggregator folds per-depot percentages into one overall
// byte-weighted percentage for the whole run. The overall value is
// monotonically non-decreasing and repeated values are suppressed, so
// consumers only ever see fresh, forward progress.
type progressAggregator struct {
	totalPlanned   int64
	completedPrior int64
	currentSize    int64
	lastEmitted    float64
	emittedAny     bool
}

func newProgressAggregator(totalPlanned int64) *progressAggregator {
	return &progressAggregator{totalPlanned: totalPlanned}
}

// startDepot begins accounting for the next depot.
func (p *progressAggregator) startDepot(sizeBytes int64) {
	p.currentSize = sizeBytes
}

// finishDepot closes out the current depot. Only successful depots
// advance the completed-bytes floor; a failed depot's partial progress
// is simply left behind (the overall value still never moves backward
// because of the monotonicity clamp in update).
func (p *progressAggregator) finishDepot(succeeded bool) {
	if succeeded {
		p.completedPrior += p.currentSize
	}
	p.currentSize = 0
}

// update converts a per-depot percentage into the overall percentage.
// The second return is false when nothing should be emitted: either
// the value did not change or it would have moved backward.
func (p *progressAggregator) update(depotPercent float64) (float64, bool) {
	if p.totalPlanned <= 0 {
		return 0, false
	}
	done := float64(p.completedPrior) + depotPercent/100*float64(p.currentSize)
	overall := done / float64(p.totalPlanned) * 100
	if overall < 0 {
		overall = 0
	}
	if overall > 100 {
		overall = 100
	}
	if p.emittedAny && overall <= p.lastEmitted {
		return 0, false
	}
	p.lastEmitted = overall
	p.emittedAny = true
	return overall, true
}
