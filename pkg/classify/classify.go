// Package classify computes a normalized change magnitude per snapshot
// transition, finds adaptive "natural break" thresholds separating
// minor/moderate/major tiers, and plans analysis units (batching consecutive
// minor transitions) from those thresholds.
package classify

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/Sumatoshi-tech/historian/pkg/snapshotdiff"
)

// Tier names for a planned AnalysisUnit.
const (
	TierMinorBatch = "minor_batch"
	TierMinor      = "minor"
	TierModerate   = "moderate"
	TierMajor      = "major"
)

// DistributionStats summarizes the magnitude distribution used to pick
// breakpoints, kept for reporting/debugging.
type DistributionStats struct {
	Method string
	Count  int
	Min    float64
	Max    float64
	Mean   float64
	Median float64
	StdDev float64
	Q1     float64
	Q3     float64
	Gap1   float64
	Gap2   float64
	hasGap bool
}

// Breakpoints are the adaptive minor/major magnitude thresholds.
type Breakpoints struct {
	MinorThreshold float64
	MajorThreshold float64
	Stats          DistributionStats
}

// Unit is a planned unit of LLM analysis: either a single transition or a
// batch of consecutive minor transitions.
type Unit struct {
	// SnapshotStart, SnapshotEnd are snapshot-list indices (end exclusive).
	SnapshotStart, SnapshotEnd int
	// Transitions holds indices into the diffs/magnitudes slices covered by
	// this unit.
	Transitions []int
	Tier        string
	TotalMagnitude float64
	Description    string
	IsInflectionPoint bool
}

// Magnitude computes a normalized change magnitude in [0, ~1+] for a single
// snapshot transition, combining line-level diff ratio, structural change
// ratio, and modification breadth.
func Magnitude(diff snapshotdiff.Diff) float64 {
	totalLines := diff.TotalLinesInNew
	if totalLines < 1 {
		totalLines = 1
	}
	totalFiles := len(diff.NewFileListing)
	if totalFiles < 1 {
		totalFiles = 1
	}

	diffRatio := float64(diff.TotalDiffLines) / float64(totalLines)

	structuralChanges := len(diff.Added) + len(diff.Removed) + len(diff.Moved)
	structuralRatio := float64(structuralChanges) / float64(totalFiles)

	modificationBreadth := float64(len(diff.Modified)) / float64(totalFiles)

	return 0.4*diffRatio + 0.35*structuralRatio + 0.25*modificationBreadth
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// FindBreakpoints finds adaptive minor/major magnitude thresholds for a set
// of transition magnitudes, using gap-based natural breaks with percentile
// fallbacks for small or low-spread samples.
func FindBreakpoints(magnitudes []float64) Breakpoints {
	if len(magnitudes) == 0 {
		return Breakpoints{
			MinorThreshold: 0.05,
			MajorThreshold: 0.20,
			Stats:          DistributionStats{Method: "default", Count: 0},
		}
	}

	n := len(magnitudes)
	sorted := append([]float64(nil), magnitudes...)
	sort.Float64s(sorted)

	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	mean := sum / float64(n)

	var median float64
	if n%2 == 1 {
		median = sorted[n/2]
	} else {
		median = (sorted[n/2-1] + sorted[n/2]) / 2
	}

	varSum := 0.0
	for _, v := range sorted {
		varSum += (v - mean) * (v - mean)
	}
	stdDev := math.Sqrt(varSum / float64(n))

	var q1, q3 float64
	if n >= 4 {
		q1 = sorted[n/4]
		q3 = sorted[3*n/4]
	} else {
		q1 = sorted[0]
		q3 = sorted[n-1]
	}

	stats := DistributionStats{
		Count:  n,
		Min:    sorted[0],
		Max:    sorted[n-1],
		Mean:   round(mean, 4),
		Median: round(median, 4),
		StdDev: round(stdDev, 4),
		Q1:     round(q1, 4),
		Q3:     round(q3, 4),
	}

	if n < 5 {
		stats.Method = "percentile (few transitions)"
		major := round(sorted[n-1]*0.8, 6)
		if n >= 4 {
			major = round(q3, 6)
		}
		return Breakpoints{
			MinorThreshold: round(median, 6),
			MajorThreshold: major,
			Stats:          stats,
		}
	}

	if stdDev < mean*0.3 && mean > 0 {
		stats.Method = "percentile (uniform distribution)"
		return Breakpoints{
			MinorThreshold: round(q1, 6),
			MajorThreshold: round(q3, 6),
			Stats:          stats,
		}
	}

	type gap struct {
		size float64
		idx  int
	}
	gaps := make([]gap, 0, n-1)
	for i := 0; i < n-1; i++ {
		gaps = append(gaps, gap{sorted[i+1] - sorted[i], i})
	}
	sort.Slice(gaps, func(i, j int) bool {
		if gaps[i].size != gaps[j].size {
			return gaps[i].size > gaps[j].size
		}
		return gaps[i].idx > gaps[j].idx
	})

	var minorThreshold, majorThreshold float64

	if len(gaps) >= 2 {
		idxA, idxB := gaps[0].idx, gaps[1].idx
		if idxA > idxB {
			idxA, idxB = idxB, idxA
		}

		minorThreshold = (sorted[idxA] + sorted[idxA+1]) / 2
		majorThreshold = (sorted[idxB] + sorted[idxB+1]) / 2

		if minorThreshold >= majorThreshold {
			bigGapIdx := gaps[0].idx
			minorThreshold = (sorted[bigGapIdx] + sorted[bigGapIdx+1]) / 2
			majorThreshold = minorThreshold + (sorted[n-1]-minorThreshold)*0.5
		}

		stats.Method = "gap-based natural breaks"
		stats.Gap1 = round(gaps[0].size, 4)
		stats.Gap2 = round(gaps[1].size, 4)
		stats.hasGap = true
	} else {
		minorThreshold = (sorted[0] + sorted[n-1]) / 3
		majorThreshold = 2 * (sorted[0] + sorted[n-1]) / 3
		stats.Method = "midpoint (2 values)"
	}

	return Breakpoints{
		MinorThreshold: round(minorThreshold, 6),
		MajorThreshold: round(majorThreshold, 6),
		Stats:          stats,
	}
}

// PlanAnalysisUnits groups transitions into analysis units based on
// breakpoints: consecutive minor transitions batch into one unit, moderate
// and major transitions each become their own unit, and major transitions
// are flagged as inflection points.
func PlanAnalysisUnits(magnitudes []float64, bp Breakpoints) []Unit {
	var units []Unit

	var batchTransitions []int
	batchMagnitude := 0.0

	flush := func() {
		if len(batchTransitions) == 0 {
			return
		}
		if len(batchTransitions) == 1 {
			idx := batchTransitions[0]
			units = append(units, Unit{
				SnapshotStart:  idx,
				SnapshotEnd:    idx + 1,
				Transitions:    []int{idx},
				Tier:           TierMinor,
				TotalMagnitude: magnitudes[idx],
				Description:    fmt.Sprintf("Snapshot %d -> %d (minor change)", idx, idx+1),
			})
		} else {
			first := batchTransitions[0]
			last := batchTransitions[len(batchTransitions)-1]
			units = append(units, Unit{
				SnapshotStart:  first,
				SnapshotEnd:    last + 1,
				Transitions:    append([]int(nil), batchTransitions...),
				Tier:           TierMinorBatch,
				TotalMagnitude: batchMagnitude,
				Description: fmt.Sprintf("Snapshots %d -> %d (%d minor transitions)",
					first, last+1, len(batchTransitions)),
			})
		}
		batchTransitions = nil
		batchMagnitude = 0
	}

	for i, mag := range magnitudes {
		if mag <= bp.MinorThreshold {
			batchTransitions = append(batchTransitions, i)
			batchMagnitude += mag
			continue
		}

		flush()

		if mag >= bp.MajorThreshold {
			units = append(units, Unit{
				SnapshotStart:     i,
				SnapshotEnd:       i + 1,
				Transitions:       []int{i},
				Tier:              TierMajor,
				TotalMagnitude:    mag,
				Description:       fmt.Sprintf("Snapshot %d -> %d (MAJOR change, magnitude %.4f)", i, i+1, mag),
				IsInflectionPoint: true,
			})
		} else {
			units = append(units, Unit{
				SnapshotStart:  i,
				SnapshotEnd:    i + 1,
				Transitions:    []int{i},
				Tier:           TierModerate,
				TotalMagnitude: mag,
				Description:    fmt.Sprintf("Snapshot %d -> %d (moderate change, magnitude %.4f)", i, i+1, mag),
			})
		}
	}

	flush()

	return units
}

// SummarizePlan renders a human-readable summary of the analysis plan:
// distribution stats, thresholds, per-tier unit counts, and an estimated
// LLM call count.
func SummarizePlan(units []Unit, bp Breakpoints) string {
	var b strings.Builder

	b.WriteString("Analysis Plan Summary\n")
	b.WriteString(strings.Repeat("=", 50) + "\n")

	stats := bp.Stats
	fmt.Fprintf(&b, "\nChange Distribution (%d transitions):\n", stats.Count)
	fmt.Fprintf(&b, "  Method: %s\n", stats.Method)
	if stats.Count > 0 {
		fmt.Fprintf(&b, "  Range:  %.4f - %.4f\n", stats.Min, stats.Max)
		fmt.Fprintf(&b, "  Mean:   %.4f  Median: %.4f\n", stats.Mean, stats.Median)
		fmt.Fprintf(&b, "  StdDev: %.4f\n", stats.StdDev)
	}
	fmt.Fprintf(&b, "\nThresholds:\n")
	fmt.Fprintf(&b, "  Minor:  <= %.4f\n", bp.MinorThreshold)
	fmt.Fprintf(&b, "  Major:  >= %.4f\n", bp.MajorThreshold)

	tierCounts := make(map[string]int)
	for _, u := range units {
		tierCounts[u.Tier]++
	}

	fmt.Fprintf(&b, "\nAnalysis Units: %d total\n", len(units))
	tiers := make([]string, 0, len(tierCounts))
	for t := range tierCounts {
		tiers = append(tiers, t)
	}
	sort.Strings(tiers)
	for _, t := range tiers {
		fmt.Fprintf(&b, "  %s: %d\n", t, tierCounts[t])
	}

	inflectionCount := 0
	for _, u := range units {
		if u.IsInflectionPoint {
			inflectionCount++
		}
	}
	if inflectionCount > 0 {
		fmt.Fprintf(&b, "  Inflection points (summary refresh): %d\n", inflectionCount)
	}

	apiCalls := 0
	for _, u := range units {
		if u.Tier == TierMajor {
			apiCalls += 3
		} else {
			apiCalls++
		}
	}
	apiCalls += 2 // initial project summary + final overview
	fmt.Fprintf(&b, "\nEstimated API calls: %d\n", apiCalls)
	fmt.Fprintf(&b, "  (+ %d summary refreshes at inflection points)\n", inflectionCount)

	fmt.Fprintf(&b, "\nPlanned Units:\n")
	for i, u := range units {
		marker := ""
		if u.IsInflectionPoint {
			marker = " ***"
		}
		fmt.Fprintf(&b, "  %d. %s%s\n", i+1, u.Description, marker)
	}

	return b.String()
}
