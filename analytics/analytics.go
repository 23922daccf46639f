// Package analytics aggregates a patient's report-version history into a
// progress summary: pain, range of motion and muscle strength over time, plus
// appointment attendance.
package analytics

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/ariebrainware/physio-practice/report"
)

type Trend string

const (
	TrendInsufficient Trend = "insufficient_data"
	TrendImproving    Trend = "improving"
	TrendStable       Trend = "stable"
	TrendWorsening    Trend = "worsening"
)

// Minimum absolute change that counts as a real trend for each measure.
const (
	vasThreshold = 1.0
	romThreshold = 5.0
	mmtThreshold = 0.5
)

// MetricChange compares the first and last observation of one measure.
type MetricChange struct {
	Name         string   `json:"name"`
	Baseline     float64  `json:"baseline"`
	Latest       float64  `json:"latest"`
	Delta        float64  `json:"delta"`
	Percent      *float64 `json:"percent"`
	Observations int      `json:"observations"`
	Trend        Trend    `json:"trend"`
}

type TimelinePoint struct {
	Version    int       `json:"version"`
	AssessedAt time.Time `json:"assessed_at"`
	VAS        *float64  `json:"vas"`
}

// Attendance counts appointment outcomes. Rate is completed over all
// attended-or-missed appointments, as a percentage.
type Attendance struct {
	Completed int      `json:"completed"`
	Cancelled int      `json:"cancelled"`
	NoShow    int      `json:"no_show"`
	Upcoming  int      `json:"upcoming"`
	Rate      *float64 `json:"rate"`
}

type Summary struct {
	PatientID       uint            `json:"patient_id"`
	VersionCount    int             `json:"version_count"`
	FirstAssessedAt *time.Time      `json:"first_assessed_at"`
	LastAssessedAt  *time.Time      `json:"last_assessed_at"`
	SpanDays        int             `json:"span_days"`
	Pain            *MetricChange   `json:"pain"`
	ROM             []MetricChange  `json:"rom"`
	MMT             []MetricChange  `json:"mmt"`
	Timeline        []TimelinePoint `json:"timeline"`
	Attendance      Attendance      `json:"attendance"`
}

// Summarize builds a Summary. versions may be in any order; they are sorted by
// assessment time, then version number.
func Summarize(patientID uint, versions []report.Version, attendance Attendance) Summary {
	sorted := make([]report.Version, len(versions))
	copy(sorted, versions)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].AssessedAt.Equal(sorted[j].AssessedAt) {
			return sorted[i].AssessedAt.Before(sorted[j].AssessedAt)
		}
		return sorted[i].Version < sorted[j].Version
	})

	s := Summary{
		PatientID:    patientID,
		VersionCount: len(sorted),
		ROM:          []MetricChange{},
		MMT:          []MetricChange{},
		Timeline:     make([]TimelinePoint, 0, len(sorted)),
		Attendance:   withRate(attendance),
	}
	if len(sorted) == 0 {
		return s
	}

	first := sorted[0].AssessedAt.UTC()
	last := sorted[len(sorted)-1].AssessedAt.UTC()
	s.FirstAssessedAt = &first
	s.LastAssessedAt = &last
	s.SpanDays = int(last.Sub(first).Hours() / 24)

	var vas []float64
	rom := map[string][]float64{}
	mmt := map[string][]float64{}
	for _, v := range sorted {
		point := TimelinePoint{Version: v.Version, AssessedAt: v.AssessedAt.UTC()}
		if v.VAS != nil {
			val := *v.VAS
			point.VAS = &val
			vas = append(vas, val)
		}
		s.Timeline = append(s.Timeline, point)
		for joint, deg := range v.ROM {
			rom[joint] = append(rom[joint], deg)
		}
		for muscle, grade := range v.MMT {
			mmt[muscle] = append(mmt[muscle], grade)
		}
	}

	if len(vas) > 0 {
		pain := change("vas", vas, true, vasThreshold)
		s.Pain = &pain
	}
	s.ROM = changes(rom, false, romThreshold)
	s.MMT = changes(mmt, false, mmtThreshold)
	return s
}

func changes(series map[string][]float64, lowerIsBetter bool, threshold float64) []MetricChange {
	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]MetricChange, 0, len(names))
	for _, name := range names {
		out = append(out, change(name, series[name], lowerIsBetter, threshold))
	}
	return out
}

func change(name string, obs []float64, lowerIsBetter bool, threshold float64) MetricChange {
	baseline := obs[0]
	latest := obs[len(obs)-1]
	m := MetricChange{
		Name:         name,
		Baseline:     baseline,
		Latest:       latest,
		Delta:        round(latest-baseline, 2),
		Observations: len(obs),
	}
	if baseline != 0 {
		pct := round((latest-baseline)/math.Abs(baseline)*100, 1)
		m.Percent = &pct
	}

	if len(obs) < 2 {
		m.Trend = TrendInsufficient
		return m
	}
	// compare the reported delta so a change shown as exactly the threshold counts
	improvement := m.Delta
	if lowerIsBetter {
		improvement = -improvement
	}
	switch {
	case improvement >= threshold:
		m.Trend = TrendImproving
	case improvement <= -threshold:
		m.Trend = TrendWorsening
	default:
		m.Trend = TrendStable
	}
	return m
}

func withRate(a Attendance) Attendance {
	a.Rate = nil
	denom := a.Completed + a.Cancelled + a.NoShow
	if denom > 0 {
		r := round(float64(a.Completed)/float64(denom)*100, 1)
		a.Rate = &r
	}
	return a
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// InsightPrompt renders the summary as plain text for the assistant. The
// output is deterministic for a given summary.
func InsightPrompt(s Summary) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Patient progress summary (patient #%d)\n", s.PatientID)
	if s.VersionCount == 0 {
		b.WriteString("No assessment reports recorded yet.\n")
	} else {
		fmt.Fprintf(&b, "Assessments: %d between %s and %s (%d days)\n",
			s.VersionCount,
			s.FirstAssessedAt.Format("2006-01-02"),
			s.LastAssessedAt.Format("2006-01-02"),
			s.SpanDays)
	}

	if s.Pain != nil {
		b.WriteString("Pain (VAS 0-10, lower is better): ")
		writeMetric(&b, *s.Pain)
	}
	if len(s.ROM) > 0 {
		b.WriteString("Range of motion (degrees, higher is better):\n")
		for _, m := range s.ROM {
			fmt.Fprintf(&b, "- %s: ", m.Name)
			writeMetric(&b, m)
		}
	}
	if len(s.MMT) > 0 {
		b.WriteString("Muscle strength (MMT 0-5, higher is better):\n")
		for _, m := range s.MMT {
			fmt.Fprintf(&b, "- %s: ", m.Name)
			writeMetric(&b, m)
		}
	}

	a := s.Attendance
	fmt.Fprintf(&b, "Attendance: %d completed, %d cancelled, %d no-show, %d upcoming", a.Completed, a.Cancelled, a.NoShow, a.Upcoming)
	if a.Rate != nil {
		fmt.Fprintf(&b, " (rate %.1f%%)", *a.Rate)
	}
	b.WriteString("\n")
	return b.String()
}

func writeMetric(b *strings.Builder, m MetricChange) {
	fmt.Fprintf(b, "%s -> %s (delta %+g", formatNum(m.Baseline), formatNum(m.Latest), m.Delta)
	if m.Percent != nil {
		fmt.Fprintf(b, ", %+.1f%%", *m.Percent)
	}
	fmt.Fprintf(b, "), %s over %d observations\n", strings.ReplaceAll(string(m.Trend), "_", " "), m.Observations)
}

func formatNum(v float64) string {
	return fmt.Sprintf("%g", v)
}
