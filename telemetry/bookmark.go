package telemetry

import (
	"fmt"
	"log/slog"
	"slices"

	"github.com/pthm-cable/grainsim/config"
	"gonum.org/v1/gonum/stat"
)

// BookmarkType identifies the type of bookmark.
type BookmarkType string

const (
	BookmarkExtinction    BookmarkType = "extinction"
	BookmarkEmergence     BookmarkType = "emergence"
	BookmarkCrash         BookmarkType = "crash"
	BookmarkConflictSpike BookmarkType = "conflict_spike"
	BookmarkSteadyState   BookmarkType = "steady_state"
)

// Bookmark represents an automatically triggered bookmark.
type Bookmark struct {
	Type        BookmarkType `csv:"type"`
	Step        int          `csv:"step"`
	Grain       string       `csv:"grain"`
	Description string       `csv:"description"`
}

// LogBookmark logs the bookmark using l, or slog.Default() when l is nil.
func (b Bookmark) LogBookmark(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	l.Info("bookmark",
		"type", string(b.Type),
		"step", b.Step,
		"grain", b.Grain,
		"description", b.Description,
	)
}

// BookmarkThresholds tunes bookmark detection.
type BookmarkThresholds struct {
	CrashFraction  float64 // drop from recent peak that counts as a crash
	CrashMinDrop   int     // and the minimum absolute drop
	ConflictFactor float64 // conflicts above this multiple of the rolling mean
	ConflictMin    int
	SteadyWindows  int     // consecutive low-variance windows for steady state
	SteadyCV       float64 // coefficient of variation bound
}

// DefaultBookmarkThresholds returns the thresholds used when none are given.
func DefaultBookmarkThresholds() BookmarkThresholds {
	return BookmarkThresholds{
		CrashFraction:  0.3,
		CrashMinDrop:   10,
		ConflictFactor: 2,
		ConflictMin:    5,
		SteadyWindows:  5,
		SteadyCV:       0.05,
	}
}

// BookmarkDetector detects interesting moments in the simulation.
type BookmarkDetector struct {
	th BookmarkThresholds

	// Rolling history (circular buffer)
	history     []WindowStats
	historySize int
	historyIdx  int
	historyFull bool

	// State tracking
	prevCounts  map[string]int
	peaks       map[string]int
	steadyFired bool
}

// NewBookmarkDetector creates a detector with the given history size.
func NewBookmarkDetector(historySize int, th BookmarkThresholds) *BookmarkDetector {
	if historySize < 4 {
		historySize = 4
	}
	if th.SteadyWindows < 1 {
		th.SteadyWindows = 1
	}
	return &BookmarkDetector{
		th:          th,
		history:     make([]WindowStats, historySize),
		historySize: historySize,
		peaks:       make(map[string]int),
	}
}

// Check analyzes the latest stats and returns any triggered bookmarks.
// Bookmarks for several grains are ordered by grain name.
func (bd *BookmarkDetector) Check(stats WindowStats) []Bookmark {
	var bookmarks []Bookmark

	names := make([]string, 0, len(stats.Counts))
	for name := range stats.Counts {
		names = append(names, name)
	}
	slices.Sort(names)

	if bd.prevCounts != nil {
		for _, name := range names {
			if b := bd.checkPresence(stats, name); b != nil {
				bookmarks = append(bookmarks, *b)
			}
		}
	}
	for _, name := range names {
		if b := bd.checkCrash(stats, name); b != nil {
			bookmarks = append(bookmarks, *b)
		}
	}
	if b := bd.checkConflictSpike(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	bd.addToHistory(stats)

	if b := bd.checkSteadyState(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}

	bd.prevCounts = stats.Counts
	return bookmarks
}

func (bd *BookmarkDetector) addToHistory(stats WindowStats) {
	bd.history[bd.historyIdx] = stats
	bd.historyIdx = (bd.historyIdx + 1) % bd.historySize
	if bd.historyIdx == 0 {
		bd.historyFull = true
	}
}

func (bd *BookmarkDetector) getHistory() []WindowStats {
	if bd.historyFull {
		return bd.history
	}
	return bd.history[:bd.historyIdx]
}

// recent returns the last n windows in insertion order.
func (bd *BookmarkDetector) recent(n int) []WindowStats {
	h := bd.getHistory()
	if n > len(h) {
		return nil
	}
	out := make([]WindowStats, 0, n)
	idx := bd.historyIdx - n
	for range n {
		if idx < 0 {
			idx += bd.historySize
		}
		out = append(out, bd.history[idx%bd.historySize])
		idx++
	}
	return out
}

func (bd *BookmarkDetector) checkPresence(stats WindowStats, name string) *Bookmark {
	prev, now := bd.prevCounts[name], stats.Counts[name]
	switch {
	case prev > 0 && now == 0:
		return &Bookmark{
			Type:        BookmarkExtinction,
			Step:        stats.WindowEndStep,
			Grain:       name,
			Description: fmt.Sprintf("%s went extinct (was %d cells)", name, prev),
		}
	case prev == 0 && now > 0:
		return &Bookmark{
			Type:        BookmarkEmergence,
			Step:        stats.WindowEndStep,
			Grain:       name,
			Description: fmt.Sprintf("%s appeared with %d cells", name, now),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkCrash(stats WindowStats, name string) *Bookmark {
	now := stats.Counts[name]
	peak := bd.peaks[name]
	if now > peak {
		bd.peaks[name] = now
		return nil
	}
	if peak == 0 || now == 0 {
		return nil
	}
	drop := 1 - float64(now)/float64(peak)
	if drop > bd.th.CrashFraction && peak-now >= bd.th.CrashMinDrop {
		// Reset the peak after a crash
		bd.peaks[name] = now
		return &Bookmark{
			Type:        BookmarkCrash,
			Step:        stats.WindowEndStep,
			Grain:       name,
			Description: fmt.Sprintf("%s dropped %.0f%% from peak %d to %d", name, drop*100, peak, now),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkConflictSpike(stats WindowStats) *Bookmark {
	history := bd.getHistory()
	if len(history) < 3 {
		return nil
	}
	var total int
	for _, h := range history {
		total += h.Conflicts
	}
	avg := float64(total) / float64(len(history))
	if avg == 0 || stats.Conflicts < bd.th.ConflictMin {
		return nil
	}
	if float64(stats.Conflicts) > avg*bd.th.ConflictFactor {
		return &Bookmark{
			Type:        BookmarkConflictSpike,
			Step:        stats.WindowEndStep,
			Description: fmt.Sprintf("%d conflicts is %.1fx average (%.1f)", stats.Conflicts, float64(stats.Conflicts)/avg, avg),
		}
	}
	return nil
}

// checkSteadyState fires once when every grain count has stayed within the
// CV bound over the last SteadyWindows windows. It re-arms after the
// population leaves the bound.
func (bd *BookmarkDetector) checkSteadyState(stats WindowStats) *Bookmark {
	window := bd.recent(min(bd.th.SteadyWindows, bd.historySize))
	if window == nil || stats.Occupied == 0 {
		return nil
	}
	steady := true
	xs := make([]float64, len(window))
	for name := range stats.Counts {
		for i, w := range window {
			xs[i] = float64(w.Counts[name])
		}
		mean, sd := stat.MeanStdDev(xs, nil)
		if mean == 0 {
			continue
		}
		if len(xs) < 2 {
			sd = 0
		}
		if sd/mean > bd.th.SteadyCV {
			steady = false
			break
		}
	}
	if !steady {
		bd.steadyFired = false
		return nil
	}
	if bd.steadyFired {
		return nil
	}
	bd.steadyFired = true
	return &Bookmark{
		Type:        BookmarkSteadyState,
		Step:        stats.WindowEndStep,
		Description: fmt.Sprintf("Grain counts steady over %d windows (%d occupied)", len(window), stats.Occupied),
	}
}

// ThresholdsFromConfig converts the bookmarks config section.
func ThresholdsFromConfig(c config.BookmarksConfig) BookmarkThresholds {
	return BookmarkThresholds{
		CrashFraction:  c.Crash.DropFraction,
		CrashMinDrop:   c.Crash.MinDrop,
		ConflictFactor: c.ConflictSpike.Multiplier,
		ConflictMin:    c.ConflictSpike.MinConflicts,
		SteadyWindows:  c.SteadyState.StableWindows,
		SteadyCV:       c.SteadyState.CVThreshold,
	}
}
