package discord

import (
	"fmt"
	"strings"

	"github.com/studycord/studycord/internal/durafmt"
	"github.com/studycord/studycord/internal/rank"
	"github.com/studycord/studycord/internal/session"
	"github.com/studycord/studycord/internal/store"
)

// Embed accent colors, one per lifecycle event.
const (
	colorJoin      = 0x57f287
	colorPause     = 0xfee75c
	colorResume    = 0x5865f2
	colorStop      = 0xed4245
	colorMilestone = 0xeb459e
	colorReport    = 0x9b59b6
)

func joinDescription(name string, todayTotal int64) string {
	if todayTotal <= 0 {
		return fmt.Sprintf("**%s** started a session.", name)
	}
	return fmt.Sprintf("**%s** started a session. Today so far: %s.", name, durafmt.Seconds(todayTotal))
}

func pauseDescription(name string, carried int64) string {
	return fmt.Sprintf("**%s** is on a break. %s on the clock.", name, durafmt.Seconds(carried))
}

func resumeDescription(name string) string {
	return fmt.Sprintf("**%s** is back at it.", name)
}

func stopDescription(name string, n session.StopNotice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s** finished a %s session.", name, durafmt.Seconds(n.DisplaySeconds))
	if n.BreakSeconds > 0 {
		fmt.Fprintf(&b, " Breaks: %s.", durafmt.Seconds(n.BreakSeconds))
	}
	if n.TodayTotal > 0 {
		fmt.Fprintf(&b, " Today: %s.", durafmt.Seconds(n.TodayTotal))
	}
	return b.String()
}

func staleDescription(name string, todayTotal int64) string {
	if todayTotal <= 0 {
		return fmt.Sprintf("**%s**'s session ended while the tracker was offline.", name)
	}
	return fmt.Sprintf("**%s**'s session ended while the tracker was offline. Today: %s.",
		name, durafmt.Seconds(todayTotal))
}

func milestoneDescription(name string, m session.Milestone) string {
	return fmt.Sprintf("**%s** crossed **%d hours** of focus time and earned **%s**!", name, m.Hours, m.Badge)
}

// rankingLines renders ranking entries as numbered lines. Live users get a
// green dot.
func rankingLines(entries []rank.Entry) string {
	if len(entries) == 0 {
		return "No study time yet this week."
	}
	var b strings.Builder
	for _, e := range entries {
		marker := ""
		if e.Live {
			marker = " 🟢"
		}
		fmt.Fprintf(&b, "%d. **%s** — %s%s\n", e.Rank, e.Name, durafmt.Seconds(e.Seconds), marker)
	}
	return strings.TrimRight(b.String(), "\n")
}

// contributionStrip renders seven day cells as block glyphs, oldest first.
var bandGlyphs = [...]string{"⬜", "🟩", "🟨", "🟧", "🟥"}

func contributionStrip(cells []rank.DayCell) string {
	var b strings.Builder
	for i, c := range cells {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(bandGlyphs[c.Band])
	}
	return b.String()
}

func statsDescription(name string, st rank.Stats) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**%s**\n", name)
	fmt.Fprintf(&b, "Total: %s\n", durafmt.Seconds(st.TotalSeconds))
	fmt.Fprintf(&b, "Today: %s\n", durafmt.Seconds(st.TodaySeconds))
	fmt.Fprintf(&b, "Streak: %d day(s)\n", st.Streak)
	fmt.Fprintf(&b, "Days logged: %d", st.DaysLogged)
	if st.FirstDay != "" {
		fmt.Fprintf(&b, "\nFirst seen: %s", st.FirstDay)
	}
	return b.String()
}

func reportDescription(date string, totals []store.UserTotal) string {
	if len(totals) == 0 {
		return fmt.Sprintf("No study time logged on %s.", date)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Study report for %s\n\n", date)
	var sum int64
	for i, t := range totals {
		fmt.Fprintf(&b, "%d. **%s** — %s\n", i+1, t.Username, durafmt.Seconds(t.Seconds))
		sum += t.Seconds
	}
	fmt.Fprintf(&b, "\nServer total: %s across %d member(s).", durafmt.Seconds(sum), len(totals))
	return b.String()
}

func maintenanceDescription(res session.MaintenanceResult, dbBytes int64) string {
	var b strings.Builder
	b.WriteString("Nightly maintenance done.\n")
	fmt.Fprintf(&b, "Sessions split: %d", res.Splits)
	if res.SplitFailures > 0 {
		fmt.Fprintf(&b, " (%d failed)", res.SplitFailures)
	}
	fmt.Fprintf(&b, "\nPruned: %d log row(s), %d summary row(s)", res.LogsDeleted, res.SummariesDeleted)
	fmt.Fprintf(&b, "\nDatabase size: %.1f MB", float64(dbBytes)/(1024*1024))
	return b.String()
}
