// Package report renders run summaries for the terminal.
package report

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/taskgraph/internal/events"
	"github.com/aristath/taskgraph/internal/scheduler"
)

// Progress holds node counts by status.
type Progress struct {
	Total     int
	Completed int
	Running   int
	Failed    int
	Pending   int
}

// ProgressOf counts the statuses of nodes.
func ProgressOf(nodes []*scheduler.GraphTask) Progress {
	p := Progress{Total: len(nodes)}
	for _, n := range nodes {
		switch n.Status() {
		case scheduler.StatusCompleted:
			p.Completed++
		case scheduler.StatusRunning:
			p.Running++
		case scheduler.StatusError:
			p.Failed++
		default:
			p.Pending++
		}
	}
	return p
}

// Observe takes the counts of a progress event; other events are ignored.
func (p *Progress) Observe(evt events.Event) {
	if e, ok := evt.(events.GraphProgressEvent); ok {
		*p = Progress{Total: e.Total, Completed: e.Completed, Running: e.Running, Failed: e.Failed, Pending: e.Pending}
	}
}

// Bar renders a width-wide bar: = completed, ! failed, - running, . pending.
func (p Progress) Bar(width int) string {
	if p.Total == 0 || width <= 0 {
		return ""
	}
	completedWidth := (p.Completed * width) / p.Total
	failedWidth := (p.Failed * width) / p.Total
	runningWidth := (p.Running * width) / p.Total
	pendingWidth := width - completedWidth - failedWidth - runningWidth

	bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, completedWidth)))
	bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, failedWidth)))
	bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
	bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))
	return fmt.Sprintf("[%s]  %d/%d", bar, p.Completed, p.Total)
}

// View renders the counts and a progress bar.
func (p Progress) View() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Total:     %d\n", p.Total)
	fmt.Fprintf(&b, "Completed: %s\n", StyleStatusComplete.Render(fmt.Sprint(p.Completed)))
	fmt.Fprintf(&b, "Running:   %s\n", StyleStatusRunning.Render(fmt.Sprint(p.Running)))
	fmt.Fprintf(&b, "Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprint(p.Failed)))
	fmt.Fprintf(&b, "Pending:   %s\n", StyleStatusPending.Render(fmt.Sprint(p.Pending)))
	if p.Total > 0 {
		b.WriteString("\n")
		b.WriteString(p.Bar(40))
		b.WriteString("\n")
	}
	return b.String()
}

// Table renders one row per node: name, status, elapsed time and error.
func Table(nodes []*scheduler.GraphTask) string {
	nameWidth := len("TASK")
	for _, n := range nodes {
		nameWidth = max(nameWidth, lipgloss.Width(n.ID()))
	}

	var b strings.Builder
	b.WriteString(StyleHeader.Render(fmt.Sprintf("%-*s  %-9s  %10s  %s", nameWidth, "TASK", "STATUS", "ELAPSED", "ERROR")))
	b.WriteString("\n")
	for _, n := range nodes {
		status := n.Status()
		elapsed := "-"
		if status.Terminal() {
			elapsed = n.Elapsed().Round(time.Millisecond).String()
		}
		errText := ""
		if err := n.Err(); err != nil {
			errText = err.Error()
		}
		fmt.Fprintf(&b, "%-*s  %s  %10s  %s\n",
			nameWidth, n.ID(),
			StatusStyle(status).Render(fmt.Sprintf("%-9s", status)),
			elapsed, errText)
	}
	return b.String()
}

// Summary renders a titled box with the progress counts and the task table.
func Summary(title string, nodes []*scheduler.GraphTask) string {
	heading := StyleTitle.Render(title)
	body := lipgloss.JoinVertical(lipgloss.Left,
		heading,
		strings.Repeat("=", lipgloss.Width(heading)),
		"",
		ProgressOf(nodes).View(),
		Table(nodes),
	)
	return StyleBorder.Render(strings.TrimRight(body, "\n"))
}
