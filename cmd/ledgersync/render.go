package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/jask/ledgersync/internal/scheduler"
	"github.com/jask/ledgersync/internal/service"
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true)
	statusStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	okStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	errStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

var priorityStyle = map[scheduler.Priority]lipgloss.Style{
	scheduler.PriorityHigh:   errStyle,
	scheduler.PriorityNormal: warnStyle,
	scheduler.PriorityLow:    statusStyle,
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(statusStyle).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func renderPlan(plan []scheduler.PlanEntry, now time.Time) string {
	if len(plan) == 0 {
		return statusStyle.Render("no syncable accounts")
	}
	t := newTable("ACCOUNT", "USER", "PRIORITY", "LAST SYNC", "NEXT SYNC")
	for _, e := range plan {
		last := "never"
		if e.LastSyncedAt != nil {
			last = ago(now.Sub(*e.LastSyncedAt))
		}
		next := "due"
		if !e.Due {
			next = "in " + e.NextSyncAt.Sub(now).Round(time.Minute).String()
		}
		t.Row(e.AccountID, e.UserID, priorityStyle[e.Priority].Render(string(e.Priority)), last, next)
	}
	return titleStyle.Render("Sync plan") + "\n" + t.Render()
}

func ago(d time.Duration) string {
	return d.Round(time.Minute).String() + " ago"
}

func renderSyncResult(res service.SyncResult) string {
	var b strings.Builder
	switch {
	case res.Denied != nil:
		b.WriteString(warnStyle.Render("not started: " + res.Denied.Reason))
		if res.Denied.RetryAfter != nil {
			b.WriteString(statusStyle.Render(" (retry after " + res.Denied.RetryAfter.Local().Format(time.Kitchen) + ")"))
		}
		return b.String()
	case res.Success:
		b.WriteString(okStyle.Render("sync completed " + res.AccountID))
	default:
		b.WriteString(errStyle.Render("sync failed " + res.AccountID))
	}
	t := newTable("PROCESSED", "STORED", "DUPLICATES", "BALANCE")
	balance := res.NewBalance.StringFixed(2)
	if res.BalanceUpdated {
		balance = res.OldBalance.StringFixed(2) + " -> " + balance
	}
	t.Row(fmt.Sprint(res.TransactionsProcessed), fmt.Sprint(res.TransactionsStored), fmt.Sprint(res.DuplicatesFound), balance)
	b.WriteString("\n" + t.Render())
	for _, e := range res.Errors {
		b.WriteString("\n" + errStyle.Render("  "+e))
	}
	if res.NextAttemptAt != nil {
		b.WriteString("\n" + statusStyle.Render("next attempt "+res.NextAttemptAt.Local().Format(time.RFC3339)))
	}
	return b.String()
}

func renderTick(rep service.TickReport) string {
	t := newTable("PLANNED", "DUE", "SUCCEEDED", "FAILED", "DENIED")
	t.Row(fmt.Sprint(rep.Planned), fmt.Sprint(rep.Due), fmt.Sprint(rep.Succeeded), fmt.Sprint(rep.Failed), fmt.Sprint(rep.Denied))
	return titleStyle.Render("Scheduling pass") + "\n" + t.Render()
}

func renderIngest(res service.IngestResult) string {
	var b strings.Builder
	b.WriteString(okStyle.Render(fmt.Sprintf("imported %d of %d valid rows", res.Stored, res.Processed)))
	if res.Duplicates > 0 {
		b.WriteString(statusStyle.Render(fmt.Sprintf(", %d duplicates skipped", res.Duplicates)))
	}
	for _, e := range res.Errors {
		b.WriteString("\n" + errStyle.Render("  "+e))
	}
	return b.String()
}

func renderClusters(rep service.AccountReport) string {
	if len(rep.Clusters) == 0 {
		return statusStyle.Render("no duplicates found")
	}
	t := newTable("CLUSTER", "MEMBERS", "CONFIDENCE", "SIMILARITY", "REASON")
	for _, c := range rep.Clusters {
		t.Row(c.ID[:min(8, len(c.ID))], strings.Join(c.IDs(), ", "), string(c.Confidence), fmt.Sprintf("%.2f", c.MeanSimilarity), c.Reason)
	}
	summary := fmt.Sprintf("%d clusters, %d removed, %d flagged", len(rep.Clusters), rep.Removed, rep.Flagged)
	return titleStyle.Render("Reconciliation") + "\n" + t.Render() + "\n" + statusStyle.Render(summary)
}
