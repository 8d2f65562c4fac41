package output

import (
	"fmt"
	"sort"
	"strings"

	"github.com/crmpulse/crmpulse/internal/config"
	"github.com/crmpulse/crmpulse/internal/dashboard"
)

type statsSection struct {
	Title string
	Lines []string
}

// statsSections summarises derived statistics for the sources holding data.
func statsSections(snap *dashboard.Snapshot) []statsSection {
	if snap == nil || snap.Params == nil {
		return nil
	}

	stats := snap.Stats
	sections := make([]statsSection, 0, 4)

	if hasData(snap, config.SourceChurn) {
		sections = append(sections, statsSection{
			Title: "Churn",
			Lines: []string{
				fmt.Sprintf("By tier: %s", countSummary(stats.ChurnByTier)),
				fmt.Sprintf("Average score: %.2f", stats.AverageChurnScore),
			},
		})
	}

	if hasData(snap, config.SourceBrokerPerformance) {
		lines := []string{
			fmt.Sprintf("Leads: %d, conversions: %d (%.1f%%)", stats.TotalLeads, stats.TotalConversions, stats.ConversionRate*100),
		}
		if len(stats.TopBrokers) > 0 {
			names := make([]string, 0, len(stats.TopBrokers))
			for _, broker := range stats.TopBrokers {
				name := broker.Name
				if strings.TrimSpace(name) == "" {
					name = broker.BrokerID
				}
				names = append(names, fmt.Sprintf("%s (%.0f)", name, broker.Score))
			}
			lines = append(lines, "Top: "+strings.Join(names, ", "))
		}
		sections = append(sections, statsSection{Title: "Brokers", Lines: lines})
	}

	if hasData(snap, config.SourceRenewals) {
		sections = append(sections, statsSection{
			Title: "Renewals",
			Lines: []string{
				fmt.Sprintf("Overdue: %d, due soon: %d, upcoming: %d", stats.RenewalsOverdue, stats.RenewalsDueSoon, stats.RenewalsUpcoming),
				fmt.Sprintf("Premium at risk: %.2f", stats.PremiumAtRisk),
			},
		})
	}

	if hasData(snap, config.SourceClients) {
		sections = append(sections, statsSection{
			Title: "Clients",
			Lines: []string{
				fmt.Sprintf("By status: %s", countSummary(stats.ClientsByStatus)),
				fmt.Sprintf("New in period: %d", stats.NewClients),
			},
		})
	}

	return sections
}

func hasData(snap *dashboard.Snapshot, name string) bool {
	view, ok := snap.Source(name)
	return ok && view.Status.HasData()
}

func countSummary(counts map[string]int) string {
	if len(counts) == 0 {
		return "none"
	}

	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", key, counts[key]))
	}
	return strings.Join(parts, ", ")
}

func renderStatsSections(sections []statsSection, markdown bool) string {
	if len(sections) == 0 {
		return ""
	}

	var sb strings.Builder
	for i, section := range sections {
		if i > 0 {
			sb.WriteString("\n")
		}
		if markdown {
			sb.WriteString(fmt.Sprintf("\n\n### %s\n", section.Title))
			for _, line := range section.Lines {
				sb.WriteString(fmt.Sprintf("- %s\n", line))
			}
		} else {
			sb.WriteString(fmt.Sprintf("\n\n%s:\n", section.Title))
			for _, line := range section.Lines {
				sb.WriteString(fmt.Sprintf("  %s\n", line))
			}
		}
	}
	return sb.String()
}
