package dashboard

import (
	"sort"
	"strings"
	"time"

	"github.com/crmpulse/crmpulse/internal/core"
)

const (
	// renewalWarningDays is how far ahead a renewal counts as due soon.
	renewalWarningDays = 30
	topBrokerCount     = 5
)

// Churn tiers.
const (
	TierHigh   = "high"
	TierMedium = "medium"
	TierLow    = "low"
)

// Stats are statistics derived from the merged dashboard data. They are
// recomputed on every publish and never cached.
type Stats struct {
	ChurnByTier       map[string]int `json:"churn_by_tier"`
	AverageChurnScore float64        `json:"average_churn_score"`

	TotalLeads       int                 `json:"total_leads"`
	TotalConversions int                 `json:"total_conversions"`
	ConversionRate   float64             `json:"conversion_rate"`
	TopBrokers       []BrokerPerformance `json:"top_brokers"`

	RenewalsOverdue  int     `json:"renewals_overdue"`
	RenewalsDueSoon  int     `json:"renewals_due_soon"`
	PremiumAtRisk    float64 `json:"premium_at_risk"`
	RenewalsUpcoming int     `json:"renewals_upcoming"`

	ClientsByStatus map[string]int `json:"clients_by_status"`
	NewClients      int            `json:"new_clients"`
}

// Derive computes Stats from d. now anchors renewal buckets and params
// bounds the new-client count.
func Derive(d Dashboard, params core.Params, now time.Time) Stats {
	stats := Stats{
		ChurnByTier:     map[string]int{TierHigh: 0, TierMedium: 0, TierLow: 0},
		TopBrokers:      []BrokerPerformance{},
		ClientsByStatus: map[string]int{},
	}

	var scoreSum float64
	for _, risk := range d.Churn {
		stats.ChurnByTier[ChurnTier(risk)]++
		scoreSum += risk.Score
	}
	if len(d.Churn) > 0 {
		stats.AverageChurnScore = scoreSum / float64(len(d.Churn))
	}

	for _, broker := range d.Brokers {
		stats.TotalLeads += broker.Leads
		stats.TotalConversions += broker.Conversions
	}
	if stats.TotalLeads > 0 {
		stats.ConversionRate = float64(stats.TotalConversions) / float64(stats.TotalLeads)
	}
	stats.TopBrokers = topBrokers(d.Brokers, topBrokerCount)

	today := truncateDay(now)
	warnUntil := today.AddDate(0, 0, renewalWarningDays)
	for _, renewal := range d.Renewals {
		due, err := time.Parse(core.DateLayout, strings.TrimSpace(renewal.DueDate))
		if err != nil {
			continue
		}
		switch {
		case due.Before(today):
			stats.RenewalsOverdue++
			stats.PremiumAtRisk += renewal.Premium
		case !due.After(warnUntil):
			stats.RenewalsDueSoon++
			stats.PremiumAtRisk += renewal.Premium
		default:
			stats.RenewalsUpcoming++
		}
	}

	periodEnd := truncateDay(params.To).AddDate(0, 0, 1)
	for _, client := range d.Clients {
		status := strings.ToLower(strings.TrimSpace(client.Status))
		if status == "" {
			status = "unknown"
		}
		stats.ClientsByStatus[status]++
		if !client.CreatedAt.IsZero() && !params.From.IsZero() &&
			!client.CreatedAt.Before(truncateDay(params.From)) && client.CreatedAt.Before(periodEnd) {
			stats.NewClients++
		}
	}

	return stats
}

// ChurnTier returns the reported tier, or one derived from the score when
// the endpoint left it blank.
func ChurnTier(risk ChurnRisk) string {
	switch strings.ToLower(strings.TrimSpace(risk.Tier)) {
	case TierHigh, "alto", "alta":
		return TierHigh
	case TierMedium, "médio", "medio", "média", "media":
		return TierMedium
	case TierLow, "baixo", "baixa":
		return TierLow
	}
	switch {
	case risk.Score >= 0.7:
		return TierHigh
	case risk.Score >= 0.4:
		return TierMedium
	default:
		return TierLow
	}
}

func topBrokers(brokers []BrokerPerformance, n int) []BrokerPerformance {
	sorted := make([]BrokerPerformance, len(brokers))
	copy(sorted, brokers)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Conversions > sorted[j].Conversions
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
