package dashboard

import (
	"encoding/json"
	"time"
)

// ChurnRisk is one client's churn prediction.
type ChurnRisk struct {
	ClientID   string  `json:"client_id"`
	ClientName string  `json:"client_name"`
	Score      float64 `json:"score"`
	Tier       string  `json:"tier"`
}

// BrokerPerformance summarises one broker over the reporting period.
type BrokerPerformance struct {
	BrokerID    string  `json:"broker_id"`
	Name        string  `json:"name"`
	Leads       int     `json:"leads"`
	Conversions int     `json:"conversions"`
	Score       float64 `json:"score"`
}

// Renewal is a policy coming up for renewal.
type Renewal struct {
	PolicyID   string  `json:"policy_id"`
	ClientName string  `json:"client_name"`
	DueDate    string  `json:"due_date"`
	Premium    float64 `json:"premium"`
}

// Client is one entry of the paginated client list.
type Client struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Dashboard is the merged domain data of every source holding data.
type Dashboard struct {
	Churn    []ChurnRisk         `json:"churn"`
	Brokers  []BrokerPerformance `json:"broker_performance"`
	Renewals []Renewal           `json:"renewals"`
	Clients  []Client            `json:"clients"`
	// Extra carries configured sources without a known payload type.
	Extra map[string]json.RawMessage `json:"extra,omitempty"`
}

func buildDashboard(views []SourceView) Dashboard {
	d := Dashboard{
		Churn:    []ChurnRisk{},
		Brokers:  []BrokerPerformance{},
		Renewals: []Renewal{},
		Clients:  []Client{},
	}
	for _, view := range views {
		switch data := view.Data.(type) {
		case []ChurnRisk:
			if data != nil {
				d.Churn = data
			}
		case []BrokerPerformance:
			if data != nil {
				d.Brokers = data
			}
		case []Renewal:
			if data != nil {
				d.Renewals = data
			}
		case []Client:
			if data != nil {
				d.Clients = data
			}
		case json.RawMessage:
			if len(data) == 0 {
				continue
			}
			if d.Extra == nil {
				d.Extra = map[string]json.RawMessage{}
			}
			d.Extra[view.Name] = data
		}
	}
	return d
}
