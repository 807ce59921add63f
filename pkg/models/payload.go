package models

// JobPayload is the closed set of per-type job inputs. Each job type carries
// its own strongly typed payload instead of a loose map keyed by event name.
type JobPayload interface {
	JobType() JobType
}

// CreatePortfolioPayload represents the input for a create-portfolio job
type CreatePortfolioPayload struct {
	Username string `json:"username"`
}

// BuyBundlePayload represents the input for a buy-bundle job
type BuyBundlePayload struct {
	Username string       `json:"username"`
	BundleID string       `json:"bundleId"`
	Amount   string       `json:"amount"`
	Quotes   []Quote      `json:"quotes"`
	Targets  []Allocation `json:"targets"`
}

// RebalancePayload represents the input for a rebalance job
type RebalancePayload struct {
	Username    string       `json:"username"`
	Allocations []Allocation `json:"allocations"`
}

// WithdrawPayload represents the input for a withdraw job. Amount is in the
// asset's base units; Decimals is carried for display formatting only.
type WithdrawPayload struct {
	Username  string `json:"username"`
	Asset     string `json:"asset"`
	Amount    string `json:"amount"`
	Decimals  int    `json:"decimals"`
	ToAddress string `json:"toAddress"`
}

// AssignAgentPayload represents the input for an assign-agent job
type AssignAgentPayload struct {
	Username string `json:"username"`
	AgentID  string `json:"agentId"`
}

func (CreatePortfolioPayload) JobType() JobType { return JobCreatePortfolio }
func (BuyBundlePayload) JobType() JobType       { return JobBuyBundle }
func (RebalancePayload) JobType() JobType       { return JobRebalance }
func (WithdrawPayload) JobType() JobType        { return JobWithdraw }
func (AssignAgentPayload) JobType() JobType     { return JobAssignAgent }

// Allocation represents one target portfolio entry: an asset and the share
// of the portfolio it should hold, in percent (the full set sums to 100).
type Allocation struct {
	AssetID    string  `json:"assetId"`
	Percentage float64 `json:"percentage"`
	Decimals   int     `json:"decimals"`
}
