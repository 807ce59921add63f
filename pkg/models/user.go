package models

// User represents a platform account and the on-chain identifiers attached
// to its custodial portfolio. SudoKey is private key material and must never
// appear in logs.
type User struct {
	ID             string             `json:"id"`
	Username       string             `json:"username"`
	SudoKey        string             `json:"sudoKey,omitempty"`
	AccountID      string             `json:"accountId,omitempty"`
	IntentsAddress string             `json:"intentsAddress,omitempty"`
	DepositAddress string             `json:"depositAddress,omitempty"`
	PortfolioID    string             `json:"portfolioId,omitempty"`
	AgentID        string             `json:"agentId,omitempty"`
	Allocations    map[string]float64 `json:"allocations,omitempty"`
}

// HasPortfolio returns true if the user completed portfolio creation
func (u *User) HasPortfolio() bool {
	return u.PortfolioID != "" && u.SudoKey != "" && u.IntentsAddress != ""
}
