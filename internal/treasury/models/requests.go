package models

// Transport DTOs. Addresses and amounts travel as strings and are validated
// into domain types at the handler boundary.

// CreateProposalRequest is the body for POST /proposals.
type CreateProposalRequest struct {
	Target      string `json:"target"`
	Value       string `json:"value"`
	Payload     string `json:"payload,omitempty"` // hex, optional
	Description string `json:"description"`
}

// VoteRequest is the body for POST /proposals/{id}/votes.
type VoteRequest struct {
	Support bool `json:"support"`
}

// UpdateDescriptionRequest is the body for PUT /proposals/{id}/description.
type UpdateDescriptionRequest struct {
	Description string `json:"description"`
}

// TokenTransferRequest is the body for POST /transfers/token. This endpoint
// is a break-glass channel: it moves tokens under direct Executor authority
// without a proposal or timelock.
type TokenTransferRequest struct {
	Token  string `json:"token"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

// EmergencyWithdrawRequest is the body for the emergency withdrawal
// endpoints. EmergencyToken is verified against the configured bcrypt hash
// on top of the Admin role check.
type EmergencyWithdrawRequest struct {
	Token          string `json:"token,omitempty"` // token contract; empty for native
	To             string `json:"to"`
	Amount         string `json:"amount"`
	EmergencyToken string `json:"emergency_token"`
}

// DepositRequest is the body for POST /treasury/deposits.
type DepositRequest struct {
	From   string `json:"from"`
	Amount string `json:"amount"`
}

// SetTimelockRequest is the body for PUT /admin/timelock.
type SetTimelockRequest struct {
	TimelockSeconds int64 `json:"timelock_seconds"`
}

// RoleChangeRequest is the body for the role grant/revoke endpoints.
type RoleChangeRequest struct {
	Principal string `json:"principal"`
	Role      string `json:"role"`
}
