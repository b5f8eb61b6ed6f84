package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"custodia/internal/treasury/models"
	dErrors "custodia/pkg/domain-errors"
)

// ProposalResponse is the JSON view of a proposal. Derived fields (expired,
// active) are computed at render time so clients never re-implement the
// expiry predicate.
type ProposalResponse struct {
	ID          string    `json:"id"`
	Proposer    string    `json:"proposer"`
	Target      string    `json:"target"`
	Value       string    `json:"value"`
	Payload     string    `json:"payload,omitempty"`
	Description string    `json:"description"`
	State       string    `json:"state"`
	CreatedAt   time.Time `json:"created_at"`
	ApprovedAt  time.Time `json:"approved_at,omitzero"`
	YesVotes    int       `json:"yes_votes"`
	NoVotes     int       `json:"no_votes"`
	Expired     bool      `json:"expired"`
}

func toProposalResponse(p *models.Proposal, now time.Time, expiry time.Duration) ProposalResponse {
	resp := ProposalResponse{
		ID:          p.ID.String(),
		Proposer:    p.Proposer.Hex(),
		Target:      p.Target.Hex(),
		Value:       p.Value.String(),
		Description: p.Description,
		State:       string(p.State),
		CreatedAt:   p.CreatedAt,
		ApprovedAt:  p.ApprovedAt,
		YesVotes:    p.YesVotes,
		NoVotes:     p.NoVotes,
		Expired:     p.State == models.StatePending && p.IsExpired(now, expiry),
	}
	if len(p.Payload) > 0 {
		resp.Payload = hexutil.Encode(p.Payload)
	}
	return resp
}

// writeJSON writes a JSON body with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError centralizes domain error translation to HTTP responses so every
// endpoint returns the same JSON error envelope.
func writeError(w http.ResponseWriter, err error) {
	code := dErrors.CodeOf(err)
	writeJSON(w, dErrors.ToHTTPStatus(code), map[string]string{
		"error": string(code),
	})
}
