package domain

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	dErrors "custodia/pkg/domain-errors"
)

// ProposalID identifies a treasury proposal. IDs are allocated monotonically
// starting at 1; zero is reserved for "does not exist".
type ProposalID uint64

// Nil is the reserved "no proposal" id.
const Nil ProposalID = 0

// ParseProposalID validates and returns a ProposalID from its decimal form.
func ParseProposalID(s string) (ProposalID, error) {
	if s == "" {
		return Nil, dErrors.New(dErrors.CodeBadRequest, "proposal id is required")
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return Nil, dErrors.New(dErrors.CodeBadRequest, "proposal id must be a positive integer")
	}
	if n == 0 {
		return Nil, dErrors.New(dErrors.CodeBadRequest, "proposal id 0 is reserved")
	}
	return ProposalID(n), nil
}

// IsNil reports whether the id is the reserved zero value.
func (p ProposalID) IsNil() bool {
	return p == Nil
}

// String returns the decimal representation of the id.
func (p ProposalID) String() string {
	return strconv.FormatUint(uint64(p), 10)
}

// ParseAddress validates a 0x-prefixed hex address. The zero address is
// accepted here; callers that need a non-null address use RequireAddress.
func ParseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, dErrors.New(dErrors.CodeInvalidAddress, "malformed address: "+s)
	}
	return common.HexToAddress(s), nil
}

// RequireAddress parses an address and rejects the null (zero) address.
func RequireAddress(s string) (common.Address, error) {
	addr, err := ParseAddress(s)
	if err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return common.Address{}, dErrors.New(dErrors.CodeInvalidAddress, "null address not allowed")
	}
	return addr, nil
}

// ParseAmount converts a decimal string into a non-negative amount in the
// currency's smallest unit.
func ParseAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "amount is required")
	}
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "malformed amount: "+s)
	}
	if amount.Sign() < 0 {
		return nil, dErrors.New(dErrors.CodeInvalidAmount, "amount must not be negative")
	}
	return amount, nil
}
