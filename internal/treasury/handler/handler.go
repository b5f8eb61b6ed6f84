package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/go-chi/chi/v5"

	"custodia/internal/platform/middleware"
	"custodia/internal/treasury/audit"
	"custodia/internal/treasury/config"
	"custodia/internal/treasury/ledger"
	"custodia/internal/treasury/models"
	"custodia/internal/treasury/pause"
	"custodia/internal/treasury/roles"
	id "custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/secrets"
)

// Lifecycle is the proposal lifecycle engine surface the transport needs.
type Lifecycle interface {
	Create(ctx context.Context, caller, target common.Address, value *big.Int, payload []byte, description string) (id.ProposalID, error)
	Vote(ctx context.Context, caller common.Address, proposalID id.ProposalID, support bool) error
	Approve(ctx context.Context, caller common.Address, proposalID id.ProposalID) error
	Reject(ctx context.Context, caller common.Address, proposalID id.ProposalID) error
	Cancel(ctx context.Context, caller common.Address, proposalID id.ProposalID) error
	UpdateDescription(ctx context.Context, caller common.Address, proposalID id.ProposalID, description string) error
	SetTimelock(ctx context.Context, caller common.Address, timelock time.Duration) error
	Get(ctx context.Context, proposalID id.ProposalID) (*models.Proposal, error)
	All(ctx context.Context) ([]*models.Proposal, error)
	Active(ctx context.Context) ([]*models.Proposal, error)
}

// Execution is the execution engine surface the transport needs.
type Execution interface {
	Execute(ctx context.Context, caller common.Address, proposalID id.ProposalID) error
	TransferToken(ctx context.Context, caller, token, to common.Address, amount *big.Int) error
	EmergencyWithdrawNative(ctx context.Context, caller, to common.Address, amount *big.Int) error
	EmergencyWithdrawToken(ctx context.Context, caller, token, to common.Address, amount *big.Int) error
	Records(ctx context.Context) ([]models.ExecutionRecord, error)
}

// Handler is the thin HTTP layer. It validates transport input into domain
// types and delegates; every business rule lives in the services.
type Handler struct {
	logger    *slog.Logger
	lifecycle Lifecycle
	execution Execution
	pauser    *pause.Controller
	registry  *roles.Registry
	funds     *ledger.FundLedger
	auditor   *audit.Publisher
	gov       *config.Governance
	validator middleware.PrincipalValidator

	// emergencyHash is the bcrypt hash the break-glass endpoints verify
	// the presented token against. Empty disables those endpoints.
	emergencyHash string
}

// New creates the treasury Handler.
func New(
	lifecycle Lifecycle,
	execution Execution,
	pauser *pause.Controller,
	registry *roles.Registry,
	funds *ledger.FundLedger,
	auditor *audit.Publisher,
	gov *config.Governance,
	validator middleware.PrincipalValidator,
	logger *slog.Logger,
	emergencyHash string,
) *Handler {
	return &Handler{
		logger:        logger,
		lifecycle:     lifecycle,
		execution:     execution,
		pauser:        pauser,
		registry:      registry,
		funds:         funds,
		auditor:       auditor,
		gov:           gov,
		validator:     validator,
		emergencyHash: emergencyHash,
	}
}

// Register registers all treasury routes with the chi router.
func (h *Handler) Register(r chi.Router) {
	authed := chi.NewRouter()
	authed.Use(middleware.Recovery(h.logger))
	authed.Use(middleware.RequestID)
	authed.Use(middleware.Logger(h.logger))
	authed.Use(middleware.Timeout(30 * time.Second))
	authed.Use(middleware.ContentTypeJSON)
	authed.Use(middleware.RequireAuth(h.validator, h.logger))

	authed.Post("/proposals", h.handleCreateProposal)
	authed.Get("/proposals", h.handleListProposals)
	authed.Get("/proposals/active", h.handleActiveProposals)
	authed.Get("/proposals/{id}", h.handleGetProposal)
	authed.Post("/proposals/{id}/votes", h.handleVote)
	authed.Post("/proposals/{id}/approve", h.handleApprove)
	authed.Post("/proposals/{id}/reject", h.handleReject)
	authed.Post("/proposals/{id}/cancel", h.handleCancel)
	authed.Put("/proposals/{id}/description", h.handleUpdateDescription)
	authed.Post("/proposals/{id}/execute", h.handleExecute)

	authed.Post("/transfers/token", h.handleTokenTransfer)
	authed.Post("/emergency/withdraw", h.handleEmergencyWithdraw)
	authed.Post("/emergency/withdraw-token", h.handleEmergencyWithdrawToken)

	authed.Post("/admin/pause", h.handlePause)
	authed.Post("/admin/resume", h.handleResume)
	authed.Put("/admin/timelock", h.handleSetTimelock)
	authed.Post("/admin/roles/grant", h.handleGrantRole)
	authed.Post("/admin/roles/revoke", h.handleRevokeRole)

	authed.Post("/treasury/deposits", h.handleDeposit)
	authed.Get("/treasury/balance", h.handleBalance)
	authed.Get("/audit/executions", h.handleExecutionRecords)
	authed.Get("/audit/events", h.handleAuditEvents)

	r.Mount("/", authed)
}

func (h *Handler) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetPrincipal(r.Context())

	var req models.CreateProposalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	target, err := id.ParseAddress(req.Target)
	if err != nil {
		writeError(w, err)
		return
	}
	value, err := id.ParseAmount(req.Value)
	if err != nil {
		writeError(w, err)
		return
	}
	var payload []byte
	if req.Payload != "" {
		payload, err = hexutil.Decode(req.Payload)
		if err != nil {
			writeError(w, dErrors.New(dErrors.CodeBadRequest, "payload must be 0x-prefixed hex"))
			return
		}
	}

	proposalID, err := h.lifecycle.Create(r.Context(), caller, target, value, payload, req.Description)
	if err != nil {
		h.logWarn(r, "create proposal failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": proposalID.String()})
}

func (h *Handler) handleListProposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := h.lifecycle.All(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeProposals(w, proposals)
}

func (h *Handler) handleActiveProposals(w http.ResponseWriter, r *http.Request) {
	proposals, err := h.lifecycle.Active(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	h.writeProposals(w, proposals)
}

func (h *Handler) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	proposalID, err := id.ParseProposalID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	proposal, err := h.lifecycle.Get(r.Context(), proposalID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toProposalResponse(proposal, time.Now(), h.gov.ProposalExpiry()))
}

func (h *Handler) handleVote(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetPrincipal(r.Context())
	proposalID, err := id.ParseProposalID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req models.VoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.lifecycle.Vote(r.Context(), caller, proposalID, req.Support); err != nil {
		h.logWarn(r, "vote failed", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleApprove(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lifecycle.Approve)
}

func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lifecycle.Reject)
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.lifecycle.Cancel)
}

func (h *Handler) handleExecute(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, h.execution.Execute)
}

// transition factors the shared shape of the id-only state transitions.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request, op func(context.Context, common.Address, id.ProposalID) error) {
	caller := middleware.GetPrincipal(r.Context())
	proposalID, err := id.ParseProposalID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := op(r.Context(), caller, proposalID); err != nil {
		h.logWarn(r, "proposal transition failed", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleUpdateDescription(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetPrincipal(r.Context())
	proposalID, err := id.ParseProposalID(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req models.UpdateDescriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.lifecycle.UpdateDescription(r.Context(), caller, proposalID, req.Description); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTokenTransfer(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetPrincipal(r.Context())
	var req models.TokenTransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	token, to, amount, err := parseTokenMove(req.Token, req.To, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.execution.TransferToken(r.Context(), caller, token, to, amount); err != nil {
		h.logWarn(r, "token transfer failed", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEmergencyWithdraw(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetPrincipal(r.Context())
	var req models.EmergencyWithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.verifyEmergencyToken(req.EmergencyToken); err != nil {
		writeError(w, err)
		return
	}
	to, err := id.ParseAddress(req.To)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := id.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.execution.EmergencyWithdrawNative(r.Context(), caller, to, amount); err != nil {
		h.logWarn(r, "emergency withdrawal failed", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleEmergencyWithdrawToken(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetPrincipal(r.Context())
	var req models.EmergencyWithdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if err := h.verifyEmergencyToken(req.EmergencyToken); err != nil {
		writeError(w, err)
		return
	}
	token, to, amount, err := parseTokenMove(req.Token, req.To, req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.execution.EmergencyWithdrawToken(r.Context(), caller, token, to, amount); err != nil {
		h.logWarn(r, "emergency token withdrawal failed", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePause(w http.ResponseWriter, r *http.Request) {
	if err := h.pauser.Pause(r.Context(), middleware.GetPrincipal(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	h.emitPauseEvent(r, audit.ActionSystemPaused)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleResume(w http.ResponseWriter, r *http.Request) {
	if err := h.pauser.Resume(r.Context(), middleware.GetPrincipal(r.Context())); err != nil {
		writeError(w, err)
		return
	}
	h.emitPauseEvent(r, audit.ActionSystemResumed)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetTimelock(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetPrincipal(r.Context())
	var req models.SetTimelockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	timelock := time.Duration(req.TimelockSeconds) * time.Second
	if err := h.lifecycle.SetTimelock(r.Context(), caller, timelock); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleGrantRole(w http.ResponseWriter, r *http.Request) {
	h.roleChange(w, r, h.registry.Grant, audit.ActionRoleGranted)
}

func (h *Handler) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	h.roleChange(w, r, h.registry.Revoke, audit.ActionRoleRevoked)
}

func (h *Handler) roleChange(
	w http.ResponseWriter,
	r *http.Request,
	op func(context.Context, common.Address, common.Address, roles.Role) error,
	action audit.Action,
) {
	caller := middleware.GetPrincipal(r.Context())
	var req models.RoleChangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	principal, err := id.RequireAddress(req.Principal)
	if err != nil {
		writeError(w, err)
		return
	}
	role, err := roles.ParseRole(req.Role)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := op(r.Context(), caller, principal, role); err != nil {
		writeError(w, err)
		return
	}
	if h.auditor != nil {
		_ = h.auditor.Emit(r.Context(), audit.Event{
			Action: action,
			Actor:  caller.Hex(),
			Target: principal.Hex(),
			Detail: string(role),
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetPrincipal(r.Context())
	var req models.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	amount, err := id.ParseAmount(req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.funds.Deposit(amount); err != nil {
		writeError(w, err)
		return
	}
	if h.auditor != nil {
		_ = h.auditor.Emit(r.Context(), audit.Event{
			Action: audit.ActionFundsReceived,
			Actor:  caller.Hex(),
			Amount: amount.String(),
			Detail: "from=" + req.From,
		})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request) {
	paused, err := h.pauser.IsPaused(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"native_balance": h.funds.NativeBalance().String(),
		"paused":         paused,
	})
}

func (h *Handler) handleExecutionRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.execution.Records(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	var (
		events []audit.Event
		err    error
	)
	if raw := r.URL.Query().Get("proposal_id"); raw != "" {
		proposalID, parseErr := id.ParseProposalID(raw)
		if parseErr != nil {
			writeError(w, parseErr)
			return
		}
		events, err = h.auditor.ListByProposal(r.Context(), proposalID)
	} else {
		events, err = h.auditor.List(r.Context(), 500)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

func (h *Handler) writeProposals(w http.ResponseWriter, proposals []*models.Proposal) {
	now := time.Now()
	expiry := h.gov.ProposalExpiry()
	out := make([]ProposalResponse, 0, len(proposals))
	for _, proposal := range proposals {
		out = append(out, toProposalResponse(proposal, now, expiry))
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": out})
}

func (h *Handler) verifyEmergencyToken(presented string) error {
	if h.emergencyHash == "" {
		return dErrors.New(dErrors.CodeUnauthorized, "emergency withdrawals are not configured")
	}
	return secrets.Verify(presented, h.emergencyHash)
}

func (h *Handler) emitPauseEvent(r *http.Request, action audit.Action) {
	if h.auditor == nil {
		return
	}
	_ = h.auditor.Emit(r.Context(), audit.Event{
		Action: action,
		Actor:  middleware.GetPrincipal(r.Context()).Hex(),
	})
}

// parseTokenMove validates the (token, to, amount) triple shared by the
// token transfer and token withdrawal bodies.
func parseTokenMove(tokenStr, toStr, amountStr string) (common.Address, common.Address, *big.Int, error) {
	token, err := id.RequireAddress(tokenStr)
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	to, err := id.RequireAddress(toStr)
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	amount, err := id.ParseAmount(amountStr)
	if err != nil {
		return common.Address{}, common.Address{}, nil, err
	}
	return token, to, amount, nil
}

func (h *Handler) logWarn(r *http.Request, msg string, err error) {
	if h.logger == nil {
		return
	}
	h.logger.WarnContext(r.Context(), msg,
		"request_id", middleware.GetRequestID(r.Context()),
		"error", err.Error(),
	)
}
