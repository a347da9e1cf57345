package functions

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/jonwraymond/querysync/agency"
	"github.com/jonwraymond/querysync/backend"
	"github.com/jonwraymond/querysync/observe"
)

// accept-proposal steps, reported in failure bodies.
const (
	StepLoadProposal   = "load_proposal"
	StepUpdateProposal = "update_proposal"
	StepCreateContract = "create_contract"
	StepCreateInvoice  = "create_invoice"
)

// AcceptRequest is the accept-proposal body.
type AcceptRequest struct {
	ProposalID string `json:"proposal_id"`
	// StartDate is the contract start ("2006-01-02"). Default: today.
	StartDate string `json:"start_date,omitempty"`
}

// AcceptResponse lists the records written.
type AcceptResponse struct {
	Proposal agency.Proposal `json:"proposal"`
	Contract agency.Contract `json:"contract"`
	Invoice  agency.Invoice  `json:"invoice"`
}

// acceptProposal marks a sent proposal accepted, creates its contract and
// the first invoice. The writes run in order and stop at the first failure;
// earlier writes are not undone.
func (s *Server) acceptProposal(ctx context.Context, r *http.Request) (int, any) {
	var req AcceptRequest
	if err := decodeBody(r, s.cfg.MaxBodyBytes, &req); err != nil {
		return failure(err, "")
	}
	req.ProposalID = strings.TrimSpace(req.ProposalID)
	if req.ProposalID == "" {
		return failure(fmt.Errorf("%w: proposal_id is required", ErrBadRequest), "")
	}

	now := s.cfg.Now()
	start := now
	if req.StartDate != "" {
		t, err := parseDate(req.StartDate)
		if err != nil {
			return failure(err, "")
		}
		start = t
	}

	client := s.deps.Backend
	byID := []backend.Filter{backend.Eq("id", req.ProposalID)}

	proposal, err := backend.SingleAs[agency.Proposal](ctx, client, "proposals", backend.Query{Filters: byID})
	if err != nil {
		return failure(err, StepLoadProposal)
	}
	if proposal.Status != agency.ProposalSent {
		return http.StatusConflict, errorBody{
			Error: fmt.Sprintf("proposta com status %q não pode ser aceita", proposal.Status),
			Step:  StepLoadProposal,
		}
	}

	proposal, err = backend.UpdateOne[agency.Proposal](ctx, client, "proposals", byID,
		map[string]any{"status": agency.ProposalAccepted})
	if err != nil {
		return failure(err, StepUpdateProposal)
	}

	contract, err := backend.InsertOne[agency.Contract](ctx, client, "contracts", withTenant(proposal.TenantID, map[string]any{
		"client_id":   proposal.ClientID,
		"proposal_id": proposal.ID,
		"title":       proposal.Title,
		"value":       proposal.Value,
		"status":      agency.ContractActive,
		"start_date":  start.Format(dateLayout),
	}))
	if err != nil {
		return failure(err, StepCreateContract)
	}

	invoice, err := backend.InsertOne[agency.Invoice](ctx, client, "invoices", withTenant(proposal.TenantID, map[string]any{
		"client_id":   proposal.ClientID,
		"contract_id": contract.ID,
		"amount":      proposal.Value,
		"due_date":    start.AddDate(0, 0, s.cfg.InvoiceDueDays).Format(dateLayout),
		"status":      agency.InvoicePending,
	}))
	if err != nil {
		return failure(err, StepCreateInvoice)
	}

	s.deps.Logger.Info(ctx, "proposal accepted",
		observe.F("proposal_id", proposal.ID),
		observe.F("contract_id", contract.ID),
		observe.F("invoice_id", invoice.ID))
	return http.StatusOK, AcceptResponse{Proposal: proposal, Contract: contract, Invoice: invoice}
}

const dateLayout = "2006-01-02"

func parseDate(s string) (time.Time, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: start_date must be YYYY-MM-DD, got %q", ErrBadRequest, s)
	}
	return t, nil
}

// withTenant adds tenant_id when known; otherwise the backend default
// (derived from the caller's token) applies.
func withTenant(tenantID string, row map[string]any) map[string]any {
	if tenantID != "" {
		row["tenant_id"] = tenantID
	}
	return row
}
