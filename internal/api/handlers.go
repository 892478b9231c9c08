package api

import (
	"fmt"
	"net/http"

	"github.com/payment-ledger/internal/errors"
	"github.com/payment-ledger/internal/logging"
	"github.com/payment-ledger/internal/types"
)

// accountRef identifies the account a request acts on. Exactly one field is
// set.
type accountRef struct {
	Wallet string `json:"wallet,omitempty"`
	Email  string `json:"email,omitempty"`
	UserID string `json:"userId,omitempty"`
}

func (a accountRef) key() (types.AccountKey, error) {
	set := 0
	var key types.AccountKey
	if a.Wallet != "" {
		set++
		key = types.WalletKey(a.Wallet)
	}
	if a.Email != "" {
		set++
		key = types.EmailKey(a.Email)
	}
	if a.UserID != "" {
		set++
		key = types.UserIDKey(a.UserID)
	}
	if set != 1 {
		return types.AccountKey{}, fmt.Errorf("exactly one of wallet, email or userId is required")
	}
	return key, nil
}

type claimRequest struct {
	Account accountRef         `json:"account"`
	Claim   types.PaymentClaim `json:"claim"`
}

// handleSubmitClaim handles POST /v1/claims
func (s *Server) handleSubmitClaim(w http.ResponseWriter, r *http.Request) {
	var req claimRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errors.CodeInvalidClaim, "invalid request body: "+err.Error(), nil)
		return
	}

	key, err := req.Account.key()
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.CodeInvalidClaim, err.Error(), nil)
		return
	}

	record, err := s.ledger.Credit(r.Context(), key, req.Claim)
	if err != nil {
		logging.FromContext(r.Context()).
			WithError(err).
			WithField("code", errors.CodeOf(err)).
			WithField("naturalKey", req.Claim.NaturalKey()).
			Warn("Claim rejected")
		respondLedgerError(w, err)
		return
	}
	if record == nil {
		pe := errors.NewAlreadyProcessed(req.Claim.NaturalKey())
		respondJSON(w, pe.StatusCode, map[string]interface{}{
			"status":     "already_processed",
			"code":       pe.Code,
			"message":    pe.Message,
			"naturalKey": req.Claim.NaturalKey(),
		})
		return
	}

	respondJSON(w, http.StatusCreated, record)
}

type debitRequest struct {
	Account accountRef `json:"account"`
	Credits int64      `json:"credits"`
	Reason  string     `json:"reason,omitempty"`
}

// handleDebit handles POST /v1/debits
func (s *Server) handleDebit(w http.ResponseWriter, r *http.Request) {
	var req debitRequest
	if err := parseJSONBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errors.CodeInvalidClaim, "invalid request body: "+err.Error(), nil)
		return
	}

	key, err := req.Account.key()
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.CodeInvalidClaim, err.Error(), nil)
		return
	}

	record, err := s.ledger.Debit(r.Context(), key, req.Credits, req.Reason)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, record)
}

// handleGetAccount handles GET /v1/accounts?wallet=|email=|userId=
func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	ref := accountRef{
		Wallet: r.URL.Query().Get("wallet"),
		Email:  r.URL.Query().Get("email"),
		UserID: r.URL.Query().Get("userId"),
	}
	key, err := ref.key()
	if err != nil {
		respondError(w, http.StatusBadRequest, errors.CodeInvalidClaim, err.Error(), nil)
		return
	}

	account, err := s.ledger.Account(r.Context(), key)
	if err != nil {
		respondLedgerError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, account)
}
