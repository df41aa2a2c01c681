// Package fault turns vault and backend errors into HTTP error responses.
package fault

import (
	"errors"
	"net/http"

	"github.com/comprepues/vault/api/weberr"
	"github.com/comprepues/vault/core/backend"
	"github.com/comprepues/vault/core/vault"
)

// Unreachable is shown when the backend failed without saying why.
const Unreachable = "El servicio no respondió, intenta de nuevo"

type rule struct {
	status int
	code   string
}

var local = map[error]rule{
	vault.ErrVaultDisabled:       {http.StatusForbidden, "vault_disabled"},
	vault.ErrBusy:                {http.StatusConflict, "busy"},
	vault.ErrExtendInFlight:      {http.StatusConflict, "extend_in_flight"},
	vault.ErrAlreadySubmitted:    {http.StatusConflict, "already_submitted"},
	vault.ErrSessionClosed:       {http.StatusConflict, "session_closed"},
	vault.ErrNotActive:           {http.StatusConflict, "not_active"},
	vault.ErrNoCart:              {http.StatusNotFound, "no_vault"},
	vault.ErrItemNotFound:        {http.StatusNotFound, "item_not_found"},
	vault.ErrEmptyCart:           {http.StatusBadRequest, "empty_vault"},
	vault.ErrStockIssues:         {http.StatusBadRequest, "stock_issues"},
	vault.ErrNoBankSelected:      {http.StatusBadRequest, "no_bank_selected"},
	vault.ErrInvalidExtension:    {http.StatusBadRequest, "invalid_extension"},
	vault.ErrInvalidQuantity:     {http.StatusBadRequest, "invalid_quantity"},
	vault.ErrInvalidShipping:     {http.StatusBadRequest, "invalid_shipping"},
	vault.ErrRemovalNotConfirmed: {http.StatusBadRequest, "removal_not_confirmed"},
	vault.ErrNoPendingRemoval:    {http.StatusBadRequest, "no_pending_removal"},
	vault.ErrMissingToken:        {http.StatusBadRequest, "missing_token"},
}

var remote = map[backend.Kind]rule{
	backend.Transport:   {http.StatusBadGateway, "backend_unreachable"},
	backend.Upstream:    {http.StatusBadGateway, "backend_failure"},
	backend.Unavailable: {http.StatusServiceUnavailable, "backend_unavailable"},
	backend.Rejected:    {http.StatusUnprocessableEntity, "rejected"},
	backend.NotFound:    {http.StatusNotFound, "not_found"},
}

// Web wraps err with the response the buyer should get. Errors it does not
// know are returned as they are and end up as internal errors.
func Web(err error, opts ...weberr.Opt) error {
	var ue *vault.UserError
	isUser := errors.As(err, &ue)

	for target, r := range local {
		if errors.Is(err, target) {
			msg := target.Error()
			if isUser {
				msg = ue.Message
			}
			return weberr.NewCodedError(err, msg, r.code, r.status, opts...)
		}
	}

	var be *backend.Error
	if errors.As(err, &be) {
		r := remote[be.Kind]
		msg := backend.Message(err, Unreachable)
		if isUser {
			msg = ue.Message
		}
		return weberr.NewCodedError(err, msg, r.code, r.status, opts...)
	}

	return err
}
