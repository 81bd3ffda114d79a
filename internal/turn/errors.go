package turn

import "github.com/dndcreator/promethea-gateway/internal/apperr"

func errConfirmationNotFound(callID string) error {
	return apperr.New(apperr.NotFound, "no pending confirmation for call_id "+callID)
}
