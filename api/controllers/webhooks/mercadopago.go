package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/verdeviva/verdeviva-backend/api/responses"
	mpwebhook "github.com/verdeviva/verdeviva-backend/internal/webhooks/mercadopago"
	"github.com/verdeviva/verdeviva-backend/pkg/config"
	pkgerrors "github.com/verdeviva/verdeviva-backend/pkg/errors"
	"github.com/verdeviva/verdeviva-backend/pkg/logger"
)

const maxWebhookBody = 1 << 20

type Processor interface {
	Process(ctx context.Context, n mpwebhook.Notification, payload []byte) (*mpwebhook.Result, error)
}

// MercadoPago ingests provider notifications. The contract with the provider
// is strict: bad signatures and unparsable bodies are rejected, everything
// past the idempotency gate is acknowledged with 200 no matter how
// processing went. Retryable work is converged by the sweep, not by
// provider redelivery.
func MercadoPago(svc Processor, cfg config.MercadoPagoConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read body"))
			return
		}

		notification, err := mpwebhook.ParseNotification(payload)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid notification"))
			return
		}

		dataID := r.URL.Query().Get("data.id")
		if dataID == "" {
			dataID = notification.Data.ID
		}
		if err := mpwebhook.ValidateSignature(
			cfg.WebhookSecret,
			r.Header.Get("x-signature"),
			r.Header.Get("x-request-id"),
			dataID,
		); err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "signature rejected"))
			return
		}

		result, err := svc.Process(r.Context(), notification, payload)
		if result == nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if result.Outcome == mpwebhook.OutcomeDuplicate {
			responses.WriteSuccess(w, map[string]string{"status": "already_processed"})
			return
		}
		// Business failures are logged on the webhook row; the provider
		// still gets an ack so it stops redelivering.
		responses.WriteSuccess(w, result)
	}
}
