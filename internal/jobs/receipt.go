package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/url"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/briangreenhill/scriptmarket/internal/api"
	"github.com/briangreenhill/scriptmarket/internal/email"
	"github.com/briangreenhill/scriptmarket/internal/market"
)

var receiptTmpl = template.Must(template.New("receipt").Parse(`<p>Thanks for your purchase!</p>
<p><strong>{{.ScriptName}}</strong>: {{printf "%.2f" .Amount}} {{.Currency}} via {{.Provider}}</p>
<p>Payment reference: {{.ID}}</p>
<p>Your license is available on the Licenses page of your account.</p>`))

// ReceiptHandler mails a receipt for a confirmed payment. It reads the
// payment with a service token, so Client must be configured with one.
type ReceiptHandler struct {
	Client *api.Client
	Mail   email.Sender
	Logger zerolog.Logger
}

func (h ReceiptHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var p PurchaseReceiptPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("bad payload: %v: %w", err, asynq.SkipRetry)
	}
	log := h.Logger.With().Str("payment", p.PaymentID).Str("user", p.UserID).Logger()

	pay, err := api.Get[market.Payment](ctx, h.Client, "/payments/"+url.PathEscape(p.PaymentID))
	if err != nil {
		if retryable(err) {
			log.Warn().Err(err).Msg("load payment failed, will retry")
			return err
		}
		log.Error().Err(err).Msg("load payment failed, dropping job")
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	var body bytes.Buffer
	if err := receiptTmpl.Execute(&body, pay); err != nil {
		return fmt.Errorf("render receipt: %v: %w", err, asynq.SkipRetry)
	}
	if err := h.Mail.Send(p.Email, "Your ScriptMarket receipt", body.String()); err != nil {
		log.Warn().Err(err).Msg("send receipt failed")
		return err
	}
	log.Info().Msg("receipt sent")
	return nil
}

// retryable reports whether a failed backend call may succeed later:
// transport errors, rate limiting and 5xx replies.
func retryable(err error) bool {
	var apiErr *api.APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
}
