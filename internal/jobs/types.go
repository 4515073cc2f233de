package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	TaskPurchaseReceipt = "mail:purchase_receipt"

	QueueMail = "mail"
)

// PurchaseReceiptPayload identifies a confirmed payment to mail a receipt
// for. Amounts are re-read from the backend, not trusted from the payload.
type PurchaseReceiptPayload struct {
	PaymentID string `json:"payment_id"`
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	Lang      string `json:"lang,omitempty"`
}

func NewPurchaseReceiptTask(p PurchaseReceiptPayload) (*asynq.Task, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPurchaseReceipt, b,
		asynq.Queue(QueueMail),
		asynq.MaxRetry(5),
		asynq.Timeout(time.Minute),
		// one receipt per payment even if the success page is reloaded
		asynq.TaskID("receipt:"+p.PaymentID),
	), nil
}

// Enqueuer is the part of asynq.Client the web server uses.
type Enqueuer interface {
	Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}
