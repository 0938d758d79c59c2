package audit

import (
	"encoding/json"
	"log"
	"time"
)

type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	TransactionID int64     `json:"transaction_id,omitempty"`
	Amount        string    `json:"amount,omitempty"`
	Status        string    `json:"status"`
	Details       any       `json:"details,omitempty"`
}

// Logger writes structured JSON audit lines for every ledger-mutating
// operation. Sink is the process log; shipping these elsewhere is the
// deployment's concern.
type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogPayment(transactionID int64, paymentType, amount string, invoiceCount int) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "PAYMENT",
		TransactionID: transactionID,
		Amount:        amount,
		Status:        "SUCCESS",
		Details: map[string]any{
			"payment_type":  paymentType,
			"invoice_count": invoiceCount,
		},
	})
}

func (a *Logger) LogForward(transactionID int64, sourceAccountID, destinationAccountID int64, amount, remittanceReference string) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "FORWARD",
		TransactionID: transactionID,
		Amount:        amount,
		Status:        "SUCCESS",
		Details: map[string]any{
			"source_gl_account_id":      sourceAccountID,
			"destination_gl_account_id": destinationAccountID,
			"remittance_reference":      remittanceReference,
		},
	})
}

func (a *Logger) LogRollback(transactionID, reversingTransactionID int64) {
	a.log(Event{
		Timestamp:     time.Now(),
		EventType:     "ROLLBACK",
		TransactionID: transactionID,
		Status:        "SUCCESS",
		Details: map[string]any{
			"reversing_transaction_id": reversingTransactionID,
		},
	})
}

func (a *Logger) LogError(operation string, err error) {
	a.log(Event{
		Timestamp: time.Now(),
		EventType: operation,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	})
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
