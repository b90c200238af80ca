package api

import (
	"time"

	"github.com/geeky-vaiiib/BankEase/internal/models"
	"github.com/geeky-vaiiib/BankEase/internal/money"
)

// transactionView is a record as clients see it: the counterparty becomes
// "to" on the sending side and "from" on the receiving side.
type transactionView struct {
	ID            string        `json:"id"`
	TransactionID string        `json:"transactionId"`
	Type          models.Kind   `json:"type"`
	Amount        money.Amount  `json:"amount"`
	To            string        `json:"to,omitempty"`
	From          string        `json:"from,omitempty"`
	Description   string        `json:"description,omitempty"`
	Status        models.Status `json:"status"`
	Timestamp     time.Time     `json:"timestamp"`
}

func newTransactionView(r *models.TransactionRecord) transactionView {
	v := transactionView{
		ID:            r.ID,
		TransactionID: r.TransactionID,
		Type:          r.Kind,
		Amount:        r.Amount,
		Description:   r.Description,
		Status:        r.Status,
		Timestamp:     r.CreatedTime(),
	}
	if r.Kind == models.KindReceive {
		v.From = r.Counterparty
	} else {
		v.To = r.Counterparty
	}
	return v
}

func transactionViews(records []*models.TransactionRecord) []transactionView {
	views := make([]transactionView, 0, len(records))
	for _, r := range records {
		views = append(views, newTransactionView(r))
	}
	return views
}
