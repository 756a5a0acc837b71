package models

import "time"

// Transaction is one append-only wallet ledger entry. Amount is always
// positive; Type carries the sign.
type Transaction struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	Description string          `json:"description"`
	Amount      int64           `json:"amount"`
	Type        TransactionType `json:"type"`
	CreatedAt   time.Time       `json:"created_at"`
}

type TransactionType string

const (
	TypeCredit TransactionType = "credit"
	TypeDebit  TransactionType = "debit"
)

// Signed returns the amount as it affects the balance.
func (t Transaction) Signed() int64 {
	if t.Type == TypeDebit {
		return -t.Amount
	}
	return t.Amount
}

// LedgerSum folds a transaction log into the balance it implies.
func LedgerSum(txs []Transaction) int64 {
	var sum int64
	for _, tx := range txs {
		sum += tx.Signed()
	}
	return sum
}
