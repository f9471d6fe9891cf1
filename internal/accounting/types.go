package accounting

import "math"

// Customer is the provider's customer record, reduced to the fields this
// service reads.
type Customer struct {
	ID           string  `json:"id"`
	DisplayName  string  `json:"display_name"`
	CompanyName  string  `json:"company_name"`
	PrimaryPhone string  `json:"primary_phone"`
	MobilePhone  string  `json:"mobile_phone"`
	Email        string  `json:"email"`
	Balance      float64 `json:"balance"`
	SyncToken    string  `json:"sync_token"`
}

// Invoice is the provider's invoice record.
type Invoice struct {
	ID          string  `json:"id"`
	CustomerID  string  `json:"customer_id"`
	TotalAmount float64 `json:"total_amount"`
	Balance     float64 `json:"balance"`
	TxnDate     string  `json:"txn_date"`
	DueDate     string  `json:"due_date"`
	SyncToken   string  `json:"sync_token"`
}

// Payment is the provider's payment record, including the line items that
// link it to the invoices it settles.
type Payment struct {
	ID          string        `json:"id"`
	CustomerID  string        `json:"customer_id"`
	TotalAmount float64       `json:"total_amount"`
	TxnDate     string        `json:"txn_date"`
	SyncToken   string        `json:"sync_token"`
	Lines       []PaymentLine `json:"lines"`
}

type PaymentLine struct {
	Amount     float64     `json:"amount"`
	LinkedTxns []LinkedTxn `json:"linked_txns"`
}

type LinkedTxn struct {
	TxnID   string `json:"txn_id"`
	TxnType string `json:"txn_type"` // Invoice, CreditMemo, ...
}

// LinkedInvoiceIDs walks the payment's line items and returns every invoice
// reference, in order, without duplicates.
func (p Payment) LinkedInvoiceIDs() []string {
	seen := map[string]bool{}
	var ids []string
	for _, line := range p.Lines {
		for _, txn := range line.LinkedTxns {
			if txn.TxnType != "Invoice" || txn.TxnID == "" || seen[txn.TxnID] {
				continue
			}
			seen[txn.TxnID] = true
			ids = append(ids, txn.TxnID)
		}
	}
	return ids
}

// ToCents converts a provider decimal amount to integer cents.
func ToCents(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
