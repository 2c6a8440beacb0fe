package models

// WebhookProcessResult is the canonical shape every provider payload is
// normalized into before reconciliation. It is never persisted.
type WebhookProcessResult struct {
	Provider              Provider
	Category              Category
	EventType             string
	Reference             string
	ProviderReference     string
	ProviderTransactionID string
	// SecondaryIDs holds other identifiers the provider may have used for
	// the same event on an earlier delivery.
	SecondaryIDs  []string
	AccountNumber string
	Status        TransactionStatus
	RawStatus     string
	Amount        int64
	NetAmount     int64
	Fees          int64
	Taxes         int64
	Currency      string
	// NeedsReview is set when the provider status was not in the lookup
	// table and was defaulted to pending.
	NeedsReview bool
	Metadata    Metadata
}

// LookupIDs returns every provider-side identifier worth checking for a
// prior transaction, primary first, without blanks or repeats.
func (r *WebhookProcessResult) LookupIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	add(r.ProviderReference)
	add(r.ProviderTransactionID)
	for _, id := range r.SecondaryIDs {
		add(id)
	}
	return ids
}
