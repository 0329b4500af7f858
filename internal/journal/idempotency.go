package journal

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/sells-group/ledger-cli/internal/model"
)

// ContentHash fingerprints the accounting content of an entry: what would be
// posted, not when or by whom.
func ContentHash(e *model.JournalEntry) string {
	var b strings.Builder
	var due, vat string
	if !e.DueDate.IsZero() {
		due = e.DueDate.Format(time.DateOnly)
	}
	if e.Partner != nil {
		vat = e.Partner.TaxID
	}
	fmt.Fprintf(&b, "%d|%s|%s|%s|%s|%s|%s|%s|%s\n",
		e.Sequence, e.Kind(), e.Currency, e.Period, e.Date.Format(time.DateOnly), due, e.Reference, e.PartnerName(), vat)
	for _, l := range e.Lines {
		fmt.Fprintf(&b, "%s|%s|%s|%s\n", l.AccountCode, l.Debit.StringFixed(2), l.Credit.StringFixed(2), l.TaxRate.String())
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// IdempotencyKey identifies one posting of an entry. Rebuilding the same
// document yields the same key.
func IdempotencyKey(documentID string, e *model.JournalEntry) string {
	sum := sha256.Sum256([]byte(documentID + ":" + ContentHash(e)))
	return hex.EncodeToString(sum[:])
}
