package payments

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"portal-middleware/flow"
	"portal-middleware/models"
	"portal-middleware/userdata"
)

// Item is one row of an applicant's payment history. Amount is in major
// units.
type Item struct {
	ID          string  `json:"id"`
	CreatedOn   string  `json:"createdOn"`
	Description string  `json:"description,omitempty"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency,omitempty"`
	Status      string  `json:"status"`
	PayURL      *string `json:"payUrl,omitempty"`
}

// Overview is the payments panel: every row plus the link to the payment the
// applicant should pay next.
type Overview struct {
	Items     []Item  `json:"items"`
	LatestURL *string `json:"latestUrl"`
}

type listItem struct {
	ID          string       `json:"id"`
	CreatedOn   string       `json:"createdOn"`
	Description string       `json:"description"`
	Amount      flow.Decimal `json:"amount"`
	Currency    string       `json:"currency"`
	Status      string       `json:"status"`
	PayURL      *string      `json:"payUrl"`
}

// ListPayments loads the applicant's payments. The list may come back as an
// array or wrapped in items. The latest pending link comes from its own
// workflow; when that fails or has nothing, the newest pending row's link is
// used instead.
func ListPayments(ctx context.Context, bridge Caller) (Overview, error) {
	payload := models.UserPayload{UserID: bridge.LocalUserID()}
	raw, err := bridge.CallRaw(ctx, flow.ListPayments, payload)
	if err != nil {
		return Overview{}, fmt.Errorf("could not load payments: %w", err)
	}
	rows := []listItem{}
	if err := flow.DecodeList(raw, &rows); err != nil {
		return Overview{}, &flow.CallError{Op: flow.ListPayments, Err: err}
	}

	overview := Overview{Items: make([]Item, 0, len(rows))}
	for _, r := range rows {
		currency := r.Currency
		if currency == "" {
			currency = "CAD"
		}
		overview.Items = append(overview.Items, Item{
			ID:          r.ID,
			CreatedOn:   r.CreatedOn,
			Description: r.Description,
			Amount:      r.Amount.Float64(),
			Currency:    currency,
			Status:      r.Status,
			PayURL:      r.PayURL,
		})
	}

	link := ""
	raw, err = bridge.CallRaw(ctx, flow.LatestPending, payload)
	if err != nil {
		log.Printf("latest pending payment link unavailable: %v", err.Error())
	} else if link, err = flow.DecodeLink(raw); err != nil {
		log.Printf("latest pending payment link unreadable: %v", err.Error())
		link = ""
	}
	if link == "" {
		if row := latestPending(overview.Items); row != nil && row.PayURL != nil && *row.PayURL != "" {
			link = *row.PayURL
		}
	}
	if link != "" {
		overview.LatestURL = &link
	}
	return overview, nil
}

// latestPending is the pending row with the newest creation time.
func latestPending(items []Item) *Item {
	pending := []Item{}
	for _, it := range items {
		if it.Status == string(StatusPending) {
			pending = append(pending, it)
		}
	}
	if len(pending) == 0 {
		return nil
	}
	sort.SliceStable(pending, func(i, j int) bool {
		return createdAt(pending[i]).After(createdAt(pending[j]))
	})
	return &pending[0]
}

func createdAt(it Item) time.Time {
	t, err := time.Parse(time.RFC3339, it.CreatedOn)
	if err != nil {
		return time.Time{}
	}
	return t
}

// History returns the journaled checkout steps of a payment, keyed by step.
func History(ctx context.Context, store userdata.Store, userID, paymentID string) (map[string]string, error) {
	prefix := JournalField(paymentID, "")
	fields, err := store.Query(ctx, userID, userdata.EscapeLike(prefix)+"%")
	if err != nil {
		return nil, fmt.Errorf("failed to read payment history: %w", err)
	}
	steps := make(map[string]string, len(fields))
	for _, field := range userdata.SortedFields(fields) {
		if !strings.HasPrefix(field, prefix) {
			continue
		}
		steps[strings.TrimPrefix(field, prefix)] = fields[field]
	}
	return steps, nil
}
