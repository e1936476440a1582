package store

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/sells-group/outreach-cli/internal/model"
)

// placeholderFunc renders the n-th (1-based) bind parameter for a dialect.
type placeholderFunc func(n int) string

func sqlitePlaceholder(int) string { return "?" }

func postgresPlaceholder(n int) string { return fmt.Sprintf("$%d", n) }

// buildLeadUpdate renders the guarded UPDATE for upd. The statement only
// matches while the lead is still in upd.From.
func buildLeadUpdate(upd model.LeadUpdate, now time.Time, ph placeholderFunc) (string, []any) {
	var (
		sets []string
		args []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf(clause, ph(len(args))))
	}

	add("status = %s", string(upd.To))
	add("updated_at = %s", now)
	if upd.Email != nil {
		add("email = %s", nullable(*upd.Email))
	}
	if upd.Description != nil {
		add("description = %s", nullable(*upd.Description))
	}
	if upd.ContactedAt != nil {
		add("last_contacted = %s", upd.ContactedAt.UTC())
	}
	if upd.IncrementFollowUp {
		sets = append(sets, "follow_up_count = follow_up_count + 1")
	}

	args = append(args, upd.ID)
	idPH := ph(len(args))
	args = append(args, string(upd.From))
	fromPH := ph(len(args))

	query := fmt.Sprintf("UPDATE leads SET %s WHERE id = %s AND status = %s",
		strings.Join(sets, ", "), idPH, fromPH)
	return query, args
}

// eventDetail bounds the free-text detail stored with an event to
// maxDetail runes. The result is always valid UTF-8.
func eventDetail(s string) string {
	const maxDetail = 500
	if utf8.RuneCountInString(s) <= maxDetail {
		return strings.ToValidUTF8(s, "\uFFFD")
	}
	r := []rune(s)
	return string(r[:maxDetail])
}

// MarkReplied moves a lead to Replied from whatever cadence status it is in.
// It returns the status the lead left.
func MarkReplied(ctx context.Context, st Store, id string) (model.LeadStatus, error) {
	lead, err := st.GetLead(ctx, id)
	if err != nil {
		return "", err
	}
	err = st.UpdateLead(ctx, model.LeadUpdate{
		ID:     id,
		From:   lead.Status,
		To:     model.LeadStatusReplied,
		Reason: model.EventReasonReplied,
	})
	if err != nil {
		return lead.Status, err
	}
	return lead.Status, nil
}
