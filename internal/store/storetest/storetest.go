// Package storetest provides lead store fixtures for tests in other packages.
package storetest

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
)

// NewSQLite opens a migrated SQLite store in a temp dir, closed on cleanup.
func NewSQLite(t testing.TB) *store.SQLiteStore {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "leads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

// Lead describes a fixture lead.
type Lead struct {
	Name       string
	ClinicName string
	Website    string
	Email      string
	Status     model.LeadStatus
	// ContactedAt is used as last_contacted for every simulated send.
	ContactedAt time.Time
}

// Seed inserts l and walks it through the lifecycle to l.Status using the
// store's own update path, so every invariant holds. Status defaults to
// Found. It returns the stored lead.
func Seed(t testing.TB, st store.Store, l Lead) *model.Lead {
	t.Helper()
	ctx := context.Background()

	lead := &model.Lead{Name: l.Name, ClinicName: l.ClinicName, Website: l.Website}
	ok, err := st.InsertLead(ctx, lead)
	require.NoError(t, err)
	require.True(t, ok, "seed: website %q already taken", l.Website)

	target := l.Status
	if target == "" {
		target = model.LeadStatusFound
	}
	if target == model.LeadStatusFound {
		return get(t, st, lead.ID)
	}

	if target == model.LeadStatusMissingInfo {
		require.NoError(t, st.UpdateLead(ctx, model.LeadUpdate{
			ID: lead.ID, From: model.LeadStatusFound, To: model.LeadStatusMissingInfo,
			Reason: model.EventReasonMissingInfo,
		}))
		return get(t, st, lead.ID)
	}

	email := l.Email
	require.NoError(t, st.UpdateLead(ctx, model.LeadUpdate{
		ID: lead.ID, From: model.LeadStatusFound, To: model.LeadStatusEnriched,
		Email: &email, Reason: model.EventReasonEnriched,
	}))

	contactedAt := l.ContactedAt
	if contactedAt.IsZero() {
		contactedAt = time.Now().UTC()
	}

	cur := model.LeadStatusEnriched
	for cur != target {
		next, ok := model.NextSendStatus(cur)
		if !ok {
			reason := model.EventReasonClosed
			if target == model.LeadStatusReplied {
				reason = model.EventReasonReplied
			}
			require.NoError(t, st.UpdateLead(ctx, model.LeadUpdate{
				ID: lead.ID, From: cur, To: target, Reason: reason,
			}))
			break
		}
		require.NoError(t, st.UpdateLead(ctx, model.LeadUpdate{
			ID: lead.ID, From: cur, To: next,
			ContactedAt: &contactedAt, IncrementFollowUp: true,
			Reason: model.EventReasonSent,
		}))
		cur = next
	}
	return get(t, st, lead.ID)
}

func get(t testing.TB, st store.Store, id string) *model.Lead {
	t.Helper()
	lead, err := st.GetLead(context.Background(), id)
	require.NoError(t, err)
	return lead
}
