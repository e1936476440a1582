package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/compose"
	"github.com/sells-group/outreach-cli/internal/metrics"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/internal/store/storetest"
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Send(ctx context.Context, env Envelope) error {
	return m.Called(ctx, env).Error(0)
}

var (
	fixedNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	testMsg  = compose.Message{Subject: "Question for Acme Dental", Body: "Hi Dr. Smith", HTML: "<p>Hi Dr. Smith</p>"}
)

func newTestExecutor(t *testing.T, tr Transport) (*Executor, *store.SQLiteStore, *metrics.Metrics) {
	t.Helper()
	st := storetest.NewSQLite(t)
	m := metrics.New(prometheus.NewRegistry())
	return NewExecutor(st, tr, m).WithClock(func() time.Time { return fixedNow }), st, m
}

func TestSend_EnrichedAdvancesToContacted(t *testing.T) {
	tr := &mockTransport{}
	exec, st, m := newTestExecutor(t, tr)
	lead := storetest.Seed(t, st, storetest.Lead{
		Name: "Dr. Smith", ClinicName: "Acme Dental", Website: "https://acme.example",
		Email: "info@acme.example", Status: model.LeadStatusEnriched,
	})

	tr.On("Send", mock.Anything, Envelope{
		To:      "info@acme.example",
		ToName:  "Dr. Smith",
		Subject: testMsg.Subject,
		Text:    testMsg.Body,
		HTML:    testMsg.HTML,
	}).Return(nil).Once()

	rcpt := exec.Send(context.Background(), lead.ID, testMsg)
	require.True(t, rcpt.Sent, rcpt.Reason)
	assert.Equal(t, model.LeadStatusEnriched, rcpt.From)
	assert.Equal(t, model.LeadStatusContacted, rcpt.To)

	got, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusContacted, got.Status)
	assert.Equal(t, 1, got.FollowUpCount)
	require.NotNil(t, got.LastContacted)
	assert.True(t, got.LastContacted.Equal(fixedNow))

	events, err := st.ListEvents(context.Background(), lead.ID)
	require.NoError(t, err)
	last := events[len(events)-1]
	assert.Equal(t, model.EventReasonSent, last.Reason)
	assert.Equal(t, testMsg.Subject, last.Detail)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmailsSent.WithLabelValues("Enriched", metrics.OutcomeSent)))
	tr.AssertExpectations(t)
}

func TestSend_FollowUpChain(t *testing.T) {
	tr := &mockTransport{}
	tr.On("Send", mock.Anything, mock.Anything).Return(nil)
	exec, st, _ := newTestExecutor(t, tr)
	lead := storetest.Seed(t, st, storetest.Lead{
		ClinicName: "Acme Dental", Website: "https://acme.example",
		Email: "info@acme.example", Status: model.LeadStatusContacted,
	})

	want := []model.LeadStatus{model.LeadStatusFollowUp1, model.LeadStatusFollowUp2, model.LeadStatusFollowUp3}
	for i, status := range want {
		rcpt := exec.Send(context.Background(), lead.ID, testMsg)
		require.True(t, rcpt.Sent, rcpt.Reason)
		assert.Equal(t, status, rcpt.To)

		got, err := st.GetLead(context.Background(), lead.ID)
		require.NoError(t, err)
		assert.Equal(t, status, got.Status)
		assert.Equal(t, i+2, got.FollowUpCount)
	}
}

func TestSend_NoEmailRefused(t *testing.T) {
	tr := &mockTransport{}
	exec, st, _ := newTestExecutor(t, tr)
	lead := storetest.Seed(t, st, storetest.Lead{
		ClinicName: "No Email Clinic", Website: "https://noemail.example",
		Status: model.LeadStatusEnriched,
	})

	rcpt := exec.Send(context.Background(), lead.ID, testMsg)
	assert.False(t, rcpt.Sent)
	assert.Equal(t, "no email address", rcpt.Reason)

	got, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusEnriched, got.Status)
	assert.Equal(t, 0, got.FollowUpCount)
	assert.Nil(t, got.LastContacted)
	tr.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestSend_NoSendStepRefused(t *testing.T) {
	for _, status := range []model.LeadStatus{
		model.LeadStatusFollowUp3,
		model.LeadStatusReplied,
		model.LeadStatusClosed,
	} {
		t.Run(string(status), func(t *testing.T) {
			tr := &mockTransport{}
			exec, st, _ := newTestExecutor(t, tr)
			lead := storetest.Seed(t, st, storetest.Lead{
				ClinicName: "Acme Dental", Website: "https://acme.example",
				Email: "info@acme.example", Status: status,
			})

			rcpt := exec.Send(context.Background(), lead.ID, testMsg)
			assert.False(t, rcpt.Sent)
			assert.Contains(t, rcpt.Reason, "no send step")
			tr.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
		})
	}
}

func TestSend_EmptyMessageRefused(t *testing.T) {
	tr := &mockTransport{}
	exec, st, _ := newTestExecutor(t, tr)
	lead := storetest.Seed(t, st, storetest.Lead{
		ClinicName: "Acme Dental", Website: "https://acme.example",
		Email: "info@acme.example", Status: model.LeadStatusEnriched,
	})

	rcpt := exec.Send(context.Background(), lead.ID, compose.Message{Subject: "hi"})
	assert.False(t, rcpt.Sent)
	assert.Equal(t, "empty subject or body", rcpt.Reason)
	tr.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestSend_TransportFailureLeavesLead(t *testing.T) {
	tr := &mockTransport{}
	tr.On("Send", mock.Anything, mock.Anything).Return(errors.New("550 mailbox unavailable")).Once()
	exec, st, m := newTestExecutor(t, tr)
	lead := storetest.Seed(t, st, storetest.Lead{
		ClinicName: "Acme Dental", Website: "https://acme.example",
		Email: "info@acme.example", Status: model.LeadStatusEnriched,
	})

	rcpt := exec.Send(context.Background(), lead.ID, testMsg)
	assert.False(t, rcpt.Sent)
	assert.Contains(t, rcpt.Reason, "550 mailbox unavailable")

	got, err := st.GetLead(context.Background(), lead.ID)
	require.NoError(t, err)
	assert.Equal(t, model.LeadStatusEnriched, got.Status)
	assert.Equal(t, 0, got.FollowUpCount)
	assert.Nil(t, got.LastContacted)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EmailsSent.WithLabelValues("Enriched", metrics.OutcomeFailed)))
}

func TestSend_UnknownLead(t *testing.T) {
	tr := &mockTransport{}
	exec, _, _ := newTestExecutor(t, tr)

	rcpt := exec.Send(context.Background(), "missing", testMsg)
	assert.False(t, rcpt.Sent)
	assert.Equal(t, "lead not found", rcpt.Reason)
	tr.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

type staleStore struct {
	Store
}

func (s staleStore) UpdateLead(context.Context, model.LeadUpdate) error {
	return store.ErrStaleStatus
}

func TestSend_UpdateFailureAfterTransport(t *testing.T) {
	tr := &mockTransport{}
	tr.On("Send", mock.Anything, mock.Anything).Return(nil).Once()
	_, st, _ := newTestExecutor(t, tr)
	lead := storetest.Seed(t, st, storetest.Lead{
		ClinicName: "Acme Dental", Website: "https://acme.example",
		Email: "info@acme.example", Status: model.LeadStatusEnriched,
	})

	exec := NewExecutor(staleStore{Store: st}, tr, nil)
	rcpt := exec.Send(context.Background(), lead.ID, testMsg)
	assert.False(t, rcpt.Sent)
	assert.Contains(t, rcpt.Reason, "record send")
	tr.AssertExpectations(t)
}
