package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/outreach-cli/internal/compose"
	"github.com/sells-group/outreach-cli/internal/delivery"
	"github.com/sells-group/outreach-cli/internal/model"
	"github.com/sells-group/outreach-cli/internal/store"
	"github.com/sells-group/outreach-cli/internal/store/storetest"
)

type mockTransport struct {
	mock.Mock
}

func (m *mockTransport) Send(ctx context.Context, env delivery.Envelope) error {
	return m.Called(ctx, env).Error(0)
}

var now = time.Date(2026, 5, 20, 12, 0, 0, 0, time.UTC)

func daysAgo(d int) time.Time {
	return now.Add(-time.Duration(d) * 24 * time.Hour)
}

type harness struct {
	store     *store.SQLiteStore
	transport *mockTransport
	sched     *Scheduler
}

func newHarness(t *testing.T, cadence Cadence) *harness {
	t.Helper()
	st := storetest.NewSQLite(t)
	tr := &mockTransport{}
	comp, err := compose.New(nil, compose.Options{}, nil)
	require.NoError(t, err)
	exec := delivery.NewExecutor(st, tr, nil).WithClock(func() time.Time { return now })
	s, err := New(st, comp, exec, cadence, nil)
	require.NoError(t, err)
	s.WithClock(func() time.Time { return now })
	return &harness{store: st, transport: tr, sched: s}
}

func (h *harness) seed(t *testing.T, website string, status model.LeadStatus, contacted time.Time) *model.Lead {
	t.Helper()
	return storetest.Seed(t, h.store, storetest.Lead{
		Name: "Dr. Smith", ClinicName: "Clinic " + website, Website: website,
		Email: "hello@" + website, Status: status, ContactedAt: contacted,
	})
}

func (h *harness) status(t *testing.T, id string) *model.Lead {
	t.Helper()
	l, err := h.store.GetLead(context.Background(), id)
	require.NoError(t, err)
	return l
}

func TestSweep_IntervalGating(t *testing.T) {
	h := newHarness(t, DefaultCadence())
	twoDays := h.seed(t, "two.example", model.LeadStatusContacted, daysAgo(2))
	threeDays := h.seed(t, "three.example", model.LeadStatusContacted, daysAgo(3))

	h.transport.On("Send", mock.Anything, mock.MatchedBy(func(env delivery.Envelope) bool {
		return env.To == "hello@three.example" && env.Subject == "Following up: Helping Clinic three.example"
	})).Return(nil).Once()

	res, err := h.sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Visited)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.NotDue)

	assert.Equal(t, model.LeadStatusContacted, h.status(t, twoDays.ID).Status)
	advanced := h.status(t, threeDays.ID)
	assert.Equal(t, model.LeadStatusFollowUp1, advanced.Status)
	assert.Equal(t, 2, advanced.FollowUpCount)
	assert.True(t, advanced.LastContacted.Equal(now))
	h.transport.AssertExpectations(t)
}

func TestSweep_RerunSameDayIsNoop(t *testing.T) {
	h := newHarness(t, DefaultCadence())
	lead := h.seed(t, "due.example", model.LeadStatusContacted, daysAgo(3))
	closing := h.seed(t, "done.example", model.LeadStatusFollowUp3, daysAgo(8))
	h.transport.On("Send", mock.Anything, mock.Anything).Return(nil).Once()

	first, err := h.sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, first.Sent)
	assert.Equal(t, 1, first.Closed)

	second, err := h.sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, second.Visited)
	assert.Zero(t, second.Sent)
	assert.Zero(t, second.Closed)
	assert.Equal(t, 1, second.NotDue)

	got := h.status(t, lead.ID)
	assert.Equal(t, model.LeadStatusFollowUp1, got.Status)
	assert.Equal(t, 2, got.FollowUpCount)
	assert.Equal(t, model.LeadStatusClosed, h.status(t, closing.ID).Status)
	h.transport.AssertNumberOfCalls(t, "Send", 1)
}

func TestSweep_PartialDaysFloor(t *testing.T) {
	h := newHarness(t, DefaultCadence())
	lead := h.seed(t, "almost.example", model.LeadStatusFollowUp1, now.Add(-71*time.Hour))

	res, err := h.sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.NotDue)
	assert.Equal(t, model.LeadStatusFollowUp1, h.status(t, lead.ID).Status)
	h.transport.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestSweep_ClosesFinalFollowUpWithoutSending(t *testing.T) {
	h := newHarness(t, DefaultCadence())
	stale := h.seed(t, "stale.example", model.LeadStatusFollowUp3, daysAgo(8))
	recent := h.seed(t, "recent.example", model.LeadStatusFollowUp3, daysAgo(6))

	res, err := h.sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)
	assert.Equal(t, 1, res.NotDue)
	assert.Zero(t, res.Sent)

	closed := h.status(t, stale.ID)
	assert.Equal(t, model.LeadStatusClosed, closed.Status)
	assert.Equal(t, 4, closed.FollowUpCount)
	assert.Equal(t, model.LeadStatusFollowUp3, h.status(t, recent.ID).Status)
	h.transport.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestSweep_FailuresDoNotStopSweep(t *testing.T) {
	h := newHarness(t, DefaultCadence())
	failing := h.seed(t, "fail.example", model.LeadStatusContacted, daysAgo(4))
	ok := h.seed(t, "ok.example", model.LeadStatusFollowUp2, daysAgo(5))

	h.transport.On("Send", mock.Anything, mock.MatchedBy(func(env delivery.Envelope) bool {
		return env.To == "hello@fail.example"
	})).Return(errors.New("421 try later")).Once()
	h.transport.On("Send", mock.Anything, mock.MatchedBy(func(env delivery.Envelope) bool {
		return env.To == "hello@ok.example"
	})).Return(nil).Once()

	res, err := h.sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.SendFailed)
	assert.Equal(t, 1, res.Sent)

	assert.Equal(t, model.LeadStatusContacted, h.status(t, failing.ID).Status)
	assert.Equal(t, model.LeadStatusFollowUp3, h.status(t, ok.ID).Status)
}

func TestSweep_IgnoresInactiveStatuses(t *testing.T) {
	h := newHarness(t, DefaultCadence())
	h.seed(t, "found.example", model.LeadStatusFound, time.Time{})
	h.seed(t, "enriched.example", model.LeadStatusEnriched, time.Time{})
	h.seed(t, "missing.example", model.LeadStatusMissingInfo, time.Time{})
	h.seed(t, "replied.example", model.LeadStatusReplied, daysAgo(30))
	h.seed(t, "closed.example", model.LeadStatusClosed, daysAgo(30))

	res, err := h.sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, SweepResult{}, *res)
	h.transport.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestSweep_ShortenedCadenceClosesEarly(t *testing.T) {
	h := newHarness(t, Cadence{FollowUpIntervalDays: 3, CloseAfterDays: 7, MaxFollowUps: 1})
	lead := h.seed(t, "short.example", model.LeadStatusFollowUp1, daysAgo(7))

	res, err := h.sched.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, res.Closed)
	assert.Equal(t, model.LeadStatusClosed, h.status(t, lead.ID).Status)
}

type fakeStore struct {
	leads   []model.Lead
	listErr error
	updates []model.LeadUpdate
}

func (f *fakeStore) ListLeads(context.Context, store.LeadFilter) ([]model.Lead, error) {
	return f.leads, f.listErr
}

func (f *fakeStore) UpdateLead(_ context.Context, upd model.LeadUpdate) error {
	f.updates = append(f.updates, upd)
	return nil
}

type noSender struct{}

func (noSender) Send(context.Context, string, compose.Message) delivery.Receipt {
	return delivery.Receipt{Reason: "unexpected"}
}

func TestSweep_MissingLastContactedCountsError(t *testing.T) {
	contacted := daysAgo(9)
	st := &fakeStore{leads: []model.Lead{
		{ID: "corrupt", Status: model.LeadStatusFollowUp2},
		{ID: "good", Status: model.LeadStatusFollowUp3, LastContacted: &contacted},
	}}
	comp, err := compose.New(nil, compose.Options{}, nil)
	require.NoError(t, err)
	s, err := New(st, comp, noSender{}, DefaultCadence(), nil)
	require.NoError(t, err)
	s.WithClock(func() time.Time { return now })

	res, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Visited)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 1, res.Closed)
	require.Len(t, st.updates, 1)
	assert.Equal(t, "good", st.updates[0].ID)
	assert.Equal(t, model.LeadStatusClosed, st.updates[0].To)
}

func TestSweep_ListError(t *testing.T) {
	s, err := New(&fakeStore{listErr: errors.New("db down")}, nil, noSender{}, DefaultCadence(), nil)
	require.NoError(t, err)
	_, err = s.Sweep(context.Background())
	require.Error(t, err)
}

func TestSweep_CanceledContext(t *testing.T) {
	contacted := daysAgo(1)
	st := &fakeStore{leads: []model.Lead{{ID: "a", Status: model.LeadStatusContacted, LastContacted: &contacted}}}
	s, err := New(st, nil, noSender{}, DefaultCadence(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Sweep(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCadence_Validate(t *testing.T) {
	require.NoError(t, DefaultCadence().Validate())

	bad := []Cadence{
		{FollowUpIntervalDays: 0, CloseAfterDays: 7, MaxFollowUps: 3},
		{FollowUpIntervalDays: 3, CloseAfterDays: 0, MaxFollowUps: 3},
		{FollowUpIntervalDays: 3, CloseAfterDays: 7, MaxFollowUps: 0},
		{FollowUpIntervalDays: 3, CloseAfterDays: 7, MaxFollowUps: 4},
	}
	for _, c := range bad {
		assert.Error(t, c.Validate(), "%+v", c)
	}

	_, err := New(&fakeStore{}, nil, noSender{}, Cadence{}, nil)
	assert.Error(t, err)
}

func TestCadence_Decide(t *testing.T) {
	c := DefaultCadence()
	assert.Equal(t, actionNone, c.decide(model.LeadStatusContacted, 2))
	assert.Equal(t, actionFollowUp, c.decide(model.LeadStatusContacted, 3))
	assert.Equal(t, actionFollowUp, c.decide(model.LeadStatusFollowUp2, 10))
	assert.Equal(t, actionNone, c.decide(model.LeadStatusFollowUp3, 6))
	assert.Equal(t, actionClose, c.decide(model.LeadStatusFollowUp3, 7))
}
