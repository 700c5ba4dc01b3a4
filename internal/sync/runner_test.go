package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/bank-sync/internal/ledger"
	"github.com/example/bank-sync/internal/match"
	"github.com/example/bank-sync/internal/provider"
	"github.com/example/bank-sync/internal/runlog"
	"github.com/example/bank-sync/internal/state"
)

var testNow = time.Date(2024, 3, 2, 12, 0, 0, 0, time.UTC)

type fakeProvider struct {
	status    string
	statusErr error
	days      float64
	daysErr   error
	page      provider.TransactionPage
	txErr     error

	txCalled bool
}

func (f *fakeProvider) Authenticate(ctx context.Context) (string, error) {
	return "tok", nil
}

func (f *fakeProvider) AccountStatus(ctx context.Context, token, accountID string) (string, error) {
	return f.status, f.statusErr
}

func (f *fakeProvider) AgreementDaysRemaining(ctx context.Context, token, agreementID string) (float64, error) {
	return f.days, f.daysErr
}

func (f *fakeProvider) Transactions(ctx context.Context, token, accountID, dateFrom, dateTo string) (*provider.TransactionPage, error) {
	f.txCalled = true
	if f.txErr != nil {
		return nil, f.txErr
	}
	page := f.page
	return &page, nil
}

type fakeState struct {
	status    *state.AccountStatus
	expiryDay string
	rules     []match.Rule
}

func (f *fakeState) AccountStatus(ctx context.Context) (*state.AccountStatus, error) {
	if f.status == nil {
		return nil, nil
	}
	cp := *f.status
	return &cp, nil
}

func (f *fakeState) SetAccountStatus(ctx context.Context, status string) error {
	f.status = &state.AccountStatus{Status: status, UpdatedAt: testNow}
	return nil
}

func (f *fakeState) LastExpiryNotification(ctx context.Context) (string, error) {
	return f.expiryDay, nil
}

func (f *fakeState) SetLastExpiryNotification(ctx context.Context, day string) error {
	f.expiryDay = day
	return nil
}

func (f *fakeState) Matchers(ctx context.Context) ([]match.Rule, error) {
	return f.rules, nil
}

func (f *fakeState) SetMatchers(ctx context.Context, rules []match.Rule) error {
	f.rules = rules
	return nil
}

type fakeLedger struct {
	stored   map[string]provider.Transaction
	notified map[string]bool
	runLogs  [][]runlog.Entry

	recordedSets [][]string
	upsertErr    error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		stored:   make(map[string]provider.Transaction),
		notified: make(map[string]bool),
	}
}

func (f *fakeLedger) UpsertTransactions(ctx context.Context, txns []provider.Transaction) ([]ledger.UpsertOutcome, error) {
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	outcomes := make([]ledger.UpsertOutcome, 0, len(txns))
	for _, tx := range txns {
		_, exists := f.stored[tx.ID]
		if !exists {
			f.stored[tx.ID] = tx
		}
		outcomes = append(outcomes, ledger.UpsertOutcome{ID: tx.ID, Inserted: !exists})
	}
	return outcomes, nil
}

func (f *fakeLedger) CheckNotified(ctx context.Context, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	for _, id := range ids {
		out[id] = f.notified[id]
	}
	return out, nil
}

func (f *fakeLedger) RecordNotified(ctx context.Context, ids []string) error {
	f.recordedSets = append(f.recordedSets, ids)
	for _, id := range ids {
		f.notified[id] = true
	}
	return nil
}

func (f *fakeLedger) AppendRunLog(ctx context.Context, runID, revision string, entries []runlog.Entry) error {
	f.runLogs = append(f.runLogs, entries)
	return nil
}

func (f *fakeLedger) Close() error { return nil }

type fakeAlerter struct {
	sent    []string
	sendErr error
}

func (f *fakeAlerter) Send(ctx context.Context, content string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, content)
	return nil
}

func newRunner(p Provider, l *fakeLedger, s *fakeState, a *fakeAlerter) *Runner {
	return &Runner{
		Provider:  p,
		Ledger:    l,
		State:     s,
		Alerts:    a,
		AccountID: "acct-1",
		Revision:  "rev-test",
		Now:       func() time.Time { return testNow },
	}
}

func countContaining(msgs []string, substr string) int {
	n := 0
	for _, m := range msgs {
		if strings.Contains(m, substr) {
			n++
		}
	}
	return n
}

func TestFirstRunReadyStatus(t *testing.T) {
	// No stored status, provider reports "ready", 10 days of consent left,
	// one booked transaction matching nothing.
	p := &fakeProvider{
		status: "ready",
		days:   10,
		page: provider.TransactionPage{
			Booked: []provider.Transaction{{ID: "tx-1", Description: "GROCERIES"}},
		},
	}
	l := newFakeLedger()
	s := &fakeState{rules: []match.Rule{{Name: "rent", Pattern: "RENT"}}}
	a := &fakeAlerter{}

	outcome := newRunner(p, l, s, a).Run(context.Background())

	assert.Equal(t, OutcomeCompleted, outcome)
	require.Len(t, a.sent, 1, "exactly one status alert")
	assert.Contains(t, a.sent[0], "now ready")
	assert.Equal(t, "ready", s.status.Status)
	assert.Contains(t, l.stored, "tx-1")
	assert.Empty(t, l.recordedSets)
	assert.Len(t, l.runLogs, 1, "run log flushed")
}

func TestStatusHysteresisBlocksRecentError(t *testing.T) {
	p := &fakeProvider{status: "ERROR", days: 30}
	l := newFakeLedger()
	s := &fakeState{status: &state.AccountStatus{Status: "ERROR", UpdatedAt: testNow.Add(-2 * time.Hour)}}
	a := &fakeAlerter{}

	outcome := newRunner(p, l, s, a).Run(context.Background())

	assert.Equal(t, OutcomeFailed, outcome)
	assert.False(t, p.txCalled, "transactions must not be fetched inside the retry window")
	require.Len(t, l.runLogs, 1, "failed run still flushes its log")

	foundBlocked := false
	for _, e := range l.runLogs[0] {
		if strings.Contains(e.Message, "blocked") {
			foundBlocked = true
		}
	}
	assert.True(t, foundBlocked, "run log should record the blocked status")
}

func TestStatusHysteresisRetriesAgedError(t *testing.T) {
	p := &fakeProvider{status: "ERROR", days: 30}
	l := newFakeLedger()
	s := &fakeState{status: &state.AccountStatus{Status: "ERROR", UpdatedAt: testNow.Add(-7 * time.Hour)}}
	a := &fakeAlerter{}

	outcome := newRunner(p, l, s, a).Run(context.Background())

	assert.Equal(t, OutcomeCompleted, outcome)
	assert.True(t, p.txCalled, "aged ERROR proceeds as a retry attempt")
}

func TestAgedErrorDoesNotExcuseSuspended(t *testing.T) {
	// The aged-ERROR retry only forgives an observed ERROR. A revoked
	// consent (SUSPENDED) must still abort, stay persisted as SUSPENDED,
	// and never be followed by a recovery alert.
	p := &fakeProvider{status: "SUSPENDED", days: 30}
	l := newFakeLedger()
	s := &fakeState{status: &state.AccountStatus{Status: "ERROR", UpdatedAt: testNow.Add(-8 * time.Hour)}}
	a := &fakeAlerter{}

	outcome := newRunner(p, l, s, a).Run(context.Background())

	assert.Equal(t, OutcomeFailed, outcome)
	assert.False(t, p.txCalled, "suspended account must not be fetched")
	assert.Equal(t, "SUSPENDED", s.status.Status, "stored status must not self-heal to READY")
	require.Len(t, a.sent, 1, "only the SUSPENDED status-change alert")
	assert.Contains(t, a.sent[0], "SUSPENDED")
	assert.Zero(t, countContaining(a.sent, "now ready"))
}

func TestRecoveryAfterAgedError(t *testing.T) {
	// Provider still says ERROR, but the retry succeeds end to end: the
	// stored status self-heals to READY with exactly one recovery alert.
	p := &fakeProvider{status: "ERROR", days: 30}
	l := newFakeLedger()
	s := &fakeState{status: &state.AccountStatus{Status: "ERROR", UpdatedAt: testNow.Add(-8 * time.Hour)}}
	a := &fakeAlerter{}

	outcome := newRunner(p, l, s, a).Run(context.Background())

	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, "READY", s.status.Status)
	assert.Equal(t, 1, countContaining(a.sent, "now ready"), "exactly one recovery alert")
}

func TestRecoveryWhenProviderReportsReady(t *testing.T) {
	p := &fakeProvider{status: "READY", days: 30}
	l := newFakeLedger()
	s := &fakeState{status: &state.AccountStatus{Status: "ERROR", UpdatedAt: testNow.Add(-8 * time.Hour)}}
	a := &fakeAlerter{}

	outcome := newRunner(p, l, s, a).Run(context.Background())

	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, "READY", s.status.Status)
	assert.Equal(t, 1, countContaining(a.sent, "now ready"), "status change and recovery must not double-alert")
}

func TestSuspendedAborts(t *testing.T) {
	p := &fakeProvider{status: "SUSPENDED", days: 30}
	l := newFakeLedger()
	s := &fakeState{status: &state.AccountStatus{Status: "READY", UpdatedAt: testNow.Add(-time.Hour)}}
	a := &fakeAlerter{}

	outcome := newRunner(p, l, s, a).Run(context.Background())

	assert.Equal(t, OutcomeFailed, outcome)
	assert.False(t, p.txCalled)
	require.Len(t, a.sent, 1)
	assert.Contains(t, a.sent[0], "SUSPENDED")
	assert.Equal(t, "SUSPENDED", s.status.Status, "new status persisted before the abort")
}

func TestExpiryWarningOncePerDay(t *testing.T) {
	p := &fakeProvider{status: "READY", days: 5}
	l := newFakeLedger()
	s := &fakeState{status: &state.AccountStatus{Status: "READY", UpdatedAt: testNow.Add(-time.Hour)}}
	a := &fakeAlerter{}
	r := newRunner(p, l, s, a)

	outcome := r.Run(context.Background())
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, 1, countContaining(a.sent, "expires in"), "first run warns")
	assert.Equal(t, testNow.Format("2006-01-02"), s.expiryDay)

	// Same day, second run: no additional warning.
	outcome = r.Run(context.Background())
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, 1, countContaining(a.sent, "expires in"), "second run same day stays quiet")
}

func TestExpiryWarningNotSentAboveThreshold(t *testing.T) {
	p := &fakeProvider{status: "READY", days: 10}
	l := newFakeLedger()
	s := &fakeState{status: &state.AccountStatus{Status: "READY", UpdatedAt: testNow.Add(-time.Hour)}}
	a := &fakeAlerter{}

	newRunner(p, l, s, a).Run(context.Background())
	assert.Zero(t, countContaining(a.sent, "expires in"))
}

func TestExpiredAgreementStillWarns(t *testing.T) {
	p := &fakeProvider{status: "READY", days: -3}
	l := newFakeLedger()
	s := &fakeState{status: &state.AccountStatus{Status: "READY", UpdatedAt: testNow.Add(-time.Hour)}}
	a := &fakeAlerter{}

	newRunner(p, l, s, a).Run(context.Background())
	assert.Equal(t, 1, countContaining(a.sent, "expires in"))
}

func TestFetchWindow(t *testing.T) {
	var gotFrom, gotTo string
	p := &windowProvider{fakeProvider: fakeProvider{status: "READY", days: 30}, from: &gotFrom, to: &gotTo}
	l := newFakeLedger()
	s := &fakeState{status: &state.AccountStatus{Status: "READY", UpdatedAt: testNow.Add(-time.Hour)}}

	newRunner(p, l, s, &fakeAlerter{}).Run(context.Background())

	assert.Equal(t, "2024-02-29", gotFrom)
	assert.Equal(t, "2024-03-02", gotTo)
}

type windowProvider struct {
	fakeProvider
	from, to *string
}

func (w *windowProvider) Transactions(ctx context.Context, token, accountID, dateFrom, dateTo string) (*provider.TransactionPage, error) {
	*w.from = dateFrom
	*w.to = dateTo
	return w.fakeProvider.Transactions(ctx, token, accountID, dateFrom, dateTo)
}

func TestMatchLastWinsAndAlertFormat(t *testing.T) {
	p := &fakeProvider{
		status: "READY",
		days:   30,
		page: provider.TransactionPage{
			Booked: []provider.Transaction{
				{ID: "tx-1", BookingDate: "2024-03-01", ValueDate: "2024-03-01", Description: "ACME RENT FEB",
					Amount: provider.Amount{Value: "-840.00", Currency: "EUR"}},
				{ID: "tx-2", BookingDate: "2024-03-02", ValueDate: "2024-03-02", Description: "ACME RENT MARCH",
					Amount: provider.Amount{Value: "-850.00", Currency: "EUR"}},
			},
		},
	}
	l := newFakeLedger()
	s := &fakeState{
		status: &state.AccountStatus{Status: "READY", UpdatedAt: testNow.Add(-time.Hour)},
		rules:  []match.Rule{{Name: "rent", Pattern: "RENT"}},
	}
	a := &fakeAlerter{}

	outcome := newRunner(p, l, s, a).Run(context.Background())

	assert.Equal(t, OutcomeCompleted, outcome)
	require.Len(t, a.sent, 1, "last match wins: one alert for the later transaction")
	msg := a.sent[0]
	assert.Contains(t, msg, `"rent"`)
	assert.Contains(t, msg, "tx-2")
	assert.Contains(t, msg, "2024-03-02")
	assert.Contains(t, msg, "ACME RENT MARCH")
	assert.Contains(t, msg, "-850.00 EUR")

	require.Len(t, l.recordedSets, 1)
	assert.Equal(t, []string{"tx-2"}, l.recordedSets[0])
}

func TestDedupSuppressesRepeatAlerts(t *testing.T) {
	p := &fakeProvider{
		status: "READY",
		days:   30,
		page: provider.TransactionPage{
			Booked: []provider.Transaction{{ID: "tx-1", Description: "ACME RENT"}},
		},
	}
	l := newFakeLedger()
	l.notified["tx-1"] = true
	s := &fakeState{
		status: &state.AccountStatus{Status: "READY", UpdatedAt: testNow.Add(-time.Hour)},
		rules:  []match.Rule{{Name: "rent", Pattern: "RENT"}},
	}
	a := &fakeAlerter{}

	outcome := newRunner(p, l, s, a).Run(context.Background())

	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Empty(t, a.sent, "already-notified transaction produces zero alerts")
	assert.Empty(t, l.recordedSets, "nothing is re-recorded")
}

func TestMultipleRulesRecordWholeEligibleSet(t *testing.T) {
	p := &fakeProvider{
		status: "READY",
		days:   30,
		page: provider.TransactionPage{
			Booked: []provider.Transaction{
				{ID: "tx-1", Description: "ACME RENT"},
				{ID: "tx-2", Description: "MONTHLY SALARY"},
			},
		},
	}
	l := newFakeLedger()
	s := &fakeState{
		status: &state.AccountStatus{Status: "READY", UpdatedAt: testNow.Add(-time.Hour)},
		rules: []match.Rule{
			{Name: "rent", Pattern: "RENT"},
			{Name: "salary", Pattern: "SALARY"},
			{Name: "acme", Pattern: "ACME"},
		},
	}
	a := &fakeAlerter{}

	newRunner(p, l, s, a).Run(context.Background())

	assert.Len(t, a.sent, 3, "one alert per (rule, transaction) pair")
	require.Len(t, l.recordedSets, 1, "dedup recording happens once for the full set")
	assert.ElementsMatch(t, []string{"tx-1", "tx-2"}, l.recordedSets[0])
}

func TestAlertFailureDoesNotAbortRun(t *testing.T) {
	p := &fakeProvider{
		status: "READY",
		days:   30,
		page: provider.TransactionPage{
			Booked: []provider.Transaction{{ID: "tx-1", Description: "ACME RENT"}},
		},
	}
	l := newFakeLedger()
	s := &fakeState{
		status: &state.AccountStatus{Status: "READY", UpdatedAt: testNow.Add(-time.Hour)},
		rules:  []match.Rule{{Name: "rent", Pattern: "RENT"}},
	}
	a := &fakeAlerter{sendErr: errors.New("webhook down")}

	outcome := newRunner(p, l, s, a).Run(context.Background())

	assert.Equal(t, OutcomeCompleted, outcome)
	require.Len(t, l.recordedSets, 1, "dedup set still recorded after delivery failure")
}

func TestProviderFailureIsCaughtAndLogged(t *testing.T) {
	p := &fakeProvider{
		status: "READY",
		days:   30,
		txErr:  &provider.APIError{HTTPStatus: 500, Message: "boom"},
	}
	l := newFakeLedger()
	s := &fakeState{status: &state.AccountStatus{Status: "READY", UpdatedAt: testNow.Add(-time.Hour)}}

	outcome := newRunner(p, l, s, &fakeAlerter{}).Run(context.Background())

	assert.Equal(t, OutcomeFailed, outcome)
	require.Len(t, l.runLogs, 1)

	found := false
	for _, e := range l.runLogs[0] {
		if e.Level == "error" && strings.Contains(e.Message, "status=500") {
			found = true
		}
	}
	assert.True(t, found, "provider failure recorded in structured form: %v", l.runLogs[0])
}

func TestPersistenceFailureIsCaught(t *testing.T) {
	p := &fakeProvider{status: "READY", days: 30,
		page: provider.TransactionPage{Booked: []provider.Transaction{{ID: "tx-1"}}}}
	l := newFakeLedger()
	l.upsertErr = &ledger.PersistenceError{Op: "upsert_transactions", Err: fmt.Errorf("disk full")}
	s := &fakeState{status: &state.AccountStatus{Status: "READY", UpdatedAt: testNow.Add(-time.Hour)}}

	outcome := newRunner(p, l, s, &fakeAlerter{}).Run(context.Background())

	assert.Equal(t, OutcomeFailed, outcome)
	require.Len(t, l.runLogs, 1)

	found := false
	for _, e := range l.runLogs[0] {
		if strings.Contains(e.Message, "disk full") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestInvalidMatcherPatternLoggedNotFatal(t *testing.T) {
	p := &fakeProvider{
		status: "READY",
		days:   30,
		page: provider.TransactionPage{
			Booked: []provider.Transaction{{ID: "tx-1", Description: "ACME RENT"}},
		},
	}
	l := newFakeLedger()
	s := &fakeState{
		status: &state.AccountStatus{Status: "READY", UpdatedAt: testNow.Add(-time.Hour)},
		rules: []match.Rule{
			{Name: "broken", Pattern: "("},
			{Name: "rent", Pattern: "RENT"},
		},
	}
	a := &fakeAlerter{}

	outcome := newRunner(p, l, s, a).Run(context.Background())

	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Len(t, a.sent, 1, "valid rule still alerts")

	found := false
	for _, e := range l.runLogs[0] {
		if e.Level == "warn" && strings.Contains(e.Message, "broken") {
			found = true
		}
	}
	assert.True(t, found, "invalid pattern reported in run log")
}
