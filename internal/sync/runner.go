// Package sync implements the transaction sync pipeline: one run fetches a
// provider token, checks connection health against the stored status history,
// watches the consent agreement for expiry, persists the last days of booked
// transactions, and alerts on configured transaction patterns exactly once
// per transaction.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/example/bank-sync/internal/ledger"
	"github.com/example/bank-sync/internal/match"
	"github.com/example/bank-sync/internal/metrics"
	"github.com/example/bank-sync/internal/provider"
	"github.com/example/bank-sync/internal/runlog"
	"github.com/example/bank-sync/internal/state"
)

const (
	statusReady     = "READY"
	statusSuspended = "SUSPENDED"
	statusError     = "ERROR"

	// An ERROR status younger than this blocks the run entirely; once it is
	// older the run proceeds as a retry attempt.
	errorRetryWindow = 6 * time.Hour

	// Expiry warnings start when this few days of consent remain.
	expiryWarnDays = 7.0

	// Fetch window reaches this many days back from today, inclusive.
	lookbackDays = 2

	dayFormat = "2006-01-02"
)

// Outcome is the terminal state of a run. Both outcomes flush the run log.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
)

// Provider is the slice of the banking API the runner consumes.
type Provider interface {
	Authenticate(ctx context.Context) (string, error)
	AccountStatus(ctx context.Context, token, accountID string) (string, error)
	AgreementDaysRemaining(ctx context.Context, token, agreementID string) (float64, error)
	Transactions(ctx context.Context, token, accountID, dateFrom, dateTo string) (*provider.TransactionPage, error)
}

// Alerter delivers one user-facing message.
type Alerter interface {
	Send(ctx context.Context, content string) error
}

// Runner sequences one sync run. Runs are strictly sequential internally;
// overlapping runs are tolerated because every store write is idempotent.
type Runner struct {
	Provider Provider
	Ledger   ledger.Store
	State    state.Store
	Alerts   Alerter
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	AccountID   string
	AgreementID string
	Revision    string

	// Now allows tests to pin the clock. Defaults to time.Now.
	Now func() time.Time
}

// Run executes the pipeline once. It never returns an error: any failure is
// recorded in the run log, which is flushed for both outcomes, and surfaces
// only through the returned Outcome.
func (r *Runner) Run(ctx context.Context) Outcome {
	runID := uuid.NewString()
	log := r.logger().With("run_id", runID, "revision", r.Revision)
	buf := runlog.NewBuffer()

	outcome := OutcomeCompleted
	if err := r.run(ctx, buf); err != nil {
		outcome = OutcomeFailed
		r.recordFailure(log, buf, err)
	}

	// The original failure is already in the buffer; a flush failure may
	// lose the durable copy but never the process log line.
	if err := r.Ledger.AppendRunLog(ctx, runID, r.Revision, buf.Entries()); err != nil {
		log.Error("failed to flush run log", "error", err)
	}

	if r.Metrics != nil {
		r.Metrics.RunsTotal.WithLabelValues(string(outcome)).Inc()
	}
	log.Info("sync run finished", "outcome", string(outcome))
	return outcome
}

func (r *Runner) run(ctx context.Context, buf *runlog.Buffer) error {
	now := r.now()
	today := now.Format(dayFormat)

	token, err := r.Provider.Authenticate(ctx)
	if err != nil {
		return err
	}
	buf.Infof("authenticated with provider")

	stored, err := r.State.AccountStatus(ctx)
	if err != nil {
		return &ledger.PersistenceError{Op: "state.account_status", Err: err}
	}

	observed, err := r.Provider.AccountStatus(ctx, token, r.AccountID)
	if err != nil {
		return err
	}
	buf.Infof("observed account status %s", observed)

	prevWasError := stored != nil && strings.EqualFold(stored.Status, statusError)

	if stored == nil || !strings.EqualFold(stored.Status, observed) {
		r.alert(ctx, buf, "status", statusChangeMessage(observed))
		if err := r.State.SetAccountStatus(ctx, observed); err != nil {
			return &ledger.PersistenceError{Op: "state.set_account_status", Err: err}
		}
		buf.Infof("account status changed to %s", observed)
	}

	// Retry gate: a recent ERROR blocks the whole run; an aged one turns
	// the run into an optimistic retry attempt, excusing an observed ERROR.
	// SUSPENDED means consent was revoked and is never excused.
	excused := false
	if prevWasError {
		age := stored.Age(now)
		if age < errorRetryWindow {
			return &StatusBlockedError{Status: stored.Status, Age: age}
		}
		excused = true
		buf.Warnf("previous ERROR status is %s old, retrying optimistically", age.Round(time.Minute))
	}
	if strings.EqualFold(observed, statusSuspended) || (!excused && strings.EqualFold(observed, statusError)) {
		return &StatusBlockedError{Status: observed}
	}

	days, err := r.Provider.AgreementDaysRemaining(ctx, token, r.AgreementID)
	if err != nil {
		return err
	}
	buf.Infof("agreement has %.1f days remaining", days)

	if days <= expiryWarnDays {
		lastDay, err := r.State.LastExpiryNotification(ctx)
		if err != nil {
			return &ledger.PersistenceError{Op: "state.last_expiry_notification", Err: err}
		}
		if lastDay != today {
			r.alert(ctx, buf, "expiry",
				fmt.Sprintf("Bank consent expires in %.1f days. Renew the agreement to keep syncing.", days))
			if err := r.State.SetLastExpiryNotification(ctx, today); err != nil {
				return &ledger.PersistenceError{Op: "state.set_last_expiry_notification", Err: err}
			}
			buf.Infof("sent expiry warning")
		} else {
			buf.Infof("expiry warning already sent today")
		}
	}

	dateFrom := now.AddDate(0, 0, -lookbackDays).Format(dayFormat)
	page, err := r.Provider.Transactions(ctx, token, r.AccountID, dateFrom, today)
	if err != nil {
		return err
	}
	buf.Infof("fetched %d booked and %d pending transactions for %s to %s",
		len(page.Booked), len(page.Pending), dateFrom, today)

	outcomes, err := r.Ledger.UpsertTransactions(ctx, page.Booked)
	if err != nil {
		return err
	}
	inserted := 0
	for _, o := range outcomes {
		if o.Inserted {
			inserted++
		}
	}
	buf.Infof("persisted booked transactions: %d new, %d already stored", inserted, len(outcomes)-inserted)
	if r.Metrics != nil {
		r.Metrics.TransactionsInserted.Add(float64(inserted))
	}

	// A prior ERROR that survived the gate self-heals here: reaching this
	// point means the provider answered, so the stored status becomes READY
	// without waiting for the provider to report it.
	if prevWasError && !strings.EqualFold(observed, statusReady) {
		if err := r.State.SetAccountStatus(ctx, statusReady); err != nil {
			return &ledger.PersistenceError{Op: "state.set_account_status", Err: err}
		}
		r.alert(ctx, buf, "status", statusChangeMessage(statusReady))
		buf.Infof("stored status reset to READY after successful retry")
	}

	rules, err := r.State.Matchers(ctx)
	if err != nil {
		return &ledger.PersistenceError{Op: "state.matchers", Err: err}
	}

	matches, invalid := match.Evaluate(rules, page.Booked)
	for _, bad := range invalid {
		buf.Warnf("skipping matcher %q: invalid pattern %q", bad.Name, bad.Pattern)
	}
	if len(matches) == 0 {
		buf.Infof("no matcher hits")
		return nil
	}

	ids := uniqueIDs(matches)
	notified, err := r.Ledger.CheckNotified(ctx, ids)
	if err != nil {
		return err
	}

	var eligible []match.Match
	for _, m := range matches {
		if !notified[m.Transaction.ID] {
			eligible = append(eligible, m)
		}
	}
	if len(eligible) == 0 {
		buf.Infof("all matched transactions were already notified")
		return nil
	}

	for _, m := range eligible {
		r.alert(ctx, buf, "match", matchMessage(m))
	}

	// Record the whole eligible set in one pass so a mid-loop failure can
	// never leave some ids recorded and others not.
	recordIDs := uniqueIDs(eligible)
	if err := r.Ledger.RecordNotified(ctx, recordIDs); err != nil {
		return err
	}
	buf.Infof("recorded %d notified transactions", len(recordIDs))

	return nil
}

// alert sends one message and waits for delivery. Failures are logged into
// the run log but never abort the run.
func (r *Runner) alert(ctx context.Context, buf *runlog.Buffer, kind, content string) {
	if err := r.Alerts.Send(ctx, content); err != nil {
		buf.Errorf("alert delivery failed (%s): %v", kind, err)
		return
	}
	if r.Metrics != nil {
		r.Metrics.AlertsSentTotal.WithLabelValues(kind).Inc()
	}
}

// recordFailure writes the failure into the run log in its structured form
// before the buffer is flushed, matching the error taxonomy exhaustively.
func (r *Runner) recordFailure(log *slog.Logger, buf *runlog.Buffer, err error) {
	var authErr *provider.AuthError
	var apiErr *provider.APIError
	var blocked *StatusBlockedError
	var persist *ledger.PersistenceError

	switch {
	case errors.As(err, &authErr):
		buf.Errorf("authentication failed: status=%d message=%s", authErr.HTTPStatus, authErr.Message)
	case errors.As(err, &apiErr):
		buf.Errorf("provider call failed: status=%d message=%s", apiErr.HTTPStatus, apiErr.Message)
	case errors.As(err, &blocked):
		buf.Errorf("run blocked by account status %s", blocked.Status)
	case errors.As(err, &persist):
		buf.Errorf("persistence failed in %s: %v", persist.Op, persist.Err)
	default:
		buf.Errorf("unexpected failure: %v", err)
	}
	log.Error("sync run failed", "error", err)
}

func statusChangeMessage(status string) string {
	switch strings.ToUpper(status) {
	case statusSuspended:
		return "Bank account connection is SUSPENDED. Reauthorisation is required before syncing can resume."
	case statusError:
		return "Bank account connection reported ERROR. This is usually transient and will be retried."
	case statusReady:
		return "Bank account connection is now ready."
	default:
		return fmt.Sprintf("Bank account connection status changed to %s.", status)
	}
}

func matchMessage(m match.Match) string {
	tx := m.Transaction
	return fmt.Sprintf("Matched %q: transaction %s booked %s (value date %s): %s, %s %s",
		m.Name, tx.ID, tx.BookingDate, tx.ValueDate, tx.Description, tx.Amount.Value, tx.Amount.Currency)
}

func uniqueIDs(matches []match.Match) []string {
	seen := make(map[string]struct{}, len(matches))
	var ids []string
	for _, m := range matches {
		if _, ok := seen[m.Transaction.ID]; ok {
			continue
		}
		seen[m.Transaction.ID] = struct{}{}
		ids = append(ids, m.Transaction.ID)
	}
	return ids
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func (r *Runner) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}
