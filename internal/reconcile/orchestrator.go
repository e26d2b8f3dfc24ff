// Package reconcile drives entitlement reconciliation: it assembles a
// verification bundle from the server, the device ledger, and local flags,
// determines the resulting status, and applies the conclusions atomically.
package reconcile

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/pawkeeperapp/pawkeeper/internal/billing"
	"github.com/pawkeeperapp/pawkeeper/internal/entitlement"
	"github.com/pawkeeperapp/pawkeeper/internal/statestore"
	"github.com/pawkeeperapp/pawkeeper/internal/trial"
	"github.com/pawkeeperapp/pawkeeper/internal/verify"
)

// ReconcileInterval is how often the background loop re-verifies while the
// app is running.
const ReconcileInterval = 10 * time.Minute

// runTimeout bounds a single ticker-driven reconciliation.
const runTimeout = time.Minute

// VerifyClient is the slice of the verification API the orchestrator needs.
type VerifyClient interface {
	Verify(ctx context.Context, deviceFingerprint string) (*entitlement.VerificationBundle, error)
	SyncState(ctx context.Context, req verify.SyncStateRequest) error
}

// TrialBootstrapper reconciles the trial record with the server.
type TrialBootstrapper interface {
	Bootstrap(ctx context.Context, deviceFingerprint string) (*trial.Outcome, error)
}

// ReminderSyncer aligns the pending expiry reminder with a fresh status.
type ReminderSyncer interface {
	Sync(ctx context.Context, identity string, status entitlement.Status, trialStart *time.Time, serverTime time.Time) error
}

// Config holds the orchestrator's collaborators. One orchestrator is built
// per authenticated session; nothing here is global.
type Config struct {
	Store       statestore.Store
	Client      VerifyClient
	Ledger      billing.Ledger
	Trials      TrialBootstrapper
	Reminders   ReminderSyncer
	Identity    string
	Fingerprint string
	Now         func() time.Time
	Logger      zerolog.Logger
}

// Orchestrator owns the reconciliation lifecycle for one identity.
type Orchestrator struct {
	store       statestore.Store
	client      VerifyClient
	ledger      billing.Ledger
	trials      TrialBootstrapper
	reminders   ReminderSyncer
	identity    string
	fingerprint string
	now         func() time.Time
	logger      zerolog.Logger

	mu      sync.Mutex
	running bool
	rerun   bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates an orchestrator for an authenticated session.
func New(cfg Config) *Orchestrator {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Orchestrator{
		store:       cfg.Store,
		client:      cfg.Client,
		ledger:      cfg.Ledger,
		trials:      cfg.Trials,
		reminders:   cfg.Reminders,
		identity:    cfg.Identity,
		fingerprint: cfg.Fingerprint,
		now:         now,
		logger:      cfg.Logger.With().Str("component", "reconciler").Logger(),
		stopCh:      make(chan struct{}),
	}
}

// Bootstrap runs the cold-start reconciliation, including the trial
// adopt-or-start flow.
func (o *Orchestrator) Bootstrap(ctx context.Context) (entitlement.Status, error) {
	return o.reconcile(ctx, runOptions{bootstrapTrial: true})
}

// Foreground re-verifies after the app returns to the foreground.
func (o *Orchestrator) Foreground(ctx context.Context) (entitlement.Status, error) {
	return o.reconcile(ctx, runOptions{})
}

// Reconcile is the plain trigger used by the ticker loop and follow-ups.
func (o *Orchestrator) Reconcile(ctx context.Context) (entitlement.Status, error) {
	return o.reconcile(ctx, runOptions{})
}

// PurchaseCompleted applies an optimistic subscribed state the moment the
// platform confirms the purchase, reports the purchase to the server, and
// follows up with a full verification so the optimistic grant is either
// confirmed or corrected. The report must precede the follow-up: it is what
// gives the server a record to corroborate.
func (o *Orchestrator) PurchaseCompleted(ctx context.Context, res *billing.PurchaseResult) (entitlement.Status, error) {
	if res.Pending {
		// Awaiting external approval; a full run resolves it to loading.
		return o.reconcile(ctx, runOptions{})
	}

	if err := o.applyTentative(ctx, res); err != nil {
		return entitlement.StatusLoading, err
	}
	o.reportPurchase(ctx, res)
	return o.reconcile(ctx, runOptions{})
}

// RestoreCompleted records the restore outcome before anything else, so the
// flags survive a crash between restore and re-determination, then runs a
// full reconciliation.
func (o *Orchestrator) RestoreCompleted(ctx context.Context, res *billing.RestoreResult) (entitlement.Status, error) {
	attempted := true
	apply := &statestore.Apply{
		RestoreAttempted: &attempted,
		RestoreSucceeded: &res.Succeeded,
	}
	if err := o.store.ApplyChanges(ctx, o.identity, apply); err != nil {
		return entitlement.StatusLoading, err
	}
	o.logger.Info().Bool("succeeded", res.Succeeded).Msg("restore outcome recorded")
	return o.reconcile(ctx, runOptions{})
}

// Start launches the periodic reconciliation loop.
func (o *Orchestrator) Start() {
	o.wg.Add(1)
	go o.loop()
}

// Stop tears down the loop. Called on logout or app suspension.
func (o *Orchestrator) Stop() {
	close(o.stopCh)
	o.wg.Wait()
}

// Current returns the last persisted state without touching the network.
func (o *Orchestrator) Current(ctx context.Context) (*entitlement.SubscriptionState, error) {
	snap, err := o.store.Snapshot(ctx, o.identity)
	if err != nil {
		return nil, err
	}
	if snap.State == nil {
		return &entitlement.SubscriptionState{Status: entitlement.StatusLoading}, nil
	}
	return snap.State, nil
}

func (o *Orchestrator) loop() {
	defer o.wg.Done()

	ticker := time.NewTicker(ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-o.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
			if _, err := o.reconcile(ctx, runOptions{}); err != nil {
				o.logger.Warn().Err(err).Msg("periodic reconciliation failed")
			}
			cancel()
		}
	}
}

type runOptions struct {
	bootstrapTrial bool
}

// reconcile is the coalescing entry point. A trigger arriving while a run is
// in flight marks a rerun instead of interleaving; the in-flight run picks it
// up after applying its own conclusions.
func (o *Orchestrator) reconcile(ctx context.Context, opts runOptions) (entitlement.Status, error) {
	o.mu.Lock()
	if o.running {
		o.rerun = true
		o.mu.Unlock()
		o.logger.Debug().Msg("reconciliation already running, coalesced")
		state, err := o.Current(ctx)
		if err != nil {
			return entitlement.StatusLoading, err
		}
		return state.Status, nil
	}
	o.running = true
	o.mu.Unlock()

	for {
		status, err := o.runOnce(ctx, opts)

		o.mu.Lock()
		if o.rerun {
			o.rerun = false
			o.mu.Unlock()
			// Coalesced triggers never carry bootstrap semantics.
			opts = runOptions{}
			continue
		}
		o.running = false
		o.mu.Unlock()
		return status, err
	}
}

// runOnce performs one reconciliation: snapshot, assemble, determine, apply.
// The snapshot is read once at the start and conclusions are written once at
// the end, so concurrent flag writes land in the next run rather than
// tearing this one.
func (o *Orchestrator) runOnce(ctx context.Context, opts runOptions) (entitlement.Status, error) {
	snap, err := o.store.Snapshot(ctx, o.identity)
	if err != nil {
		return entitlement.StatusLoading, err
	}

	bundle, outcome := o.assemble(ctx, snap, opts)
	status, rule := entitlement.DetermineRule(bundle)

	o.logger.Info().
		Str("status", string(status)).
		Str("rule", rule).
		Str("source", string(bundle.Source)).
		Msg("entitlement determined")

	state := o.buildState(status, bundle, snap, outcome)

	apply := &statestore.Apply{State: state}
	if outcome != nil && outcome.TrialStart != nil {
		apply.TrialStartDate = outcome.TrialStart
	}
	if state.DaysRemaining != nil {
		apply.CachedDaysRemaining = state.DaysRemaining
	}
	if status == entitlement.StatusSubscribed {
		// The restore flow, if any, has concluded.
		apply.ClearRestoreFlags = true
	}

	if err := o.store.ApplyChanges(ctx, o.identity, apply); err != nil {
		return status, err
	}

	if o.reminders != nil {
		if err := o.reminders.Sync(ctx, o.identity, status, state.TrialStartDate, bundle.ServerTime); err != nil {
			o.logger.Warn().Err(err).Msg("reminder sync failed")
		}
	}

	if bundle.Source == entitlement.SourceServer {
		o.reportState(ctx, state, bundle)
	}

	return status, nil
}

// assemble builds the verification bundle for one run. Any client-side
// failure collapses to a failed bundle, which determines to loading.
func (o *Orchestrator) assemble(ctx context.Context, snap *statestore.Snapshot, opts runOptions) (entitlement.VerificationBundle, *trial.Outcome) {
	serverBundle, err := o.client.Verify(ctx, o.fingerprint)
	if err != nil {
		o.logger.Warn().Err(err).Msg("verification call failed")
		return entitlement.FailedBundle(o.now()), nil
	}
	bundle := *serverBundle

	var outcome *trial.Outcome
	if o.trials != nil && o.needsTrialBootstrap(bundle, snap, opts) {
		outcome, err = o.trials.Bootstrap(ctx, o.fingerprint)
		if err != nil {
			o.logger.Warn().Err(err).Msg("trial bootstrap failed")
			return entitlement.FailedBundle(bundle.ServerTime), nil
		}
		bundle.TrialActive = outcome.TrialActive
		bundle.HasUsedTrial = outcome.HasUsedTrial
		bundle.DeviceTrialBlock = bundle.DeviceTrialBlock || outcome.DeviceBlocked
		if outcome.DaysRemaining > 0 {
			days := outcome.DaysRemaining
			bundle.DaysRemaining = &days
		}
		if !outcome.ServerTime.IsZero() {
			bundle.ServerTime = outcome.ServerTime
		}
	}

	pending, err := o.ledger.PendingTransaction(ctx)
	if err != nil {
		o.logger.Warn().Err(err).Msg("ledger pending check failed")
		return entitlement.FailedBundle(bundle.ServerTime), nil
	}
	bundle.IsPending = bundle.IsPending || pending

	bundle.RestoreAttempted = snap.RestoreAttempted
	bundle.RestoreSucceeded = snap.RestoreSucceeded

	return bundle, outcome
}

// needsTrialBootstrap decides whether this run must reconcile the trial
// record: always at cold start, and whenever the server reports a clean
// slate that has not been claimed yet.
func (o *Orchestrator) needsTrialBootstrap(bundle entitlement.VerificationBundle, snap *statestore.Snapshot, opts runOptions) bool {
	if !bundle.Success || !bundle.ServerSyncSucceeded {
		return false
	}
	if opts.bootstrapTrial {
		return true
	}
	cleanSlate := !bundle.HasUsedTrial && !bundle.HasPurchaseHistory &&
		!bundle.TrialActive && !bundle.DeviceTrialBlock && !bundle.EntitlementActive
	return cleanSlate && snap.TrialStartDate == nil
}

func (o *Orchestrator) buildState(status entitlement.Status, bundle entitlement.VerificationBundle, snap *statestore.Snapshot, outcome *trial.Outcome) *entitlement.SubscriptionState {
	state := &entitlement.SubscriptionState{
		Status:             status,
		HasPurchaseHistory: bundle.HasPurchaseHistory,
	}

	switch {
	case outcome != nil && outcome.TrialStart != nil:
		state.TrialStartDate = outcome.TrialStart
	case snap.TrialStartDate != nil:
		state.TrialStartDate = snap.TrialStartDate
	}

	if status == entitlement.StatusTrial {
		switch {
		case outcome != nil && outcome.DaysRemaining > 0:
			days := outcome.DaysRemaining
			state.DaysRemaining = &days
		case bundle.DaysRemaining != nil:
			state.DaysRemaining = bundle.DaysRemaining
		case snap.CachedDaysRemaining != nil:
			state.DaysRemaining = snap.CachedDaysRemaining
		}
	}

	if status == entitlement.StatusSubscribed {
		state.SubscriptionExpiry = bundle.ExpiresDate
		if snap.State != nil && snap.State.SubscriptionStart != nil {
			state.SubscriptionStart = snap.State.SubscriptionStart
		} else {
			now := bundle.ServerTime
			state.SubscriptionStart = &now
		}
	}

	return state
}

// applyTentative writes the optimistic post-purchase state. It is only ever
// called right before a full reconciliation, so a wrong optimistic grant is
// corrected within the same trigger.
func (o *Orchestrator) applyTentative(ctx context.Context, res *billing.PurchaseResult) error {
	state := &entitlement.SubscriptionState{
		Status:             entitlement.StatusSubscribed,
		HasPurchaseHistory: true,
	}
	if res.Entitlement != nil {
		state.SubscriptionExpiry = res.Entitlement.ExpiresDate
	}

	if err := o.store.ApplyChanges(ctx, o.identity, &statestore.Apply{State: state}); err != nil {
		return err
	}
	o.logger.Info().Str("product", res.ProductID).Msg("optimistic subscription applied")
	return nil
}

// reportPurchase pushes a fresh purchase to the server ahead of the
// follow-up verification. A failed report is logged and left for the next
// run's state sync; until the server learns of the token it cannot
// corroborate the grant.
func (o *Orchestrator) reportPurchase(ctx context.Context, res *billing.PurchaseResult) {
	req := verify.SyncStateRequest{
		DeviceFingerprint: o.fingerprint,
		Status:            string(entitlement.StatusSubscribed),
		ProductID:         res.ProductID,
	}
	if res.Entitlement != nil {
		req.PurchaseToken = res.Entitlement.PurchaseToken
		req.SubscriptionEnd = res.Entitlement.ExpiresDate
	}
	if err := o.client.SyncState(ctx, req); err != nil {
		o.logger.Warn().Err(err).Msg("purchase report failed")
	}
}

// reportState pushes the determined state to the server. Best effort; the
// server reconciles on the next verify either way. The ledger's purchase
// token rides along so a purchase whose initial report was lost still
// reaches the server.
func (o *Orchestrator) reportState(ctx context.Context, state *entitlement.SubscriptionState, bundle entitlement.VerificationBundle) {
	req := verify.SyncStateRequest{
		DeviceFingerprint: o.fingerprint,
		Status:            string(state.Status),
		TrialStartDate:    state.TrialStartDate,
		SubscriptionStart: state.SubscriptionStart,
		SubscriptionEnd:   state.SubscriptionExpiry,
		ProductID:         bundle.ProductID,
	}
	if ent, err := o.ledger.CurrentEntitlement(ctx); err == nil && ent != nil {
		req.PurchaseToken = ent.PurchaseToken
		if req.ProductID == "" {
			req.ProductID = ent.ProductID
		}
		if req.SubscriptionEnd == nil {
			req.SubscriptionEnd = ent.ExpiresDate
		}
	}
	if err := o.client.SyncState(ctx, req); err != nil {
		o.logger.Warn().Err(err).Msg("state sync failed")
	}
}
