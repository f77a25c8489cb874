package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	hhmodels "kinledger/internal/household/models"
	ledgermodels "kinledger/internal/ledger/models"
	payoutmodels "kinledger/internal/payout/models"
	"kinledger/internal/reconciliation/metrics"
	"kinledger/internal/reconciliation/models"
	id "kinledger/pkg/domain"
	dErrors "kinledger/pkg/domain-errors"
	"kinledger/pkg/platform/sentinel"
	txcontext "kinledger/pkg/platform/tx"
	"kinledger/pkg/requestcontext"
)

var tracer = otel.Tracer("kinledger/reconciliation")

type Store interface {
	FindProcessed(ctx context.Context, provider, eventID string) (*models.ProcessedEvent, error)
	InsertProcessed(ctx context.Context, p *models.ProcessedEvent) error
	InsertOrphan(ctx context.Context, o *models.Orphan) error
	UpdateOrphan(ctx context.Context, o *models.Orphan) error
	PendingOrphans(ctx context.Context, reference, externalID string) ([]*models.Orphan, error)
	ExpiredOrphans(ctx context.Context, now time.Time, limit int) ([]*models.Orphan, error)
	ListOrphans(ctx context.Context, status models.OrphanStatus, limit int) ([]*models.Orphan, error)
}

type Payouts interface {
	Match(ctx context.Context, externalID, reference string) (*payoutmodels.Payout, error)
	Complete(ctx context.Context, payoutID id.PayoutID) (*payoutmodels.Payout, bool, error)
	Fail(ctx context.Context, payoutID id.PayoutID, reason string) (*payoutmodels.Payout, bool, error)
	Reverse(ctx context.Context, payoutID id.PayoutID, reason string) (*payoutmodels.Payout, bool, error)
}

// Funding settles top-ups and withdrawals.
type Funding interface {
	Settle(ctx context.Context, householdID id.HouseholdID, txID id.TransactionID, outcome ledgermodels.Status, amountCents int64) (bool, error)
	SettleWithdrawal(ctx context.Context, txID id.TransactionID, outcome ledgermodels.Status, amountCents int64, currency string) (bool, error)
	ReverseWithdrawal(ctx context.Context, txID id.TransactionID, reason string) (bool, error)
}

type Subscriptions interface {
	ApplySubscriptionUpdate(ctx context.Context, u hhmodels.SubscriptionUpdate) (*hhmodels.Subscription, error)
}

type Alerts interface {
	Alert(ctx context.Context, alertType, key string, payload any) error
}

const defaultRetention = 72 * time.Hour

// Processor applies verified provider events exactly once per
// (provider, event_id).
type Processor struct {
	store         Store
	tx            txcontext.Runner
	payouts       Payouts
	funding       Funding
	subscriptions Subscriptions
	alerts        Alerts
	retention     time.Duration
	logger        *slog.Logger
	metrics       *metrics.Metrics
}

type Option func(*Processor)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) { p.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// WithRetention sets how long orphans wait for their target.
func WithRetention(d time.Duration) Option {
	return func(p *Processor) {
		if d > 0 {
			p.retention = d
		}
	}
}

func New(store Store, tx txcontext.Runner, payouts Payouts, funding Funding, subscriptions Subscriptions, alerts Alerts, opts ...Option) *Processor {
	p := &Processor{
		store:         store,
		tx:            tx,
		payouts:       payouts,
		funding:       funding,
		subscriptions: subscriptions,
		alerts:        alerts,
		retention:     defaultRetention,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

var errDuplicate = errors.New("event already processed")

// Process applies ev and records it as processed in one transaction.
// Domain conflicts are recorded with an alert instead of failing, so the
// provider does not redeliver an event that can never apply.
func (p *Processor) Process(ctx context.Context, ev models.Event) (*models.Result, error) {
	ctx, span := tracer.Start(ctx, "reconciliation.process", trace.WithAttributes(
		attribute.String("webhook.provider", ev.Provider),
		attribute.String("webhook.event_id", ev.EventID),
		attribute.String("webhook.outcome", string(ev.Outcome)),
	))
	defer span.End()

	if err := ev.Validate(); err != nil {
		return nil, err
	}
	res := &models.Result{Provider: ev.Provider, EventID: ev.EventID}
	err := p.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := p.store.FindProcessed(ctx, ev.Provider, ev.EventID); err == nil {
			return errDuplicate
		} else if !errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to check processed events")
		}

		disposition, targetID, err := p.apply(ctx, ev)
		if err != nil {
			if !isDomainRejection(err) {
				return err
			}
			disposition = models.DispositionConflict
			if alertErr := p.alert(ctx, "reconciliation.conflict", ev, err); alertErr != nil {
				return alertErr
			}
		}
		res.Disposition, res.TargetID = disposition, targetID

		err = p.store.InsertProcessed(ctx, &models.ProcessedEvent{
			Provider:    ev.Provider,
			EventID:     ev.EventID,
			Disposition: disposition,
			TargetID:    targetID,
			ProcessedAt: requestcontext.Now(ctx),
		})
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			return errDuplicate
		}
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to record processed event")
		}
		return nil
	})
	if errors.Is(err, errDuplicate) {
		res.Disposition, res.TargetID = models.DispositionDuplicate, ""
		err = nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(attribute.String("webhook.disposition", string(res.Disposition)))
	p.metrics.IncrementEvent(ev.Provider, string(res.Disposition))
	level := slog.LevelInfo
	if res.Disposition == models.DispositionConflict || res.Disposition == models.DispositionOrphaned {
		level = slog.LevelWarn
	}
	p.logger.Log(ctx, level, "webhook event processed",
		"request_id", requestcontext.RequestID(ctx),
		"provider", ev.Provider,
		"event_id", ev.EventID,
		"event_type", ev.Type,
		"outcome", ev.Outcome,
		"disposition", res.Disposition,
		"target_id", res.TargetID,
	)
	return res, nil
}

func (p *Processor) apply(ctx context.Context, ev models.Event) (models.Disposition, string, error) {
	if ev.Outcome == models.OutcomeIgnored {
		return models.DispositionIgnored, "", nil
	}
	switch ev.Target {
	case models.TargetPayout:
		return p.applyPayout(ctx, ev)
	case models.TargetFunding:
		return p.applyFunding(ctx, ev)
	case models.TargetWithdrawal:
		return p.applyWithdrawal(ctx, ev)
	case models.TargetSubscription:
		return p.applySubscription(ctx, ev)
	}
	return models.DispositionIgnored, "", nil
}

func (p *Processor) applyPayout(ctx context.Context, ev models.Event) (models.Disposition, string, error) {
	payout, err := p.payouts.Match(ctx, ev.ExternalReference, ev.Reference)
	if dErrors.Is(err, dErrors.CodeNotFound) {
		return p.buffer(ctx, ev, "no matching payout")
	}
	if err != nil {
		return "", "", err
	}
	targetID := payout.ID.String()

	disposition, err := p.settlePayout(ctx, payout, ev)
	if err != nil {
		return "", targetID, err
	}
	if disposition == models.DispositionOrphaned {
		d, _, err := p.buffer(ctx, ev, "reversal arrived before completion")
		return d, targetID, err
	}
	if ev.Outcome == models.OutcomeCompleted {
		if err := p.replayOrphans(ctx, payout); err != nil {
			return "", targetID, err
		}
	}
	return disposition, targetID, nil
}

// settlePayout applies one outcome to a payout. It returns
// DispositionOrphaned for a reversal of a payout that has not completed yet.
func (p *Processor) settlePayout(ctx context.Context, payout *payoutmodels.Payout, ev models.Event) (models.Disposition, error) {
	if err := matchesPayout(payout, ev); err != nil {
		return "", err
	}
	var changed bool
	var err error
	switch ev.Outcome {
	case models.OutcomeCompleted:
		_, changed, err = p.payouts.Complete(ctx, payout.ID)
	case models.OutcomeFailed:
		_, changed, err = p.payouts.Fail(ctx, payout.ID, reasonOr(ev.Reason, "transfer failed at provider"))
	case models.OutcomeReversed:
		switch {
		case payout.Status == payoutmodels.StatusCompleted:
			_, changed, err = p.payouts.Reverse(ctx, payout.ID, reasonOr(ev.Reason, "reversed by provider"))
		case !payout.Status.IsTerminal():
			return models.DispositionOrphaned, nil
		}
	}
	if err != nil {
		return "", err
	}
	if changed {
		return models.DispositionApplied, nil
	}
	return models.DispositionNoop, nil
}

// matchesPayout rejects an event whose reported amount or currency differs
// from the payout. Zero amounts and empty currencies are not reported.
func matchesPayout(payout *payoutmodels.Payout, ev models.Event) error {
	if ev.AmountCents != 0 && ev.AmountCents != payout.AmountCents {
		return dErrors.Newf(dErrors.CodeConflict, "payout amount mismatch: payout %d, provider %d", payout.AmountCents, ev.AmountCents)
	}
	if ev.Currency != "" && !strings.EqualFold(ev.Currency, payout.Currency) {
		return dErrors.Newf(dErrors.CodeConflict, "payout currency mismatch: payout %s, provider %s", payout.Currency, ev.Currency)
	}
	return nil
}

func (p *Processor) buffer(ctx context.Context, ev models.Event, reason string) (models.Disposition, string, error) {
	o := models.NewOrphan(ev, reason, requestcontext.Now(ctx), p.retention)
	if err := p.store.InsertOrphan(ctx, o); err != nil && !errors.Is(err, sentinel.ErrAlreadyUsed) {
		return "", "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to store orphaned event")
	}
	return models.DispositionOrphaned, "", nil
}

// replayOrphans re-applies events buffered for payout. Completion and
// failure go first so that a buffered reversal finds the payout completed.
func (p *Processor) replayOrphans(ctx context.Context, payout *payoutmodels.Payout) error {
	orphans, err := p.store.PendingOrphans(ctx, payout.Reference(), payout.ExternalTransactionID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to load orphaned events")
	}
	sort.SliceStable(orphans, func(i, j int) bool {
		return orphans[i].Outcome != models.OutcomeReversed && orphans[j].Outcome == models.OutcomeReversed
	})

	resolved := 0
	for _, o := range orphans {
		current, err := p.payouts.Match(ctx, payout.ExternalTransactionID, payout.Reference())
		if err != nil {
			return err
		}
		disposition, err := p.settlePayout(ctx, current, o.Event)
		if err != nil {
			if !isDomainRejection(err) {
				return err
			}
			p.logger.WarnContext(ctx, "orphaned event still cannot apply",
				"orphan_id", o.ID,
				"payout_id", payout.ID,
				"error", err,
			)
			continue
		}
		if disposition == models.DispositionOrphaned {
			continue
		}
		o.Close(models.OrphanResolved, requestcontext.Now(ctx))
		if err := p.store.UpdateOrphan(ctx, o); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to resolve orphaned event")
		}
		resolved++
		p.logger.InfoContext(ctx, "orphaned event applied",
			"orphan_id", o.ID,
			"payout_id", payout.ID,
			"provider", o.Provider,
			"event_id", o.EventID,
			"outcome", o.Outcome,
		)
	}
	p.metrics.AddResolved(resolved)
	return nil
}

// OnPayoutAccepted replays orphans keyed by the external id the rail just
// assigned. It runs after the acceptance commits.
func (p *Processor) OnPayoutAccepted(ctx context.Context, payout *payoutmodels.Payout) {
	err := p.tx.RunInTx(ctx, func(ctx context.Context) error {
		return p.replayOrphans(ctx, payout)
	})
	if err != nil {
		p.logger.ErrorContext(ctx, "failed to replay orphaned events",
			"payout_id", payout.ID,
			"error", err,
		)
	}
}

func (p *Processor) applyFunding(ctx context.Context, ev models.Event) (models.Disposition, string, error) {
	var outcome ledgermodels.Status
	switch ev.Outcome {
	case models.OutcomeCompleted:
		outcome = ledgermodels.StatusCompleted
	case models.OutcomeFailed:
		outcome = ledgermodels.StatusFailed
	default:
		return "", ev.Reference, dErrors.Newf(dErrors.CodeConflict, "top-ups cannot be %s by webhook", ev.Outcome)
	}
	txID, err := id.ParseTransactionID(ev.Reference)
	if err != nil {
		return "", "", err
	}
	householdID, err := id.ParseHouseholdID(ev.HouseholdID)
	if err != nil {
		return "", txID.String(), err
	}
	changed, err := p.funding.Settle(ctx, householdID, txID, outcome, ev.AmountCents)
	if dErrors.Is(err, dErrors.CodeNotFound) {
		return p.buffer(ctx, ev, "no matching top-up")
	}
	if err != nil {
		return "", txID.String(), err
	}
	if changed {
		return models.DispositionApplied, txID.String(), nil
	}
	return models.DispositionNoop, txID.String(), nil
}

func (p *Processor) applyWithdrawal(ctx context.Context, ev models.Event) (models.Disposition, string, error) {
	txID, err := id.ParseTransactionID(ev.Reference)
	if err != nil {
		return "", "", err
	}
	var changed bool
	switch ev.Outcome {
	case models.OutcomeCompleted:
		changed, err = p.funding.SettleWithdrawal(ctx, txID, ledgermodels.StatusCompleted, ev.AmountCents, ev.Currency)
	case models.OutcomeFailed:
		changed, err = p.funding.SettleWithdrawal(ctx, txID, ledgermodels.StatusFailed, ev.AmountCents, ev.Currency)
	case models.OutcomeReversed:
		changed, err = p.funding.ReverseWithdrawal(ctx, txID, reasonOr(ev.Reason, "reversed by provider"))
	}
	if dErrors.Is(err, dErrors.CodeNotFound) {
		return p.buffer(ctx, ev, "no matching withdrawal")
	}
	if err != nil {
		return "", txID.String(), err
	}
	if changed {
		return models.DispositionApplied, txID.String(), nil
	}
	return models.DispositionNoop, txID.String(), nil
}

func (p *Processor) applySubscription(ctx context.Context, ev models.Event) (models.Disposition, string, error) {
	change := ev.Subscription
	u := hhmodels.SubscriptionUpdate{
		ExternalSubscriptionID: change.ExternalSubscriptionID,
		ExternalCustomerID:     change.ExternalCustomerID,
		Status:                 hhmodels.SubscriptionStatus(change.Status),
		PeriodStart:            change.PeriodStart,
		PeriodEnd:              change.PeriodEnd,
	}
	if change.Tier != "" {
		if tier, err := hhmodels.ParseTier(change.Tier); err == nil {
			u.Tier = tier
		}
	}
	if ev.HouseholdID != "" {
		householdID, err := id.ParseHouseholdID(ev.HouseholdID)
		if err != nil {
			return "", "", err
		}
		u.HouseholdID = &householdID
	}
	sub, err := p.subscriptions.ApplySubscriptionUpdate(ctx, u)
	if dErrors.Is(err, dErrors.CodeNotFound) {
		return p.buffer(ctx, ev, "no matching subscription")
	}
	if err != nil {
		return "", "", err
	}
	return models.DispositionApplied, sub.ID.String(), nil
}

func (p *Processor) alert(ctx context.Context, alertType string, ev models.Event, cause error) error {
	if p.alerts == nil {
		return nil
	}
	return p.alerts.Alert(ctx, alertType, ev.Provider+":"+ev.EventID, map[string]any{
		"event": ev,
		"code":  dErrors.CodeOf(cause),
		"error": cause.Error(),
	})
}

// isDomainRejection reports errors that mean the event can never apply, as
// opposed to infrastructure failures worth a redelivery.
func isDomainRejection(err error) bool {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeConflict, dErrors.CodeValidation, dErrors.CodeBadRequest,
		dErrors.CodeNotFound, dErrors.CodeInvariantViolation, dErrors.CodeForbidden:
		return true
	}
	return false
}

func reasonOr(reason, fallback string) string {
	if reason == "" {
		return fallback
	}
	return reason
}
