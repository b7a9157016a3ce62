package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"funnel-server/internal/observability"
	"funnel-server/internal/store"
)

// AbandonedLeadsStore is the slice of the store the sweep needs.
type AbandonedLeadsStore interface {
	ListStaleInitiatedLeads(ctx context.Context, cutoff time.Time) ([]store.Lead, error)
	UpdateLead(ctx context.Context, leadID uuid.UUID, params store.UpdateLeadParams) (store.Lead, error)
}

// AbandonedEventPublisher emits lead.abandoned events for the marketing
// worker.
type AbandonedEventPublisher interface {
	PublishLeadsAbandoned(ctx context.Context, leads []store.Lead)
}

// AbandonedLeadsJob flips initiated checkout leads that went quiet to
// abandoned and hands them to the marketing pipeline.
type AbandonedLeadsJob struct {
	store     AbandonedLeadsStore
	publisher AbandonedEventPublisher
	logger    *observability.Logger
	interval  time.Duration
	staleAge  time.Duration
	now       func() time.Time
}

// NewAbandonedLeadsJob creates the sweep. Zero interval or stale age fall
// back to 24h.
func NewAbandonedLeadsJob(leadStore AbandonedLeadsStore, publisher AbandonedEventPublisher, interval, staleAge time.Duration, logger *observability.Logger) *AbandonedLeadsJob {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	if staleAge <= 0 {
		staleAge = 24 * time.Hour
	}
	return &AbandonedLeadsJob{
		store:     leadStore,
		publisher: publisher,
		logger:    logger,
		interval:  interval,
		staleAge:  staleAge,
		now:       time.Now,
	}
}

// Name returns the job name for logging
func (j *AbandonedLeadsJob) Name() string {
	return "abandoned_leads"
}

// Schedule returns the interval between runs
func (j *AbandonedLeadsJob) Schedule() time.Duration {
	return j.interval
}

// Run marks stale initiated leads abandoned. A failed lead is logged and
// skipped; the sweep keeps going.
func (j *AbandonedLeadsJob) Run(ctx context.Context) error {
	cutoff := j.now().Add(-j.staleAge)
	leads, err := j.store.ListStaleInitiatedLeads(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list stale leads: %w", err)
	}
	if len(leads) == 0 {
		j.logger.Info(ctx, "no stale initiated leads")
		return nil
	}

	abandonedStatus := store.LeadStatusAbandoned
	abandoned := make([]store.Lead, 0, len(leads))
	failed := 0
	for _, lead := range leads {
		updated, err := j.store.UpdateLead(ctx, lead.ID, store.UpdateLeadParams{Status: &abandonedStatus})
		if err != nil {
			failed++
			j.logger.Error(ctx, "failed to mark lead abandoned", err,
				observability.Field{Key: "lead_id", Value: lead.ID.String()},
			)
			continue
		}
		abandoned = append(abandoned, updated)
	}

	j.publisher.PublishLeadsAbandoned(ctx, abandoned)

	j.logger.Info(ctx, "abandoned leads sweep finished",
		observability.Field{Key: "marked", Value: len(abandoned)},
		observability.Field{Key: "failed", Value: failed},
		observability.Field{Key: "cutoff", Value: cutoff.UTC().Format(time.RFC3339)},
	)
	return nil
}
