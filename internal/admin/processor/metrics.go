package processor

import (
	"context"
	"fmt"
	"time"

	"funnel-server/internal/store"
)

// FunnelMetrics is the console dashboard snapshot.
type FunnelMetrics struct {
	WindowDays int `json:"window_days"`

	LeadsByStatus         map[string]int `json:"leads_by_status"`
	SubscriptionsByStatus map[string]int `json:"subscriptions_by_status"`

	TotalLeads     int     `json:"total_leads"`
	ConvertedLeads int     `json:"converted_leads"`
	ConversionRate float64 `json:"conversion_rate"`

	RevenueCents int64 `json:"revenue_cents"`

	PendingVerifications int `json:"pending_verifications"`
	UnresolvedErrors     int `json:"unresolved_errors"`

	TopSources []store.UTMSourceCount `json:"top_sources"`
}

// Metrics aggregates the dashboard counters over the given window. Revenue
// and source breakdowns are windowed; status counts are global.
func (p *AdminProcessor) Metrics(ctx context.Context, windowDays int) (FunnelMetrics, error) {
	if windowDays <= 0 {
		windowDays = 30
	}
	since := p.now().Add(-time.Duration(windowDays) * 24 * time.Hour)

	leadCounts, err := p.store.CountLeadsByStatus(ctx)
	if err != nil {
		return FunnelMetrics{}, fmt.Errorf("failed to count leads: %w", err)
	}
	subCounts, err := p.store.CountSubscriptionsByStatus(ctx)
	if err != nil {
		return FunnelMetrics{}, fmt.Errorf("failed to count subscriptions: %w", err)
	}
	revenue, err := p.store.SumConfirmedRevenue(ctx, since)
	if err != nil {
		return FunnelMetrics{}, fmt.Errorf("failed to sum revenue: %w", err)
	}
	pending, err := p.store.CountPendingVerifications(ctx)
	if err != nil {
		return FunnelMetrics{}, fmt.Errorf("failed to count pending verifications: %w", err)
	}
	unresolved, err := p.store.CountUnresolvedErrors(ctx)
	if err != nil {
		return FunnelMetrics{}, fmt.Errorf("failed to count unresolved errors: %w", err)
	}
	topSources, err := p.store.TopUTMSources(ctx, since, 5)
	if err != nil {
		return FunnelMetrics{}, fmt.Errorf("failed to rank utm sources: %w", err)
	}

	metrics := FunnelMetrics{
		WindowDays:            windowDays,
		LeadsByStatus:         leadCounts,
		SubscriptionsByStatus: subCounts,
		RevenueCents:          revenue,
		PendingVerifications:  pending,
		UnresolvedErrors:      unresolved,
		TopSources:            topSources,
	}
	for _, count := range leadCounts {
		metrics.TotalLeads += count
	}
	metrics.ConvertedLeads = leadCounts[store.LeadStatusConverted]
	if metrics.TotalLeads > 0 {
		metrics.ConversionRate = float64(metrics.ConvertedLeads) / float64(metrics.TotalLeads)
	}
	return metrics, nil
}
