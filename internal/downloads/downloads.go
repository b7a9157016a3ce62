package downloads

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"funnel-server/internal/leads"
	"funnel-server/internal/observability"
	"funnel-server/internal/store"
)

const (
	// maxDownloadsPerWindow caps lead-magnet downloads inside a rolling
	// 24-hour window.
	maxDownloadsPerWindow = 3

	downloadWindow = 24 * time.Hour

	// linkTTL is how long a minted link stays valid.
	linkTTL = 10 * time.Minute
)

var (
	ErrLeadNotFound        = errors.New("lead not found")
	ErrStorageUnconfigured = errors.New("ebook storage path not configured")
)

// LimitError reports an exhausted download window and how long until it
// reopens.
type LimitError struct {
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("download limit reached, retry in %s", e.RetryAfter.Round(time.Minute))
}

// RetryAfterHours rounds the wait up to whole hours for user-facing copy.
func (e *LimitError) RetryAfterHours() int {
	hours := int((e.RetryAfter + time.Hour - 1) / time.Hour)
	if hours < 1 {
		hours = 1
	}
	return hours
}

// DownloadStore is the slice of the data layer the download service needs.
type DownloadStore interface {
	GetLeadByEmail(ctx context.Context, email string) (store.Lead, error)
	RecordLeadDownload(ctx context.Context, leadID uuid.UUID) error
	GetSettings(ctx context.Context) (store.Settings, error)
}

// Service issues short-lived signed links for the lead magnet and enforces
// the per-lead download budget.
type Service struct {
	store   DownloadStore
	tokens  Tokens
	baseURL string
	logger  *observability.Logger
	now     func() time.Time
}

func NewService(downloadStore DownloadStore, tokens Tokens, baseURL string, logger *observability.Logger) *Service {
	return &Service{
		store:   downloadStore,
		tokens:  tokens,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
		now:     time.Now,
	}
}

// Link is a minted download grant.
type Link struct {
	URL                string
	ExpiresIn          int
	RemainingDownloads int
}

// IssueLink mints a signed link for the lead identified by email and counts
// it against the lead's rolling window.
func (s *Service) IssueLink(ctx context.Context, email string) (Link, error) {
	email = leads.NormalizeEmail(email)
	ctx = observability.WithFields(ctx, observability.Field{Key: "email", Value: email})

	lead, err := s.store.GetLeadByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Link{}, ErrLeadNotFound
		}
		s.logger.Error(ctx, "failed to look up lead for download link", err)
		return Link{}, fmt.Errorf("looking up lead: %w", err)
	}

	now := s.now()
	usedInWindow := 0
	if lead.LastDownloadAt != nil && now.Sub(*lead.LastDownloadAt) < downloadWindow {
		usedInWindow = lead.DownloadCount
	}
	if usedInWindow >= maxDownloadsPerWindow {
		retryAfter := downloadWindow - now.Sub(*lead.LastDownloadAt)
		s.logger.Info(ctx, "download limit reached",
			observability.Field{Key: "lead_id", Value: lead.ID.String()},
			observability.Field{Key: "retry_after", Value: retryAfter.String()},
		)
		return Link{}, &LimitError{RetryAfter: retryAfter}
	}

	settings, err := s.store.GetSettings(ctx)
	if err != nil {
		s.logger.Error(ctx, "failed to load settings for download link", err)
		return Link{}, fmt.Errorf("loading settings: %w", err)
	}
	if settings.EbookStoragePath == nil || *settings.EbookStoragePath == "" {
		s.logger.Error(ctx, "ebook storage path is not configured", ErrStorageUnconfigured)
		return Link{}, ErrStorageUnconfigured
	}

	expiresAt := now.Add(linkTTL)
	token := s.tokens.Mint(*settings.EbookStoragePath, expiresAt)

	if err := s.store.RecordLeadDownload(ctx, lead.ID); err != nil {
		s.logger.Error(ctx, "failed to record lead download", err)
		return Link{}, fmt.Errorf("recording download: %w", err)
	}

	s.logger.Info(ctx, "issued download link",
		observability.Field{Key: "lead_id", Value: lead.ID.String()},
		observability.Field{Key: "remaining", Value: maxDownloadsPerWindow - usedInWindow - 1},
	)

	return Link{
		URL:                fmt.Sprintf("%s/downloads/file?token=%s", s.baseURL, url.QueryEscape(token)),
		ExpiresIn:          int(linkTTL.Seconds()),
		RemainingDownloads: maxDownloadsPerWindow - usedInWindow - 1,
	}, nil
}

// ResolveToken validates a presented token and returns the storage path it
// grants.
func (s *Service) ResolveToken(token string) (string, error) {
	return s.tokens.Validate(token, s.now())
}
