package downloads

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"funnel-server/internal/observability"
	"funnel-server/internal/store"
)

type MockDownloadStore struct {
	mock.Mock
}

func (m *MockDownloadStore) GetLeadByEmail(ctx context.Context, email string) (store.Lead, error) {
	args := m.Called(ctx, email)
	return args.Get(0).(store.Lead), args.Error(1)
}

func (m *MockDownloadStore) RecordLeadDownload(ctx context.Context, leadID uuid.UUID) error {
	args := m.Called(ctx, leadID)
	return args.Error(0)
}

func (m *MockDownloadStore) GetSettings(ctx context.Context) (store.Settings, error) {
	args := m.Called(ctx)
	return args.Get(0).(store.Settings), args.Error(1)
}

var downloadTestNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func newTestService(mockStore *MockDownloadStore) *Service {
	svc := NewService(mockStore, NewTokens("test-secret"), "https://funnel.example.com/", observability.NewLogger())
	svc.now = func() time.Time { return downloadTestNow }
	return svc
}

func settingsWithStorage(path string) store.Settings {
	return store.Settings{EbookStoragePath: &path}
}

func TestIssueLinkFirstDownload(t *testing.T) {
	mockStore := new(MockDownloadStore)
	leadID := uuid.MustParse("7d9f1a2b-3c4d-4e5f-8a9b-0c1d2e3f4a5b")

	mockStore.On("GetLeadByEmail", mock.Anything, "maria@example.com").
		Return(store.Lead{ID: leadID, Email: "maria@example.com"}, nil)
	mockStore.On("GetSettings", mock.Anything).
		Return(settingsWithStorage("/var/data/ebook.pdf"), nil)
	mockStore.On("RecordLeadDownload", mock.Anything, leadID).Return(nil)

	svc := newTestService(mockStore)
	link, err := svc.IssueLink(context.Background(), "Maria@Example.com")
	require.NoError(t, err)

	assert.Contains(t, link.URL, "https://funnel.example.com/downloads/file?token=")
	assert.Equal(t, 600, link.ExpiresIn)
	assert.Equal(t, 2, link.RemainingDownloads)
	mockStore.AssertExpectations(t)
}

func TestIssueLinkCountsWithinWindow(t *testing.T) {
	mockStore := new(MockDownloadStore)
	leadID := uuid.MustParse("7d9f1a2b-3c4d-4e5f-8a9b-0c1d2e3f4a5b")
	lastDownload := downloadTestNow.Add(-1 * time.Hour)

	mockStore.On("GetLeadByEmail", mock.Anything, "maria@example.com").
		Return(store.Lead{ID: leadID, Email: "maria@example.com", DownloadCount: 2, LastDownloadAt: &lastDownload}, nil)
	mockStore.On("GetSettings", mock.Anything).
		Return(settingsWithStorage("/var/data/ebook.pdf"), nil)
	mockStore.On("RecordLeadDownload", mock.Anything, leadID).Return(nil)

	svc := newTestService(mockStore)
	link, err := svc.IssueLink(context.Background(), "maria@example.com")
	require.NoError(t, err)

	assert.Equal(t, 0, link.RemainingDownloads)
}

func TestIssueLinkLimitReached(t *testing.T) {
	mockStore := new(MockDownloadStore)
	lastDownload := downloadTestNow.Add(-2 * time.Hour)

	mockStore.On("GetLeadByEmail", mock.Anything, "maria@example.com").
		Return(store.Lead{ID: uuid.New(), Email: "maria@example.com", DownloadCount: 3, LastDownloadAt: &lastDownload}, nil)

	svc := newTestService(mockStore)
	_, err := svc.IssueLink(context.Background(), "maria@example.com")

	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 22, limitErr.RetryAfterHours())
	mockStore.AssertExpectations(t)
}

func TestIssueLinkWindowResets(t *testing.T) {
	mockStore := new(MockDownloadStore)
	leadID := uuid.MustParse("7d9f1a2b-3c4d-4e5f-8a9b-0c1d2e3f4a5b")
	lastDownload := downloadTestNow.Add(-25 * time.Hour)

	mockStore.On("GetLeadByEmail", mock.Anything, "maria@example.com").
		Return(store.Lead{ID: leadID, Email: "maria@example.com", DownloadCount: 3, LastDownloadAt: &lastDownload}, nil)
	mockStore.On("GetSettings", mock.Anything).
		Return(settingsWithStorage("/var/data/ebook.pdf"), nil)
	mockStore.On("RecordLeadDownload", mock.Anything, leadID).Return(nil)

	svc := newTestService(mockStore)
	link, err := svc.IssueLink(context.Background(), "maria@example.com")
	require.NoError(t, err)

	assert.Equal(t, 2, link.RemainingDownloads)
}

func TestIssueLinkLeadNotFound(t *testing.T) {
	mockStore := new(MockDownloadStore)
	mockStore.On("GetLeadByEmail", mock.Anything, "ghost@example.com").
		Return(store.Lead{}, store.ErrNotFound)

	svc := newTestService(mockStore)
	_, err := svc.IssueLink(context.Background(), "ghost@example.com")

	assert.ErrorIs(t, err, ErrLeadNotFound)
}

func TestIssueLinkStorageUnconfigured(t *testing.T) {
	mockStore := new(MockDownloadStore)

	mockStore.On("GetLeadByEmail", mock.Anything, "maria@example.com").
		Return(store.Lead{ID: uuid.New(), Email: "maria@example.com"}, nil)
	mockStore.On("GetSettings", mock.Anything).Return(store.Settings{}, nil)

	svc := newTestService(mockStore)
	_, err := svc.IssueLink(context.Background(), "maria@example.com")

	assert.ErrorIs(t, err, ErrStorageUnconfigured)
	mockStore.AssertExpectations(t)
}

func TestIssueLinkRecordFailurePropagates(t *testing.T) {
	mockStore := new(MockDownloadStore)
	leadID := uuid.New()

	mockStore.On("GetLeadByEmail", mock.Anything, "maria@example.com").
		Return(store.Lead{ID: leadID, Email: "maria@example.com"}, nil)
	mockStore.On("GetSettings", mock.Anything).
		Return(settingsWithStorage("/var/data/ebook.pdf"), nil)
	mockStore.On("RecordLeadDownload", mock.Anything, leadID).
		Return(errors.New("connection reset"))

	svc := newTestService(mockStore)
	_, err := svc.IssueLink(context.Background(), "maria@example.com")

	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrLeadNotFound)
}
