package attribution

import (
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// memoryStore is a Store with real TTL behavior driven by a controllable
// clock.
type memoryStore struct {
	now    func() time.Time
	values map[string]memoryEntry
}

func newMemoryStore(now func() time.Time) *memoryStore {
	return &memoryStore{now: now, values: make(map[string]memoryEntry)}
}

func (s *memoryStore) Get(key string) (string, bool) {
	entry, ok := s.values[key]
	if !ok {
		return "", false
	}
	if s.now().After(entry.expiresAt) {
		delete(s.values, key)
		return "", false
	}
	return entry.value, true
}

func (s *memoryStore) Set(key, value string, ttl time.Duration) {
	s.values[key] = memoryEntry{value: value, expiresAt: s.now().Add(ttl)}
}

func (s *memoryStore) Clear(key string) {
	delete(s.values, key)
}

func newTestTracker(start time.Time) (*Tracker, *time.Time) {
	current := start
	clock := func() time.Time { return current }
	tracker := NewTracker(newMemoryStore(clock))
	tracker.now = clock
	return tracker, &current
}

func query(pairs ...string) url.Values {
	values := url.Values{}
	for i := 0; i+1 < len(pairs); i += 2 {
		values.Set(pairs[i], pairs[i+1])
	}
	return values
}

func TestCaptureVisitFirstVisitSetsBothTouches(t *testing.T) {
	tracker, _ := newTestTracker(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	record := tracker.CaptureVisit(query("utm_source", "youtube", "utm_campaign", "lancamento"), "https://youtube.com")

	assert.NotNil(t, record.FirstTouch)
	assert.NotNil(t, record.LastTouch)
	assert.Equal(t, *record.FirstTouch, *record.LastTouch)
	assert.Equal(t, "youtube", record.FirstTouch.Source)
	assert.Equal(t, "lancamento", record.FirstTouch.Campaign)
	assert.Equal(t, "https://youtube.com", record.FirstTouch.Referrer)
}

func TestCaptureVisitPreservesFirstTouch(t *testing.T) {
	tracker, current := newTestTracker(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	tracker.CaptureVisit(query("utm_source", "youtube"), "")
	*current = current.Add(48 * time.Hour)
	record := tracker.CaptureVisit(query("utm_source", "instagram", "utm_medium", "bio"), "")

	assert.Equal(t, "youtube", record.FirstTouch.Source)
	assert.Equal(t, "instagram", record.LastTouch.Source)
	assert.Equal(t, "bio", record.LastTouch.Medium)
	assert.False(t, record.FirstTouch.CapturedAt.After(record.LastTouch.CapturedAt))
}

func TestCaptureVisitWithoutParamsLeavesStateUntouched(t *testing.T) {
	tracker, _ := newTestTracker(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	tracker.CaptureVisit(query("utm_source", "youtube"), "")
	record := tracker.CaptureVisit(query(), "https://google.com")

	assert.Equal(t, "youtube", record.LastTouch.Source)
	assert.Equal(t, "", record.LastTouch.Referrer)
}

func TestCaptureVisitReferrerAloneIsNotATouch(t *testing.T) {
	tracker, _ := newTestTracker(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	record := tracker.CaptureVisit(query(), "https://google.com")

	assert.True(t, record.IsZero())
}

func TestCaptureVisitClickIDCountsAsTouch(t *testing.T) {
	tracker, _ := newTestTracker(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	record := tracker.CaptureVisit(query("gclid", "abc123"), "https://google.com")

	assert.NotNil(t, record.FirstTouch)
	assert.Equal(t, "abc123", record.FirstTouch.GCLID)
	assert.Equal(t, "https://google.com", record.FirstTouch.Referrer)
}

func TestAttributionExpiresAfterTTL(t *testing.T) {
	tracker, current := newTestTracker(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	tracker.CaptureVisit(query("utm_source", "youtube"), "")
	*current = current.Add(TTL + time.Hour)

	assert.True(t, tracker.Attribution().IsZero())
}

func TestCaptureVisitRestartsTTL(t *testing.T) {
	tracker, current := newTestTracker(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	tracker.CaptureVisit(query("utm_source", "youtube"), "")
	*current = current.Add(20 * 24 * time.Hour)
	tracker.CaptureVisit(query("utm_source", "instagram"), "")
	*current = current.Add(20 * 24 * time.Hour)

	record := tracker.Attribution()
	assert.Equal(t, "youtube", record.FirstTouch.Source)
	assert.Equal(t, "instagram", record.LastTouch.Source)
}

func TestCaptureAffiliateLastWriteWins(t *testing.T) {
	tracker, _ := newTestTracker(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	assert.Equal(t, "joao10", tracker.CaptureAffiliate(query("ref", "joao10")))
	assert.Equal(t, "maria20", tracker.CaptureAffiliate(query("ref", "maria20")))
	assert.Equal(t, "maria20", tracker.AffiliateCode())
}

func TestCaptureAffiliateWithoutParamKeepsExisting(t *testing.T) {
	tracker, _ := newTestTracker(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	tracker.CaptureAffiliate(query("ref", "joao10"))

	assert.Equal(t, "joao10", tracker.CaptureAffiliate(query()))
}

func TestAffiliateAndAttributionAreIndependent(t *testing.T) {
	tracker, current := newTestTracker(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC))

	tracker.CaptureVisit(query("utm_source", "youtube"), "")
	*current = current.Add(20 * 24 * time.Hour)
	tracker.CaptureAffiliate(query("ref", "joao10"))
	*current = current.Add(20 * 24 * time.Hour)

	// Attribution expired 40 days after its last write; the affiliate code
	// is still inside its own window.
	assert.True(t, tracker.Attribution().IsZero())
	assert.Equal(t, "joao10", tracker.AffiliateCode())
}

func TestAttributionWithCorruptStateResets(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := newMemoryStore(func() time.Time { return now })
	store.Set(attributionKey, "{not json", TTL)
	tracker := NewTracker(store)

	assert.True(t, tracker.Attribution().IsZero())
	_, ok := store.Get(attributionKey)
	assert.False(t, ok)
}
