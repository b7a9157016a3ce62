package attribution

import (
	"encoding/json"
	"net/url"
	"time"
)

const (
	attributionKey   = "utm_attribution"
	affiliateCodeKey = "affiliate_ref"

	// TTL applies to both attribution and affiliate state. Every write
	// restarts the window.
	TTL = 30 * 24 * time.Hour
)

// Tracker captures marketing touches and affiliate referral codes into a
// Store. All methods are safe to call on every request; visits without
// marketing parameters leave the stored state untouched.
type Tracker struct {
	store Store
	now   func() time.Time
}

// NewTracker returns a Tracker backed by the given store.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store, now: time.Now}
}

// CaptureVisit records the marketing parameters of the current visit. The
// first parameterized visit sets both touches; later ones only replace the
// last touch. It returns the resulting record.
//
// A referrer on its own does not count as a marketing visit; it is only
// stored alongside UTM parameters or click IDs.
func (t *Tracker) CaptureVisit(query url.Values, referrer string) Record {
	record := t.Attribution()
	if !hasMarketingParams(query) {
		return record
	}

	touch := touchFromQuery(query, referrer)
	touch.CapturedAt = t.now().UTC()
	if record.FirstTouch == nil {
		first := touch
		record.FirstTouch = &first
	}
	record.LastTouch = &touch

	t.save(record)
	return record
}

// CaptureAffiliate records the affiliate referral code carried by the
// current visit, replacing any previously stored code. It returns the code
// now in effect, or "" when none is stored.
func (t *Tracker) CaptureAffiliate(query url.Values) string {
	code := query.Get("ref")
	if code == "" {
		return t.AffiliateCode()
	}
	t.store.Set(affiliateCodeKey, code, TTL)
	return code
}

// Attribution returns the currently stored record. Expired or unreadable
// state yields an empty record.
func (t *Tracker) Attribution() Record {
	raw, ok := t.store.Get(attributionKey)
	if !ok || raw == "" {
		return Record{}
	}
	var record Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		t.store.Clear(attributionKey)
		return Record{}
	}
	return record
}

// AffiliateCode returns the currently stored referral code, or "".
func (t *Tracker) AffiliateCode() string {
	code, _ := t.store.Get(affiliateCodeKey)
	return code
}

func (t *Tracker) save(record Record) {
	raw, err := json.Marshal(record)
	if err != nil {
		return
	}
	t.store.Set(attributionKey, string(raw), TTL)
}

func hasMarketingParams(query url.Values) bool {
	for _, key := range []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "gclid", "fbclid"} {
		if query.Get(key) != "" {
			return true
		}
	}
	return false
}

func touchFromQuery(query url.Values, referrer string) Touch {
	return Touch{
		Source:   query.Get("utm_source"),
		Medium:   query.Get("utm_medium"),
		Campaign: query.Get("utm_campaign"),
		Term:     query.Get("utm_term"),
		Content:  query.Get("utm_content"),
		Referrer: referrer,
		GCLID:    query.Get("gclid"),
		FBCLID:   query.Get("fbclid"),
	}
}
