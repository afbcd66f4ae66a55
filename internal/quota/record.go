// Package quota keeps the signed-in visitor's page quota and gates conversions on it.
package quota

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wenwu/saas-platform/statement-portal/internal/models"
)

// ErrQuotaExceeded matches any GateError raised because no pages are left.
var ErrQuotaExceeded = errors.New("quota exceeded")

// GateError blocks a conversion before it starts. Message is shown to the visitor.
type GateError struct {
	Message   string
	Action    string
	Exhausted bool
}

func (e *GateError) Error() string {
	return e.Message
}

func (e *GateError) Is(target error) bool {
	return e.Exhausted && target == ErrQuotaExceeded
}

// Record holds the User Quota Record in two tiers. The authoritative tier only
// changes on a profile fetch; the provisional tier holds local arithmetic made
// since then and is discarded by the next fetch.
type Record struct {
	mu            sync.RWMutex
	authoritative *models.UserProfile
	provisional   *models.UserProfile
}

func NewRecord() *Record {
	return &Record{}
}

// SetAuthoritative replaces the record with a fresh fetch.
func (r *Record) SetAuthoritative(p *models.UserProfile) {
	if p == nil {
		return
	}
	cp := *p
	r.mu.Lock()
	r.authoritative = &cp
	r.provisional = nil
	r.mu.Unlock()
}

func (r *Record) Clear() {
	r.mu.Lock()
	r.authoritative = nil
	r.provisional = nil
	r.mu.Unlock()
}

// Consume records pages used locally until the next authoritative fetch.
func (r *Record) Consume(pages int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	base := r.provisional
	if base == nil {
		base = r.authoritative
	}
	if base == nil || base.Unlimited() {
		return
	}
	cp := *base
	cp.PagesRemaining -= pages
	if cp.PagesRemaining < 0 {
		cp.PagesRemaining = 0
	}
	r.provisional = &cp
}

// DropProvisional falls back to the last fetched record after a failed fetch.
func (r *Record) DropProvisional() {
	r.mu.Lock()
	r.provisional = nil
	r.mu.Unlock()
}

// Current returns the record to render: provisional while an authoritative
// fetch is still owed, authoritative otherwise.
func (r *Record) Current() (models.UserProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch {
	case r.provisional != nil:
		return *r.provisional, true
	case r.authoritative != nil:
		return *r.authoritative, true
	}
	return models.UserProfile{}, false
}

// Authoritative returns the last fetched record.
func (r *Record) Authoritative() (models.UserProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.authoritative == nil {
		return models.UserProfile{}, false
	}
	return *r.authoritative, true
}

func (r *Record) IsProvisional() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.provisional != nil
}

// Display is the quota line shown above the upload box.
func Display(p models.UserProfile) string {
	switch p.SubscriptionTier {
	case models.TierEnterprise:
		return "Unlimited pages available"
	case models.TierDailyFree:
		return fmt.Sprintf("%d of %d pages remaining today", p.PagesRemaining, models.DailyFreePages)
	}
	return fmt.Sprintf("%d of %d pages remaining this month", p.PagesRemaining, p.PagesLimit)
}

// ResetNote explains when pages come back.
func ResetNote(p models.UserProfile) string {
	if p.SubscriptionTier == models.TierDailyFree {
		return "Pages reset every 24 hours"
	}
	return "Pages reset monthly on your billing date"
}
