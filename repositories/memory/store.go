// Package memory is an in-process implementation of the event, ledger link and
// aggregate stores. It keeps the same conditional-update contracts as the MongoDB
// repositories and backs tests and local runs.
package memory

import (
	// Go Internal Packages
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	// Local Packages
	errors "kirana-ledger/errors"
	models "kirana-ledger/models"
)

type Store struct {
	mu         sync.RWMutex
	events     map[string]models.Event
	byKey      map[string]string
	links      map[string]models.LedgerLink
	aggregates map[string]models.CreditAggregate
	profiles   map[string]models.StoreProfile

	// failRecord makes the next n scored → recorded transitions fail.
	failRecord int
}

func NewStore() *Store {
	return &Store{
		events:     map[string]models.Event{},
		byKey:      map[string]string{},
		links:      map[string]models.LedgerLink{},
		aggregates: map[string]models.CreditAggregate{},
		profiles:   map[string]models.StoreProfile{},
	}
}

// SetProfile registers store metadata read by History.
func (s *Store) SetProfile(p models.StoreProfile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[p.ShopkeeperID] = p
}

// FailNextRecord simulates n local write failures on the recorded transition.
func (s *Store) FailNextRecord(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failRecord = n
}

func (s *Store) InsertEvent(ctx context.Context, ev *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byKey[ev.RawPayloadHash]; ok {
		return errors.E(errors.Conflict, "duplicate raw payload hash", nil)
	}
	if _, ok := s.events[ev.ID]; ok {
		return errors.E(errors.Conflict, "duplicate event id", nil)
	}
	s.events[ev.ID] = *ev
	s.byKey[ev.RawPayloadHash] = ev.ID
	return nil
}

func (s *Store) GetEvent(ctx context.Context, id string) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.events[id]
	if !ok {
		return nil, errors.NotFoundErr("event", id)
	}
	return &ev, nil
}

func (s *Store) FindEventByKey(ctx context.Context, key string) (*models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byKey[key]
	if !ok {
		return nil, errors.NotFoundErr("event with key", key)
	}
	ev := s.events[id]
	return &ev, nil
}

func (s *Store) ScoreEvent(ctx context.Context, id string, a models.Assessment, at time.Time) error {
	return s.update(id, []models.Status{models.StatusReceived}, models.StatusScored, func(ev *models.Event) {
		ev.RiskScore = a.Score
		ev.RiskLevel = a.Level
		ev.Eligible = a.Eligible
		ev.UpdatedAt = at
	})
}

func (s *Store) TransitionEvent(ctx context.Context, id string, to models.Status, at time.Time, from ...models.Status) error {
	if to == models.StatusRecorded {
		s.mu.Lock()
		if s.failRecord > 0 {
			s.failRecord--
			s.mu.Unlock()
			return errors.E(errors.Internal, "store unavailable", nil)
		}
		s.mu.Unlock()
	}
	return s.update(id, from, to, func(ev *models.Event) { ev.UpdatedAt = at })
}

func (s *Store) DisputeEvent(ctx context.Context, id, reason string, at time.Time, from ...models.Status) error {
	return s.update(id, from, models.StatusDisputed, func(ev *models.Event) {
		ev.DisputeReason = reason
		ev.UpdatedAt = at
	})
}

func (s *Store) MarkNotified(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return errors.NotFoundErr("event", id)
	}
	ev.Notified = true
	ev.UpdatedAt = at
	s.events[id] = ev
	return nil
}

func (s *Store) update(id string, from []models.Status, to models.Status, mutate func(*models.Event)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[id]
	if !ok {
		return errors.NotFoundErr("event", id)
	}
	if !slices.Contains(from, ev.Status) {
		return errors.TransitionErr(id, string(ev.Status), string(to))
	}
	ev.Status = to
	mutate(&ev)
	s.events[id] = ev
	return nil
}

func (s *Store) ListEvents(ctx context.Context, f models.EventFilter) ([]models.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Event
	for _, ev := range s.events {
		if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, ev.Status) {
			continue
		}
		if !f.UpdatedBefore.IsZero() && !ev.UpdatedAt.Before(f.UpdatedBefore) {
			continue
		}
		if f.Notified != nil && ev.Notified != *f.Notified {
			continue
		}
		out = append(out, ev)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *Store) CountByStatus(ctx context.Context) (map[models.Status]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := map[models.Status]int64{}
	for _, ev := range s.events {
		counts[ev.Status]++
	}
	return counts, nil
}

// History mirrors the MongoDB aggregation: every persisted event of the shopkeeper except
// the one being scored, recent activity since the given time, and the customer's open credit.
func (s *Store) History(ctx context.Context, ev models.Event, since time.Time) (models.History, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var h models.History
	for _, past := range s.events {
		if past.ShopkeeperID != ev.ShopkeeperID || past.ID == ev.ID || !countsTowardHistory(past.Status) {
			continue
		}
		h.Count++
		h.TotalAmount += past.Amount
		h.MaxAmount = max(h.MaxAmount, past.Amount)
		if !past.OccurredAt.Before(since) {
			h.RecentCount++
		}
		if past.CustomerID == ev.CustomerID {
			switch past.Kind {
			case models.KindCredit:
				h.OutstandingCredit += past.Amount
			case models.KindRepayment:
				h.OutstandingCredit -= past.Amount
			}
		}
	}
	h.OutstandingCredit = max(h.OutstandingCredit, 0)
	h.Profile = s.profiles[ev.ShopkeeperID]
	return h, nil
}

func countsTowardHistory(st models.Status) bool {
	switch st {
	case models.StatusRecorded, models.StatusSubmitting, models.StatusPendingRetry, models.StatusConfirmed:
		return true
	}
	return false
}

func (s *Store) EnsureLink(ctx context.Context, eventID string, at time.Time) (*models.LedgerLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[eventID]
	if !ok {
		link = models.LedgerLink{EventID: eventID, CreatedAt: at, UpdatedAt: at}
		s.links[eventID] = link
	}
	return copyLink(link), nil
}

func (s *Store) GetLink(ctx context.Context, eventID string) (*models.LedgerLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	link, ok := s.links[eventID]
	if !ok {
		return nil, errors.NotFoundErr("ledger link", eventID)
	}
	return copyLink(link), nil
}

func (s *Store) RecordAttempt(ctx context.Context, eventID string, at time.Time) (*models.LedgerLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[eventID]
	if !ok {
		return nil, errors.NotFoundErr("ledger link", eventID)
	}
	link.SubmissionAttempts++
	link.UpdatedAt = at
	s.links[eventID] = link
	return copyLink(link), nil
}

func (s *Store) RecordFailure(ctx context.Context, eventID, msg string, next *time.Time, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[eventID]
	if !ok {
		return errors.NotFoundErr("ledger link", eventID)
	}
	link.LastError = &msg
	link.NextAttemptAt = next
	link.UpdatedAt = at
	s.links[eventID] = link
	return nil
}

func (s *Store) SetReference(ctx context.Context, eventID, ref string, height int64, at time.Time) (*models.LedgerLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	link, ok := s.links[eventID]
	if !ok {
		return nil, errors.NotFoundErr("ledger link", eventID)
	}
	if link.LedgerReference == nil {
		link.LedgerReference = &ref
		link.ConfirmedAtBlockHeight = &height
		link.LastError = nil
		link.NextAttemptAt = nil
		link.UpdatedAt = at
		s.links[eventID] = link
	}
	return copyLink(link), nil
}

func copyLink(l models.LedgerLink) *models.LedgerLink {
	if l.LedgerReference != nil {
		ref := *l.LedgerReference
		l.LedgerReference = &ref
	}
	if l.ConfirmedAtBlockHeight != nil {
		h := *l.ConfirmedAtBlockHeight
		l.ConfirmedAtBlockHeight = &h
	}
	if l.LastError != nil {
		e := *l.LastError
		l.LastError = &e
	}
	if l.NextAttemptAt != nil {
		n := *l.NextAttemptAt
		l.NextAttemptAt = &n
	}
	return &l
}

func (s *Store) GetAggregate(ctx context.Context, shopkeeperID string) (*models.CreditAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agg, ok := s.aggregates[shopkeeperID]
	if !ok {
		return nil, errors.NotFoundErr("aggregate", shopkeeperID)
	}
	return agg.Clone(), nil
}

// SaveAggregate writes the folded fields only if the stored version still equals expected.
// Anchor fields are left alone so anchoring never races with folding.
func (s *Store) SaveAggregate(ctx context.Context, agg *models.CreditAggregate, expected int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.aggregates[agg.ShopkeeperID]
	if !ok {
		if expected != 0 {
			return errors.ConflictErr(agg.ShopkeeperID, expected, nil)
		}
		cur = *models.NewCreditAggregate(agg.ShopkeeperID)
	} else if cur.Version != expected {
		return errors.ConflictErr(agg.ShopkeeperID, expected, nil)
	}
	next := agg.Clone()
	cur.Score = next.Score
	cur.ComponentTotals = next.ComponentTotals
	cur.Version = next.Version
	cur.AppliedEvents = next.AppliedEvents
	cur.UpdatedAt = next.UpdatedAt
	s.aggregates[agg.ShopkeeperID] = cur
	return nil
}

func (s *Store) SetAnchor(ctx context.Context, shopkeeperID, ref string, version int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.aggregates[shopkeeperID]
	if !ok {
		return errors.NotFoundErr("aggregate", shopkeeperID)
	}
	if version <= cur.LastAnchoredVersion {
		return nil
	}
	cur.LastAnchoredReference = &ref
	cur.LastAnchoredVersion = version
	s.aggregates[shopkeeperID] = cur
	return nil
}

func (s *Store) ListAnchorDue(ctx context.Context, every int64, limit int) ([]models.CreditAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.CreditAggregate
	for _, agg := range s.aggregates {
		if agg.PendingAnchor() >= every {
			out = append(out, *agg.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ShopkeeperID < out[j].ShopkeeperID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
