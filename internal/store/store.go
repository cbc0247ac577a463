// Package store keeps users' price alerts and decides which of them a fresh
// price satisfies.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/drug-price-aggregator/internal/model"
	"github.com/fairyhunter13/drug-price-aggregator/internal/obs"
	"github.com/fairyhunter13/drug-price-aggregator/internal/textnorm"
)

// ErrInvalidAlert is returned by Create for malformed requests.
var ErrInvalidAlert = errors.New("invalid alert")

// Persister durably records alerts. Calls are serialized and made outside the
// lock guarding reads, so List and Get never wait on I/O.
type Persister interface {
	Load(ctx context.Context) ([]model.PriceAlert, error)
	Save(ctx context.Context, alerts ...model.PriceAlert) error
	Delete(ctx context.Context, id string) error
}

type alertState struct {
	a   model.PriceAlert
	key string
}

type Store struct {
	// wmu is held by every mutation from its map update until its
	// persister call returns, so persisted state follows map order.
	wmu sync.Mutex
	mu  sync.RWMutex
	m   map[string]alertState
	p   Persister
	now func() time.Time
}

// New returns an in-memory store.
func New() *Store {
	return &Store{m: make(map[string]alertState), now: time.Now}
}

// Open returns a store backed by p, preloaded with its alerts.
func Open(ctx context.Context, p Persister) (*Store, error) {
	s := New()
	s.p = p
	if p == nil {
		return s, nil
	}
	alerts, err := p.Load(ctx)
	if err != nil {
		return nil, err
	}
	for _, a := range alerts {
		if a.ID == "" {
			continue
		}
		s.m[a.ID] = alertState{a: a, key: textnorm.Key(a.DrugName)}
	}
	return s, nil
}

// Create registers an alert and returns its ID.
func (s *Store) Create(ctx context.Context, userID, drugName string, targetPrice int64) (string, error) {
	userID = strings.TrimSpace(userID)
	drugName = strings.TrimSpace(drugName)
	key := textnorm.Key(drugName)
	if userID == "" || key == "" || targetPrice <= 0 {
		return "", ErrInvalidAlert
	}
	a := model.PriceAlert{
		ID:          uuid.NewString(),
		UserID:      userID,
		DrugName:    drugName,
		TargetPrice: targetPrice,
		CreatedAt:   s.now().UTC(),
		Active:      true,
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.mu.Lock()
	s.m[a.ID] = alertState{a: a, key: key}
	s.mu.Unlock()
	s.persist(ctx, a)
	return a.ID, nil
}

// Remove deletes the user's alert. Unknown IDs and other users' alerts are
// left alone; the result reports whether anything was removed.
func (s *Store) Remove(ctx context.Context, userID, alertID string) bool {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.mu.Lock()
	st, ok := s.m[alertID]
	if !ok || st.a.UserID != userID {
		s.mu.Unlock()
		return false
	}
	delete(s.m, alertID)
	s.mu.Unlock()

	if s.p != nil {
		if err := s.p.Delete(ctx, alertID); err != nil {
			obs.Logger.Error("alert_delete_failed", "alert_id", alertID, "error", err.Error())
		}
	}
	return true
}

// Deactivate marks the user's alert inactive without deleting it.
func (s *Store) Deactivate(ctx context.Context, userID, alertID string) bool {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	s.mu.Lock()
	st, ok := s.m[alertID]
	if !ok || st.a.UserID != userID || !st.a.Active {
		s.mu.Unlock()
		return false
	}
	st.a.Active = false
	s.m[alertID] = st
	a := st.a
	s.mu.Unlock()
	s.persist(ctx, a)
	return true
}

// List returns the user's alerts, oldest first.
func (s *Store) List(userID string) []model.PriceAlert {
	s.mu.RLock()
	var out []model.PriceAlert
	for _, st := range s.m {
		if st.a.UserID == userID {
			out = append(out, copyAlert(st.a))
		}
	}
	s.mu.RUnlock()
	sortAlerts(out)
	return out
}

// Get returns one alert by ID.
func (s *Store) Get(alertID string) (model.PriceAlert, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.m[alertID]
	if !ok {
		return model.PriceAlert{}, false
	}
	return copyAlert(st.a), true
}

// WatchedDrugs returns the distinct drug names of active alerts.
func (s *Store) WatchedDrugs() []string {
	s.mu.RLock()
	seen := make(map[string]string)
	for _, st := range s.m {
		if st.a.Active {
			if _, ok := seen[st.key]; !ok {
				seen[st.key] = st.a.DrugName
			}
		}
	}
	s.mu.RUnlock()
	out := make([]string, 0, len(seen))
	for _, name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Evaluate records observedPriceMin on every active alert for drugName and
// returns those whose target is met (observed <= target). Fired alerts stay
// active and fire again on later evaluations until removed.
func (s *Store) Evaluate(ctx context.Context, drugName string, observedPriceMin int64) []model.PriceAlert {
	key := textnorm.Key(drugName)
	if key == "" {
		return nil
	}
	var touched, fired []model.PriceAlert
	s.wmu.Lock()
	s.mu.Lock()
	for id, st := range s.m {
		if st.key != key || !st.a.Active {
			continue
		}
		st.a.LastObservedPrice = model.Int64(observedPriceMin)
		s.m[id] = st
		touched = append(touched, copyAlert(st.a))
		if observedPriceMin <= st.a.TargetPrice {
			fired = append(fired, copyAlert(st.a))
		}
	}
	s.mu.Unlock()

	if len(touched) > 0 {
		s.persist(ctx, touched...)
	}
	s.wmu.Unlock()

	if len(fired) > 0 {
		obs.AlertsFired.Add(float64(len(fired)))
		obs.Logger.Info("alerts_fired", "drug_name", drugName, "observed_price_min", observedPriceMin, "count", len(fired))
	}
	sortAlerts(fired)
	return fired
}

func (s *Store) persist(ctx context.Context, alerts ...model.PriceAlert) {
	if s.p == nil {
		return
	}
	if err := s.p.Save(ctx, alerts...); err != nil {
		obs.Logger.Error("alert_persist_failed", "count", len(alerts), "error", err.Error())
	}
}

func copyAlert(a model.PriceAlert) model.PriceAlert {
	if a.LastObservedPrice != nil {
		a.LastObservedPrice = model.Int64(*a.LastObservedPrice)
	}
	return a
}

func sortAlerts(as []model.PriceAlert) {
	sort.Slice(as, func(i, j int) bool {
		if !as[i].CreatedAt.Equal(as[j].CreatedAt) {
			return as[i].CreatedAt.Before(as[j].CreatedAt)
		}
		return as[i].ID < as[j].ID
	})
}
