package store

import (
	"context"
	"sort"
	"sync"

	"kinledger/internal/household/models"
	id "kinledger/pkg/domain"
	"kinledger/pkg/platform/sentinel"
	txcontext "kinledger/pkg/platform/tx"
)

// InMemory holds households and their members in maps.
type InMemory struct {
	mu            sync.RWMutex
	households    map[id.HouseholdID]*models.Household
	profiles      map[id.ProfileID]*models.Profile
	emails        map[string]id.ProfileID
	kin           map[id.KinID]*models.KinMember
	accounts      map[id.ProfileID]*models.PrimaryAccount
	subscriptions map[id.HouseholdID]*models.Subscription
}

func NewInMemory() *InMemory {
	return &InMemory{
		households:    make(map[id.HouseholdID]*models.Household),
		profiles:      make(map[id.ProfileID]*models.Profile),
		emails:        make(map[string]id.ProfileID),
		kin:           make(map[id.KinID]*models.KinMember),
		accounts:      make(map[id.ProfileID]*models.PrimaryAccount),
		subscriptions: make(map[id.HouseholdID]*models.Subscription),
	}
}

// put stores v under k and registers an undo that restores the previous value.
func put[K comparable, V any](ctx context.Context, mu *sync.RWMutex, m map[K]*V, k K, v *V) {
	prev, existed := m[k]
	cp := *v
	m[k] = &cp
	txcontext.OnRollback(ctx, func() {
		mu.Lock()
		defer mu.Unlock()
		if existed {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
}

func get[K comparable, V any](mu *sync.RWMutex, m map[K]*V, k K) (*V, error) {
	mu.RLock()
	defer mu.RUnlock()
	v, ok := m[k]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *v
	return &cp, nil
}

func (s *InMemory) CreateHousehold(ctx context.Context, h *models.Household) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.households[h.ID]; ok {
		return sentinel.ErrAlreadyUsed
	}
	put(ctx, &s.mu, s.households, h.ID, h)
	return nil
}

func (s *InMemory) FindHousehold(_ context.Context, householdID id.HouseholdID) (*models.Household, error) {
	return get(&s.mu, s.households, householdID)
}

func (s *InMemory) UpdateHousehold(ctx context.Context, h *models.Household) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.households[h.ID]; !ok {
		return sentinel.ErrNotFound
	}
	put(ctx, &s.mu, s.households, h.ID, h)
	return nil
}

func (s *InMemory) CreateProfile(ctx context.Context, p *models.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, taken := s.emails[p.Email]; taken {
		return sentinel.ErrAlreadyUsed
	}
	put(ctx, &s.mu, s.profiles, p.ID, p)
	s.emails[p.Email] = p.ID
	email := p.Email
	txcontext.OnRollback(ctx, func() {
		s.mu.Lock()
		delete(s.emails, email)
		s.mu.Unlock()
	})
	return nil
}

func (s *InMemory) FindProfile(_ context.Context, profileID id.ProfileID) (*models.Profile, error) {
	return get(&s.mu, s.profiles, profileID)
}

func (s *InMemory) CreateKin(ctx context.Context, k *models.KinMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	put(ctx, &s.mu, s.kin, k.ID, k)
	return nil
}

func (s *InMemory) UpdateKin(ctx context.Context, k *models.KinMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.kin[k.ID]; !ok {
		return sentinel.ErrNotFound
	}
	put(ctx, &s.mu, s.kin, k.ID, k)
	return nil
}

func (s *InMemory) FindKin(_ context.Context, kinID id.KinID) (*models.KinMember, error) {
	return get(&s.mu, s.kin, kinID)
}

func (s *InMemory) ListKin(_ context.Context, householdID id.HouseholdID) ([]*models.KinMember, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.KinMember
	for _, k := range s.kin {
		if k.HouseholdID != householdID || k.IsDeleted() {
			continue
		}
		cp := *k
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemory) FindPrimaryAccount(_ context.Context, profileID id.ProfileID) (*models.PrimaryAccount, error) {
	return get(&s.mu, s.accounts, profileID)
}

func (s *InMemory) UpsertPrimaryAccount(ctx context.Context, a *models.PrimaryAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	put(ctx, &s.mu, s.accounts, a.ProfileID, a)
	return nil
}

func (s *InMemory) FindSubscription(_ context.Context, householdID id.HouseholdID) (*models.Subscription, error) {
	return get(&s.mu, s.subscriptions, householdID)
}

func (s *InMemory) FindSubscriptionByExternalID(_ context.Context, externalID string) (*models.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, sub := range s.subscriptions {
		if externalID != "" && sub.ExternalSubscriptionID == externalID {
			cp := *sub
			return &cp, nil
		}
	}
	return nil, sentinel.ErrNotFound
}

func (s *InMemory) UpsertSubscription(ctx context.Context, sub *models.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	put(ctx, &s.mu, s.subscriptions, sub.HouseholdID, sub)
	return nil
}
