package catalog

import (
	"context"
	"fmt"
	"log"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"drivelog/config"
	dbt "drivelog/db/db"
)

// CacheKind names one cached listing per user.
type CacheKind string

const (
	CacheDaily      CacheKind = "daily"
	CacheAllObjects CacheKind = "all_objects"

	maxCachedUsers = 100
)

// Lister is the CRM side of the catalog.
type Lister interface {
	ListOrders(ctx context.Context, limit int) ([]Object, error)
	AddComment(ctx context.Context, orderID, text string) error
}

type cacheKey struct {
	user dbt.UserID
	kind CacheKind
}

type cacheEntry struct {
	objects   []Object
	fetchedAt time.Time
	expiresAt time.Time
}

type CacheInfo struct {
	User             dbt.UserID `json:"user_id"`
	Kind             CacheKind  `json:"cache_type"`
	FetchedAt        time.Time  `json:"created_at"`
	ExpiresAt        time.Time  `json:"expires_at"`
	AgeMinutes       int        `json:"age_minutes"`
	ExpiresInMinutes int        `json:"expires_in_minutes"`
	IsExpired        bool       `json:"is_expired"`
	IsStale          bool       `json:"is_stale"`
	ObjectsCount     int        `json:"objects_count"`
}

// Service combines static objects with cached CRM listings. A nil Lister
// means the CRM is not configured; every listing then degrades to static only.
type Service struct {
	client   Lister
	settings config.Provider
	cache    *lru.Cache[cacheKey, cacheEntry]
	fetchMu  sync.Mutex
	now      func() time.Time
}

func NewService(client Lister, settings config.Provider) (*Service, error) {
	perUser := settings.Current().Cache.MaxEntriesPerUser
	if perUser < 1 {
		perUser = 1
	}
	cache, err := lru.New[cacheKey, cacheEntry](perUser * maxCachedUsers)
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog cache: %w", err)
	}
	return &Service{client: client, settings: settings, cache: cache, now: time.Now}, nil
}

// WithClock replaces the time source, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Available() bool {
	return s.client != nil
}

// IsActive reports whether o passes the configured status filters.
func IsActive(o Object, f config.CRMFilters) bool {
	if f.EnableStatusIDFilter && o.StatusID == f.TargetStatusID {
		return true
	}
	return f.EnableStatusNameFilter && slices.Contains(f.TargetStatusNames, o.StatusName)
}

func (s *Service) ttl(kind CacheKind, c config.Cache) time.Duration {
	if kind == CacheAllObjects {
		return c.AllObjectsTTL.Duration
	}
	return c.DailyTTL.Duration
}

func (s *Service) fetch(ctx context.Context, kind CacheKind) ([]Object, error) {
	settings := s.settings.Current()
	if kind == CacheAllObjects {
		return s.client.ListOrders(ctx, settings.Catalog.AllLimit)
	}
	orders, err := s.client.ListOrders(ctx, settings.Catalog.ActiveLimit)
	if err != nil {
		return nil, err
	}
	active := make([]Object, 0, len(orders))
	for _, o := range orders {
		if IsActive(o, settings.CRMFilters) {
			active = append(active, o)
		}
	}
	return active, nil
}

func (s *Service) store(key cacheKey, objects []Object) {
	now := s.now()
	s.cache.Add(key, cacheEntry{objects: objects, fetchedAt: now, expiresAt: now.Add(s.ttl(key.kind, s.settings.Current().Cache))})
}

func (s *Service) objects(ctx context.Context, user dbt.UserID, kind CacheKind, forceRefresh bool) []Object {
	if s.client == nil {
		return nil
	}
	key := cacheKey{user: user, kind: kind}
	entry, cached := s.cache.Get(key)
	now := s.now()
	cacheCfg := s.settings.Current().Cache

	if cached && !forceRefresh && now.Before(entry.expiresAt) {
		stale := now.Sub(entry.fetchedAt) >= cacheCfg.WarningAge.Duration
		if !stale || !cacheCfg.AutoRefreshOnStale {
			return entry.objects
		}
		log.Printf("catalog: auto refreshing stale %s cache of user %d", kind, user)
	}

	s.fetchMu.Lock()
	defer s.fetchMu.Unlock()
	objects, err := s.fetch(ctx, kind)
	if err != nil {
		if cached {
			log.Printf("warning: catalog fetch of %s for user %d failed, serving cache from %s: %v", kind, user, entry.fetchedAt.Format(time.RFC3339), err)
			return entry.objects
		}
		log.Printf("warning: catalog fetch of %s for user %d failed: %v", kind, user, err)
		return nil
	}
	s.store(key, objects)
	return objects
}

// ListActive returns the CRM objects that pass the status filters.
func (s *Service) ListActive(ctx context.Context, user dbt.UserID) []Object {
	return s.objects(ctx, user, CacheDaily, false)
}

// ListAll returns CRM objects without status filtering.
func (s *Service) ListAll(ctx context.Context, user dbt.UserID) []Object {
	return s.objects(ctx, user, CacheAllObjects, false)
}

// Refresh drops the cached listing and fetches it again.
func (s *Service) Refresh(ctx context.Context, user dbt.UserID, kind CacheKind) []Object {
	return s.objects(ctx, user, kind, true)
}

// Combined is the destination menu: static objects first, then active CRM objects.
func (s *Service) Combined(ctx context.Context, user dbt.UserID) []Object {
	return append(Static(), s.ListActive(ctx, user)...)
}

// Find looks id up among static, active and all objects, in that order.
func (s *Service) Find(ctx context.Context, user dbt.UserID, id string) (Object, bool) {
	for _, list := range []func() []Object{
		Static,
		func() []Object { return s.ListActive(ctx, user) },
		func() []Object { return s.ListAll(ctx, user) },
	} {
		for _, o := range list() {
			if o.ID == id {
				return o, true
			}
		}
	}
	return Object{}, false
}

// Invalidate drops the given cache kinds of user, or all of them.
func (s *Service) Invalidate(user dbt.UserID, kinds ...CacheKind) {
	if len(kinds) == 0 {
		kinds = []CacheKind{CacheDaily, CacheAllObjects}
	}
	for _, k := range kinds {
		s.cache.Remove(cacheKey{user: user, kind: k})
	}
}

func (s *Service) CacheInfo(user dbt.UserID, kind CacheKind) (CacheInfo, bool) {
	entry, ok := s.cache.Peek(cacheKey{user: user, kind: kind})
	if !ok {
		return CacheInfo{}, false
	}
	now := s.now()
	expiresIn := int(entry.expiresAt.Sub(now) / time.Minute)
	return CacheInfo{
		User:             user,
		Kind:             kind,
		FetchedAt:        entry.fetchedAt,
		ExpiresAt:        entry.expiresAt,
		AgeMinutes:       int(now.Sub(entry.fetchedAt) / time.Minute),
		ExpiresInMinutes: expiresIn,
		IsExpired:        !now.Before(entry.expiresAt),
		IsStale:          now.Sub(entry.fetchedAt) >= s.settings.Current().Cache.WarningAge.Duration,
		ObjectsCount:     len(entry.objects),
	}, true
}

// Metadata describes where project came from. The explicit external
// reference decides; the cached active listing adds the current status.
func (s *Service) Metadata(ctx context.Context, user dbt.UserID, project dbt.Project) Metadata {
	ref := project.ExternalRef
	if ref == nil || ref.Source == SourceStatic {
		return Metadata{Source: SourceStatic}
	}
	for _, o := range s.ListActive(ctx, user) {
		if o.ID == ref.ID {
			return metadataOf(o)
		}
	}
	return Metadata{Source: ref.Source, CRMID: ref.ID, IDLabel: ref.IDLabel}
}

// ArrivalComment tells the CRM order that userName arrived at at.
func (s *Service) ArrivalComment(ctx context.Context, orderID, userName string, at time.Time) error {
	return s.comment(ctx, orderID, fmt.Sprintf("%s прибыл на объект %s", userName, at.Format("15:04")))
}

func (s *Service) DepartureComment(ctx context.Context, orderID, userName string, at time.Time) error {
	return s.comment(ctx, orderID, fmt.Sprintf("%s уехал с объекта %s", userName, at.Format("15:04")))
}

func (s *Service) comment(ctx context.Context, orderID, text string) error {
	if s.client == nil {
		return fmt.Errorf("catalog: CRM is not configured")
	}
	return s.client.AddComment(ctx, orderID, text)
}
