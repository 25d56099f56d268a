package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/caarlos0/homekit-scout"
)

var (
	ErrNoLocation        = errors.New("no location found")
	ErrAmbiguousLocation = errors.New("more than one location found")
	ErrAlreadyRan        = errors.New("reconciler already ran")
)

// LocationAPI is the part of the Scout API used to pick the location.
type LocationAPI interface {
	MemberID(ctx context.Context) (string, error)
	Locations(ctx context.Context, memberID string) ([]scout.Location, error)
}

// Listener is the realtime connection accessories are kept in sync with.
type Listener interface {
	Connect(ctx context.Context)
	AddLocation(ctx context.Context, locationID string) error
}

// Reconciler matches the accessories known from a previous run against the
// entities Scout currently has, and registers or unregisters the difference.
type Reconciler struct {
	api      LocationAPI
	listener Listener
	host     Host
	location string
	sets     []CapabilitySet

	mu     sync.Mutex
	cached map[string]*Accessory
	ran    bool
}

// NewReconciler creates a reconciler. location is the name of the Scout
// location to use, which may be empty when the member has only one.
func NewReconciler(api LocationAPI, listener Listener, host Host, location string, sets ...CapabilitySet) *Reconciler {
	return &Reconciler{
		api:      api,
		listener: listener,
		host:     host,
		location: location,
		sets:     sets,
		cached:   map[string]*Accessory{},
	}
}

// Restore rebuilds an accessory from a previous run. It must be called for
// every cached accessory before Run.
func (r *Reconciler) Restore(rec Record) (*Accessory, error) {
	for _, set := range r.sets {
		if set.Name() != rec.Set {
			continue
		}
		a, err := set.Restore(rec)
		if err != nil {
			return nil, err
		}
		log.Info("discovered cached accessory", "uuid", rec.UUID, "name", rec.Info.Name)
		r.mu.Lock()
		defer r.mu.Unlock()
		r.cached[a.UUID] = a
		return a, nil
	}
	return nil, fmt.Errorf("unknown accessory set %q for %s", rec.Set, rec.UUID)
}

// Run resolves the location, connects to realtime events and reconciles the
// accessories. It can only run once.
func (r *Reconciler) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.ran {
		r.mu.Unlock()
		return ErrAlreadyRan
	}
	r.ran = true
	r.mu.Unlock()

	location, err := r.chooseLocation(ctx)
	if err != nil {
		return err
	}
	log.Info("using location", "name", location.Name, "id", location.ID)

	r.listener.Connect(ctx)
	if err := r.listener.AddLocation(ctx, location.ID); err != nil {
		return fmt.Errorf("could not listen to location events: %w", err)
	}

	return r.reconcile(ctx, location.ID)
}

func (r *Reconciler) chooseLocation(ctx context.Context) (scout.Location, error) {
	memberID, err := r.api.MemberID(ctx)
	if err != nil {
		return scout.Location{}, fmt.Errorf("could not get member: %w", err)
	}
	locations, err := r.api.Locations(ctx, memberID)
	if err != nil {
		return scout.Location{}, fmt.Errorf("could not get locations: %w", err)
	}
	log.Debug("got locations", "count", len(locations))

	for _, location := range locations {
		for _, id := range location.AdminIDs {
			if id == memberID {
				log.Warn("the authenticated member is an admin, it is highly recommended to use a non-admin member", "member", memberID)
			}
		}
	}

	if len(locations) == 0 {
		return scout.Location{}, ErrNoLocation
	}

	if r.location != "" {
		for _, location := range locations {
			if location.Name == r.location {
				return location, nil
			}
		}
		return scout.Location{}, fmt.Errorf("%w: %q", ErrNoLocation, r.location)
	}

	if len(locations) > 1 {
		names := make([]string, 0, len(locations))
		for _, location := range locations {
			names = append(names, location.Name)
		}
		return scout.Location{}, fmt.Errorf("%w, configure one of: %s", ErrAmbiguousLocation, strings.Join(names, ", "))
	}
	return locations[0], nil
}

func (r *Reconciler) reconcile(ctx context.Context, locationID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var fresh []*Accessory
	for _, set := range r.sets {
		candidates, err := set.Candidates(ctx, locationID)
		if err != nil {
			return err
		}
		for _, candidate := range candidates {
			cached, ok := r.cached[candidate.UUID]
			if !ok {
				log.Info("creating new accessory", "uuid", candidate.UUID, "name", candidate.Name())
				fresh = append(fresh, candidate)
				continue
			}
			log.Info("using cached accessory", "uuid", cached.UUID, "name", candidate.Name())
			delete(r.cached, candidate.UUID)
			if err := set.Adopt(cached, candidate); err != nil {
				return err
			}
		}
	}

	stale := make([]*Accessory, 0, len(r.cached))
	for _, a := range r.cached {
		stale = append(stale, a)
	}

	log.Info("registering new accessories", "count", len(fresh), "uuids", uuids(fresh))
	if err := r.host.Register(fresh); err != nil {
		return fmt.Errorf("could not register accessories: %w", err)
	}

	if len(stale) > 0 {
		log.Info("removing old cached accessories", "count", len(stale), "uuids", uuids(stale))
		if err := r.host.Unregister(stale); err != nil {
			return fmt.Errorf("could not unregister accessories: %w", err)
		}
	}
	clear(r.cached)

	for _, set := range r.sets {
		set.Ready()
	}
	return nil
}

func uuids(accs []*Accessory) string {
	ids := make([]string, 0, len(accs))
	for _, a := range accs {
		ids = append(ids, a.UUID)
	}
	return strings.Join(ids, ", ")
}
