package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/brutella/hap/service"
	"github.com/caarlos0/homekit-scout/capability"
)

// Host registers accessories with the HomeKit bridge.
type Host interface {
	Register(accs []*Accessory) error
	Unregister(accs []*Accessory) error
	// Update is called when the services of registered accessories change.
	Update(accs []*Accessory) error
}

// CapabilitySet is the part of a Set the Reconciler works with.
type CapabilitySet interface {
	Name() string
	// Candidates fetches the entities of a location and builds a fully
	// configured accessory for each of them. Candidates receive live events
	// right away.
	Candidates(ctx context.Context, locationID string) ([]*Accessory, error)
	// Restore rebuilds an accessory from its cached record.
	Restore(rec Record) (*Accessory, error)
	// Adopt moves the context of a candidate into a previously known
	// accessory, reconfigures it, and sends the candidate's live events to it
	// from then on.
	Adopt(existing, candidate *Accessory) error
	// Ready enables creating accessories for entities first seen in live
	// events.
	Ready()
}

// Entity is a Scout entity an accessory is built from.
type Entity[T any] struct {
	ID       string
	Info     accessory.Info
	Hardware string
	Custom   T
}

// Set builds and updates the accessories of one kind of Scout entity from a
// list of capability factories.
type Set[T any] struct {
	name      string
	factories []capability.Factory[T]
	newA      func(info accessory.Info) *accessory.A
	discover  func(ctx context.Context, locationID string) ([]Entity[T], error)
	identify  func(ctx capability.Context[T])
	connected func() bool
	host      Host

	mu    sync.Mutex
	accs  map[string]*Accessory
	ready bool
}

var _ CapabilitySet = &Set[capability.HubState]{}

func (s *Set[T]) Name() string {
	return s.name
}

func (s *Set[T]) Candidates(ctx context.Context, locationID string) ([]*Accessory, error) {
	entities, err := s.discover(ctx, locationID)
	if err != nil {
		return nil, fmt.Errorf("could not discover %s: %w", s.name, err)
	}
	result := make([]*Accessory, 0, len(entities))
	for _, e := range entities {
		a, err := s.build(locationID, e)
		if err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, nil
}

func (s *Set[T]) Restore(rec Record) (*Accessory, error) {
	var ctx capability.Context[T]
	if err := json.Unmarshal(rec.Context, &ctx); err != nil {
		return nil, fmt.Errorf("could not decode context of %s: %w", rec.UUID, err)
	}
	ctx.IsConnected = false
	a := s.newAccessory(rec.UUID, rec.ID, rec.info(), rec.Info.Hardware, &ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.configure(a); err != nil {
		log.Warn("could not configure cached accessory", "uuid", rec.UUID, "name", rec.Info.Name, "err", err)
	}
	return a, nil
}

func (s *Set[T]) Adopt(existing, candidate *Accessory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fresh capability.Context[T]
	handle[T]{candidate}.View(func(ctx *capability.Context[T]) {
		fresh = *ctx
	})
	handle[T]{existing}.Update(func(ctx *capability.Context[T]) {
		*ctx = fresh
	})
	existing.setInfo(candidate.Info, candidate.Hardware)
	s.accs[existing.UUID] = existing
	_, err := s.configure(existing)
	return err
}

func (s *Set[T]) Ready() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = true
}

func (s *Set[T]) isReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

func (s *Set[T]) lookup(externalID string) (*Accessory, bool) {
	id, _ := Identify(externalID)
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accs[id]
	return a, ok
}

func (s *Set[T]) forget(a *Accessory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.accs, a.UUID)
}

// build creates and tracks the accessory of an entity. The connection state
// is read under s.mu so a connection event either is already reflected in it
// or finds the accessory tracked.
func (s *Set[T]) build(locationID string, e Entity[T]) (*Accessory, error) {
	id, aid := Identify(e.ID)
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.newAccessory(id, aid, e.Info, e.Hardware, &capability.Context[T]{
		LocationID:  locationID,
		Custom:      e.Custom,
		IsConnected: s.connected(),
	})
	if _, err := s.configure(a); err != nil {
		return nil, err
	}
	s.accs[a.UUID] = a
	return a, nil
}

func (s *Set[T]) newAccessory(id string, aid uint64, info accessory.Info, hardware string, ctx *capability.Context[T]) *Accessory {
	a := &Accessory{
		A:        s.newA(info),
		UUID:     id,
		Set:      s.name,
		context:  ctx,
		services: map[string]*capability.Service{},
	}
	a.Id = aid
	a.setInfo(info, hardware)
	if s.identify != nil {
		a.A.Info.Identify.OnValueRemoteUpdate(func(bool) {
			var ctx capability.Context[T]
			handle[T]{a}.View(func(c *capability.Context[T]) {
				ctx = *c
			})
			s.identify(ctx)
		})
	}
	return a
}

// update applies fn to the context of the accessory of an entity and pushes
// the new values. It reports whether such accessory is tracked.
func (s *Set[T]) update(externalID string, fn func(ctx *capability.Context[T])) bool {
	a, ok := s.lookup(externalID)
	if !ok {
		return false
	}
	s.apply([]*Accessory{a}, fn)
	return true
}

// updateAll applies fn to every tracked accessory matching match, or all of
// them if match is nil.
func (s *Set[T]) updateAll(match func(ctx *capability.Context[T]) bool, fn func(ctx *capability.Context[T])) {
	s.mu.Lock()
	var accs []*Accessory
	for _, a := range s.accs {
		ok := match == nil
		if match != nil {
			handle[T]{a}.View(func(ctx *capability.Context[T]) {
				ok = match(ctx)
			})
		}
		if ok {
			accs = append(accs, a)
		}
	}
	s.mu.Unlock()
	s.apply(accs, fn)
}

// apply runs fn on the accessories currently tracked under the uuids of accs.
// Service changes are only reported to the host once the set is ready, before
// that the reconciler registers the accessories as they are.
func (s *Set[T]) apply(accs []*Accessory, fn func(ctx *capability.Context[T])) {
	var changed []*Accessory
	s.mu.Lock()
	for _, a := range accs {
		current, ok := s.accs[a.UUID]
		if !ok {
			continue
		}
		handle[T]{current}.Update(fn)
		ok, err := s.configure(current)
		if err != nil {
			log.Error("could not update accessory", "name", current.Name(), "err", err)
			continue
		}
		if ok {
			changed = append(changed, current)
		}
	}
	ready := s.ready
	s.mu.Unlock()
	if len(changed) == 0 || !ready {
		return
	}
	if err := s.host.Update(changed); err != nil {
		log.Error("could not update accessories", "set", s.name, "err", err)
	}
}

// configure attaches the services that apply, removes the ones that no
// longer do, and pushes the current values of all of them. It reports
// whether services were added or removed. Callers must hold s.mu.
func (s *Set[T]) configure(a *Accessory) (bool, error) {
	h := handle[T]{a}
	var changed bool
	for _, f := range s.factories {
		spec := f.Spec()
		var applies bool
		var err error
		h.View(func(ctx *capability.Context[T]) {
			applies, err = f.AppliesTo(ctx)
		})
		if err != nil {
			return changed, fmt.Errorf("%s: %w", a.Name(), err)
		}

		svc, attached := a.services[spec.Type]
		switch {
		case !applies && attached:
			log.Info("removing service", "accessory", a.Name(), "service", spec.Type)
			detach(a, svc)
			changed = true
			continue
		case !applies:
			continue
		case !attached:
			svc = attach(a, f, h)
			changed = true
		}
		refresh(a, f, svc, h)
	}
	return changed, nil
}

func attach[T any](a *Accessory, f capability.Factory[T], h handle[T]) *capability.Service {
	spec := f.Spec()
	svc := capability.NewService(spec)
	for _, typ := range spec.Characteristics {
		c := svc.Characteristic(typ)
		if c == nil {
			continue
		}
		c.ValueRequestFunc = func(*http.Request) (interface{}, int) {
			var values capability.Values
			var err error
			h.View(func(ctx *capability.Context[T]) {
				values, err = f.Characteristics(ctx)
			})
			if err != nil {
				log.Error("could not read characteristic", "accessory", a.Name(), "characteristic", typ, "err", err)
				characteristicErrorCounter.Inc()
				return nil, hap.JsonStatusResourceBusy
			}
			if v, ok := values[typ]; ok {
				return v, hap.JsonStatusSuccess
			}
			return c.Current(), hap.JsonStatusSuccess
		}
	}
	if configurer, ok := f.(capability.Configurer[T]); ok {
		configurer.Configure(svc, h)
	}
	a.mu.Lock()
	a.AddS(svc.S)
	a.services[spec.Type] = svc
	a.mu.Unlock()
	return svc
}

func detach(a *Accessory, svc *capability.Service) {
	a.mu.Lock()
	defer a.mu.Unlock()
	ss := make([]*service.S, 0, len(a.Ss))
	for _, s := range a.Ss {
		if s != svc.S {
			ss = append(ss, s)
		}
	}
	a.Ss = ss
	delete(a.services, svc.Type)
}

func refresh[T any](a *Accessory, f capability.Factory[T], svc *capability.Service, h handle[T]) {
	var values capability.Values
	var err error
	h.View(func(ctx *capability.Context[T]) {
		values, err = f.Characteristics(ctx)
	})
	if err != nil {
		log.Error("could not compute characteristics", "accessory", a.Name(), "service", svc.Type, "err", err)
		characteristicErrorCounter.Inc()
		return
	}
	svc.Update(values)
	if state, ok := values[characteristic.TypeSecuritySystemCurrentState].(int); ok {
		securityStateGauge.Set(float64(state))
	}
}
