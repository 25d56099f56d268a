package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/brutella/hap"
	"github.com/brutella/hap/accessory"
)

// restartDelay groups accessory changes that happen close together into a
// single server restart.
const restartDelay = 2 * time.Second

type PlatformConfig struct {
	Dir      string
	Addr     string
	Pin      string
	Name     string
	Firmware string
}

// Platform hosts the accessories in a HAP bridge and persists them between
// runs.
//
// HomeKit only learns about new or removed accessories when it reconnects, so
// the HAP server is restarted every time the accessory set changes.
type Platform struct {
	cfg    PlatformConfig
	cache  *Cache
	store  hap.Store
	bridge *accessory.Bridge

	mu       sync.Mutex
	accs     map[string]*Accessory
	handlers map[string]http.Handler
	changed  chan struct{}
}

var _ Host = &Platform{}

func NewPlatform(cfg PlatformConfig) (*Platform, error) {
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("could not create %s: %w", cfg.Dir, err)
	}
	cache, err := OpenCache(filepath.Join(cfg.Dir, "accessories.db"))
	if err != nil {
		return nil, err
	}
	return &Platform{
		cfg:   cfg,
		cache: cache,
		store: hap.NewFsStore(cfg.Dir),
		bridge: accessory.NewBridge(accessory.Info{
			Name:         cfg.Name,
			Manufacturer: manufacturer,
			Firmware:     cfg.Firmware,
		}),
		accs:     map[string]*Accessory{},
		handlers: map[string]http.Handler{},
		changed:  make(chan struct{}, 1),
	}, nil
}

// Replay calls fn for every cached accessory. Accessories fn fails to
// restore are dropped from the cache.
func (p *Platform) Replay(fn func(rec Record) (*Accessory, error)) error {
	records, err := p.cache.Load()
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, rec := range records {
		a, err := fn(rec)
		if err != nil {
			log.Warn("dropping cached accessory", "uuid", rec.UUID, "err", err)
			if err := p.cache.Delete(rec.UUID); err != nil {
				return err
			}
			continue
		}
		p.accs[a.UUID] = a
	}
	accessoriesGauge.Set(float64(len(p.accs)))
	return nil
}

func (p *Platform) Register(accs []*Accessory) error {
	if len(accs) == 0 {
		return nil
	}
	records, err := recordsOf(accs)
	if err != nil {
		return err
	}
	if err := p.cache.Save(records...); err != nil {
		return err
	}
	p.mu.Lock()
	for _, a := range accs {
		p.accs[a.UUID] = a
	}
	accessoriesGauge.Set(float64(len(p.accs)))
	p.mu.Unlock()
	p.notify()
	return nil
}

func (p *Platform) Unregister(accs []*Accessory) error {
	if len(accs) == 0 {
		return nil
	}
	ids := make([]string, 0, len(accs))
	for _, a := range accs {
		ids = append(ids, a.UUID)
	}
	if err := p.cache.Delete(ids...); err != nil {
		return err
	}
	p.mu.Lock()
	for _, id := range ids {
		delete(p.accs, id)
	}
	accessoriesGauge.Set(float64(len(p.accs)))
	p.mu.Unlock()
	p.notify()
	return nil
}

func (p *Platform) Update(accs []*Accessory) error {
	records, err := recordsOf(accs)
	if err != nil {
		return err
	}
	if err := p.cache.Save(records...); err != nil {
		return err
	}
	p.notify()
	return nil
}

// Accessories returns the registered accessories, ordered by id.
func (p *Platform) Accessories() []*Accessory {
	p.mu.Lock()
	defer p.mu.Unlock()
	result := make([]*Accessory, 0, len(p.accs))
	for _, a := range p.accs {
		result = append(result, a)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Id < result[j].Id
	})
	return result
}

// Handle mounts an extra handler in the HAP server.
func (p *Platform) Handle(pattern string, h http.Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[pattern] = h
}

// Serve runs the HAP server until ctx is done.
func (p *Platform) Serve(ctx context.Context) error {
	for {
		select {
		case <-p.changed:
		default:
		}

		server, err := p.server()
		if err != nil {
			return err
		}

		sctx, cancel := context.WithCancel(ctx)
		done := make(chan error, 1)
		go func() {
			log.Info("starting server", "addr", server.Addr, "accessories", len(p.Accessories()))
			done <- server.ListenAndServe(sctx)
		}()

		select {
		case <-ctx.Done():
			cancel()
			return ignoreClosed(<-done)
		case err := <-done:
			cancel()
			return ignoreClosed(err)
		case <-p.changed:
			select {
			case <-time.After(restartDelay):
			case <-ctx.Done():
			}
			log.Info("accessories changed, restarting server")
			restartCounter.Inc()
			cancel()
			if err := ignoreClosed(<-done); err != nil {
				return err
			}
			if ctx.Err() != nil {
				return nil
			}
		}
	}
}

// Close persists every accessory and closes the cache.
func (p *Platform) Close() error {
	records, err := recordsOf(p.Accessories())
	if err != nil {
		return errors.Join(err, p.cache.Close())
	}
	return errors.Join(p.cache.Save(records...), p.cache.Close())
}

func (p *Platform) server() (*hap.Server, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	accs := make([]*Accessory, 0, len(p.accs))
	for _, a := range p.accs {
		accs = append(accs, a)
	}
	sort.Slice(accs, func(i, j int) bool {
		return accs[i].Id < accs[j].Id
	})
	as := make([]*accessory.A, 0, len(accs))
	for _, a := range accs {
		as = append(as, a.A)
	}

	server, err := hap.NewServer(p.store, p.bridge.A, as...)
	if err != nil {
		return nil, fmt.Errorf("could not create server: %w", err)
	}
	server.Addr = p.cfg.Addr
	server.Pin = p.cfg.Pin
	for pattern, h := range p.handlers {
		server.ServeMux().Handle(pattern, h)
	}
	return server, nil
}

func (p *Platform) notify() {
	select {
	case p.changed <- struct{}{}:
	default:
	}
}

func recordsOf(accs []*Accessory) ([]Record, error) {
	records := make([]Record, 0, len(accs))
	for _, a := range accs {
		rec, err := a.Record()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

func ignoreClosed(err error) error {
	if err == nil || errors.Is(err, http.ErrServerClosed) || errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
