// Package bridge builds HomeKit accessories from Scout entities and keeps
// them in sync with the Scout cloud.
package bridge

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/brutella/hap/accessory"
	"github.com/brutella/hap/characteristic"
	"github.com/caarlos0/homekit-scout/capability"
	logp "github.com/charmbracelet/log"
	"github.com/google/uuid"
)

var log = logp.NewWithOptions(os.Stderr, logp.Options{
	ReportTimestamp: true,
	TimeFormat:      time.Kitchen,
	Prefix:          "bridge",
})

const manufacturer = "Scout"

// namespace of accessory UUIDs, must never change or every accessory would be
// recreated on the next start.
var namespace = uuid.MustParse("4f1c2a6e-6f2e-5d8b-9c3a-0b7e5d3f8a11")

// Identify derives the accessory UUID and HAP accessory id from the id of a
// Scout entity. Id 1 is the bridge itself.
func Identify(externalID string) (string, uint64) {
	u := uuid.NewSHA1(namespace, []byte(externalID))
	return u.String(), uint64(binary.BigEndian.Uint32(u[:4])) + 2
}

// Accessory is a HAP accessory backed by a Scout entity.
type Accessory struct {
	*accessory.A
	UUID     string
	Set      string
	Info     accessory.Info
	Hardware string

	hardware *characteristic.HardwareRevision
	mu       sync.RWMutex
	context  any
	services map[string]*capability.Service
}

// Name of the accessory.
func (a *Accessory) Name() string {
	return a.Info.Name
}

// setInfo replaces the accessory information, including the values of the
// information service HomeKit reads.
func (a *Accessory) setInfo(info accessory.Info, hardware string) {
	a.Info = info
	a.Hardware = hardware
	a.A.Info.Name.SetValue(info.Name)
	a.A.Info.Manufacturer.SetValue(info.Manufacturer)
	a.A.Info.Model.SetValue(info.Model)
	a.A.Info.SerialNumber.SetValue(info.SerialNumber)
	a.A.Info.FirmwareRevision.SetValue(info.Firmware)
	if hardware == "" {
		return
	}
	if a.hardware == nil {
		a.hardware = characteristic.NewHardwareRevision()
		a.A.Info.AddC(a.hardware.C)
	}
	a.hardware.SetValue(hardware)
}

// Services currently attached, by HAP service type.
func (a *Accessory) Services() map[string]*capability.Service {
	a.mu.RLock()
	defer a.mu.RUnlock()
	result := make(map[string]*capability.Service, len(a.services))
	for typ, svc := range a.services {
		result[typ] = svc
	}
	return result
}

// Record is the persisted form of an accessory.
type Record struct {
	UUID    string          `json:"uuid"`
	ID      uint64          `json:"id"`
	Set     string          `json:"set"`
	Info    RecordInfo      `json:"info"`
	Context json.RawMessage `json:"context"`
}

type RecordInfo struct {
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
	SerialNumber string `json:"serialNumber"`
	Firmware     string `json:"firmware"`
	Hardware     string `json:"hardware,omitempty"`
}

func (a *Accessory) Record() (Record, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	bts, err := json.Marshal(a.context)
	if err != nil {
		return Record{}, fmt.Errorf("could not encode context of %s: %w", a.UUID, err)
	}
	return Record{
		UUID: a.UUID,
		ID:   a.Id,
		Set:  a.Set,
		Info: RecordInfo{
			Name:         a.Info.Name,
			Manufacturer: a.Info.Manufacturer,
			Model:        a.Info.Model,
			SerialNumber: a.Info.SerialNumber,
			Firmware:     a.Info.Firmware,
			Hardware:     a.Hardware,
		},
		Context: bts,
	}, nil
}

func (r Record) info() accessory.Info {
	return accessory.Info{
		Name:         r.Info.Name,
		Manufacturer: r.Info.Manufacturer,
		Model:        r.Info.Model,
		SerialNumber: r.Info.SerialNumber,
		Firmware:     r.Info.Firmware,
	}
}

// handle gives capabilities synchronized access to an accessory context.
type handle[T any] struct {
	a *Accessory
}

func (h handle[T]) View(fn func(ctx *capability.Context[T])) {
	h.a.mu.RLock()
	defer h.a.mu.RUnlock()
	fn(h.a.context.(*capability.Context[T]))
}

func (h handle[T]) Update(fn func(ctx *capability.Context[T])) {
	h.a.mu.Lock()
	defer h.a.mu.Unlock()
	fn(h.a.context.(*capability.Context[T]))
}
