package apps

import (
	"net"
	"time"

	"github.com/encodeous/nyflow/state"
	"github.com/jellydator/ttlcache/v3"
)

// DeviceTable maps host MAC addresses to the edge port they were last seen on.
// Entries expire when a host stays silent for the table's ttl.
type DeviceTable struct {
	cache *ttlcache.Cache[string, state.SwitchPort]
}

func NewDeviceTable(ttl time.Duration, capacity uint64) *DeviceTable {
	return &DeviceTable{
		cache: ttlcache.New[string, state.SwitchPort](
			ttlcache.WithTTL[string, state.SwitchPort](ttl),
			ttlcache.WithCapacity[string, state.SwitchPort](capacity),
			ttlcache.WithDisableTouchOnHit[string, state.SwitchPort](),
		),
	}
}

// Learn records the attachment point of mac. It returns the previous point
// when the device has moved.
func (d *DeviceTable) Learn(mac net.HardwareAddr, at state.SwitchPort) (state.SwitchPort, bool) {
	key := mac.String()
	prev := d.cache.Get(key)
	d.cache.Set(key, at, ttlcache.DefaultTTL)
	if prev != nil && prev.Value() != at {
		return prev.Value(), true
	}
	return state.SwitchPort{}, false
}

func (d *DeviceTable) Lookup(mac net.HardwareAddr) (state.SwitchPort, bool) {
	item := d.cache.Get(mac.String())
	if item == nil {
		return state.SwitchPort{}, false
	}
	return item.Value(), true
}

// ForgetSwitch drops every device attached to the switch
func (d *DeviceTable) ForgetSwitch(id state.SwitchId) int {
	n := 0
	for key, item := range d.cache.Items() {
		if item.Value().Switch == id {
			d.cache.Delete(key)
			n++
		}
	}
	return n
}

// Devices returns a snapshot of the live entries keyed by MAC
func (d *DeviceTable) Devices() map[string]state.SwitchPort {
	res := make(map[string]state.SwitchPort)
	for key, item := range d.cache.Items() {
		if !item.IsExpired() {
			res[key] = item.Value()
		}
	}
	return res
}

func (d *DeviceTable) Len() int {
	return len(d.Devices())
}
