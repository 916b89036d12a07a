// Package topology tracks the links between switches and keeps the routing
// engine's link graph in step with them.
package topology

import (
	"cmp"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/contiv/libOpenflow/openflow13"
	"github.com/contiv/libOpenflow/util"
	"github.com/encodeous/nyflow/ofconn"
	"github.com/encodeous/nyflow/state"
)

// LinkAware is told about every link that appears or disappears
type LinkAware interface {
	Update(src state.SwitchId, srcPort uint32, dst state.SwitchId, dstPort uint32, added bool)
}

const (
	portReasonDelete = 1
	portReasonModify = 2

	portConfigDown = 1 << 0
	portStateDown  = 1 << 0
)

type linkInfo struct {
	lastSeen time.Time
	static   bool
}

type Topology struct {
	log     *slog.Logger
	timeout time.Duration
	aware   []LinkAware

	// serialises mutations together with their notifications, so aware
	// components see updates in the order they were applied
	opMu sync.Mutex

	mu    sync.RWMutex
	links map[state.Link]linkInfo
	// both ends of every link, for port and switch removal
	ports map[state.SwitchPort]map[state.Link]struct{}
}

func New(log *slog.Logger, timeout time.Duration, aware ...LinkAware) *Topology {
	if log == nil {
		log = slog.Default()
	}
	return &Topology{
		log:     log,
		timeout: timeout,
		aware:   aware,
		links:   make(map[state.Link]linkInfo),
		ports:   make(map[state.SwitchPort]map[state.Link]struct{}),
	}
}

func (t *Topology) notify(l state.Link, added bool) {
	for _, a := range t.aware {
		a.Update(l.Src, l.SrcPort, l.Dst, l.DstPort, added)
	}
}

func (t *Topology) index(l state.Link) {
	for _, end := range []state.SwitchPort{l.SrcEnd(), l.DstEnd()} {
		set, ok := t.ports[end]
		if !ok {
			set = make(map[state.Link]struct{})
			t.ports[end] = set
		}
		set[l] = struct{}{}
	}
}

func (t *Topology) unindex(l state.Link) {
	for _, end := range []state.SwitchPort{l.SrcEnd(), l.DstEnd()} {
		delete(t.ports[end], l)
		if len(t.ports[end]) == 0 {
			delete(t.ports, end)
		}
	}
}

func (t *Topology) upsert(l state.Link, static bool, now time.Time) bool {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.Lock()
	old, exists := t.links[l]
	t.links[l] = linkInfo{lastSeen: now, static: static || old.static}
	// a link on a port that already leads elsewhere replaces the old one
	var replaced []state.Link
	if !exists {
		for other := range t.ports[l.SrcEnd()] {
			if other.SrcEnd() == l.SrcEnd() && other != l {
				replaced = append(replaced, other)
				delete(t.links, other)
				t.unindex(other)
			}
		}
		t.index(l)
	}
	t.mu.Unlock()

	for _, r := range replaced {
		t.log.Debug("link replaced", "old", r, "new", l)
		t.notify(r, false)
	}
	if !exists {
		t.log.Info("link discovered", "link", l)
		t.notify(l, true)
	}
	return !exists
}

// AddOrUpdateLink records a link or refreshes its timestamp. It reports whether the link is new.
func (t *Topology) AddOrUpdateLink(l state.Link) bool {
	return t.upsert(l, false, time.Now())
}

// AddStaticLink records a link that never times out
func (t *Topology) AddStaticLink(l state.Link) bool {
	return t.upsert(l, true, time.Now())
}

// RemoveLinks drops links regardless of their age
func (t *Topology) RemoveLinks(ls ...state.Link) int {
	t.opMu.Lock()
	defer t.opMu.Unlock()
	return t.removeLocked(ls, "removed")
}

// removeLocked must be called with opMu held
func (t *Topology) removeLocked(ls []state.Link, why string) int {
	t.mu.Lock()
	removed := make([]state.Link, 0, len(ls))
	for _, l := range ls {
		if _, ok := t.links[l]; !ok {
			continue
		}
		delete(t.links, l)
		t.unindex(l)
		removed = append(removed, l)
	}
	t.mu.Unlock()

	for _, l := range removed {
		t.log.Info("link "+why, "link", l)
		t.notify(l, false)
	}
	return len(removed)
}

// TimeoutLinks removes every non-static link not refreshed within the timeout
func (t *Topology) TimeoutLinks(now time.Time) int {
	if t.timeout <= 0 {
		return 0
	}
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.RLock()
	var expired []state.Link
	for l, info := range t.links {
		if !info.static && now.Sub(info.lastSeen) > t.timeout {
			expired = append(expired, l)
		}
	}
	t.mu.RUnlock()
	sortLinks(expired)
	return t.removeLocked(expired, "timed out")
}

// PortDown removes every link with an end on the given port
func (t *Topology) PortDown(id state.SwitchId, port uint32) int {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.RLock()
	affected := slices.Collect(maps.Keys(t.ports[state.SwitchPort{Switch: id, Port: port}]))
	t.mu.RUnlock()
	sortLinks(affected)
	return t.removeLocked(affected, "removed by port status")
}

// RemoveSwitch removes every dynamic link touching the switch
func (t *Topology) RemoveSwitch(id state.SwitchId) int {
	t.opMu.Lock()
	defer t.opMu.Unlock()

	t.mu.RLock()
	var affected []state.Link
	for l, info := range t.links {
		if !info.static && (l.Src == id || l.Dst == id) {
			affected = append(affected, l)
		}
	}
	t.mu.RUnlock()
	sortLinks(affected)
	return t.removeLocked(affected, "removed with switch")
}

// IsInternal reports whether a port connects two switches
func (t *Topology) IsInternal(sp state.SwitchPort) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.ports[sp]) != 0
}

// Links returns every known link, sorted
func (t *Topology) Links() []state.Link {
	t.mu.RLock()
	defer t.mu.RUnlock()
	res := slices.Collect(maps.Keys(t.links))
	sortLinks(res)
	return res
}

func sortLinks(ls []state.Link) {
	slices.SortFunc(ls, func(a, b state.Link) int {
		return cmp.Or(
			cmp.Compare(a.Src, b.Src),
			cmp.Compare(a.SrcPort, b.SrcPort),
			cmp.Compare(a.Dst, b.Dst),
			cmp.Compare(a.DstPort, b.DstPort),
		)
	})
}

// Name implements ofconn.MessageListener for PORT_STATUS messages
func (t *Topology) Name() string {
	return "topology"
}

func (t *Topology) Receive(sw *ofconn.Switch, msg util.Message) ofconn.Command {
	if ps, ok := msg.(*openflow13.PortStatus); ok {
		t.portStatus(sw.Id(), ps)
	}
	return ofconn.Continue
}

func (t *Topology) portStatus(id state.SwitchId, ps *openflow13.PortStatus) int {
	down := ps.Desc.Config&portConfigDown != 0 || ps.Desc.State&portStateDown != 0
	if ps.Reason == portReasonDelete || (ps.Reason == portReasonModify && down) {
		return t.PortDown(id, ps.Desc.PortNo)
	}
	return 0
}

func (t *Topology) SwitchAdded(*ofconn.Switch) {}

func (t *Topology) SwitchRemoved(sw *ofconn.Switch) {
	t.RemoveSwitch(sw.Id())
}
