// Package ofconn accepts switch connections, drives them through the
// OpenFlow handshake and dispatches their messages to ordered listener chains.
package ofconn

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/netip"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/encodeous/nyflow/perf"
	"github.com/encodeous/nyflow/state"
)

type Config struct {
	ListenAddr netip.AddrPort
	Workers    int
	// CallbackOrdering fixes the dispatch order for a message type. Listeners
	// registered for that type but not named here are never invoked.
	CallbackOrdering map[MessageType][]string
	Codec            Codec
	Sharder          Sharder
	Log              *slog.Logger

	// KeepAlive and DeadThreshold drive liveness checks, zero or negative disables them
	KeepAlive         time.Duration
	DeadThreshold     time.Duration
	PollTimeout       time.Duration
	RequirementsDelay time.Duration
	// ClearFlows deletes every flow on a switch when it says hello
	ClearFlows bool
}

func (cfg *Config) expand() {
	if !cfg.ListenAddr.IsValid() {
		cfg.ListenAddr = netip.MustParseAddrPort(state.DefaultListenAddr)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.Codec == nil {
		cfg.Codec = OF13Codec{}
	}
	if cfg.Sharder == nil {
		cfg.Sharder = ModuloSharder
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = state.PollTimeout
	}
	if cfg.RequirementsDelay <= 0 {
		cfg.RequirementsDelay = state.SwitchRequirementsDelay
	}
}

// Controller is the switch connection manager: one listen loop plus a fixed
// pool of worker loops, each owning a disjoint set of switches.
type Controller struct {
	cfg       Config
	log       *slog.Logger
	listeners *listenerTable

	mu              sync.RWMutex
	switches        map[state.SwitchId]*Switch
	switchListeners []SwitchListener
	updates         *updateQueue

	workers      []*worker
	listenFd     int
	listenPoller *poller
	addr         netip.AddrPort
	seq          atomic.Uint64
	listening    sync.WaitGroup
	loops        sync.WaitGroup

	lifecycle sync.Mutex
	started   atomic.Bool
	stopping  atomic.Bool
}

func NewController(cfg Config) *Controller {
	cfg.expand()
	c := &Controller{
		cfg:       cfg,
		log:       cfg.Log,
		listeners: newListenerTable(cfg.CallbackOrdering),
		switches:  make(map[state.SwitchId]*Switch),
		listenFd:  -1,
	}
	c.updates = newUpdateQueue(c.log)
	return c
}

// Start binds the listen socket and starts the listen loop and every worker loop.
// A stopped controller cannot be started again.
func (c *Controller) Start() error {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.stopping.Load() {
		return ErrControllerStopped
	}
	if c.started.Load() {
		return errors.New("controller already started")
	}
	if err := c.start(); err != nil {
		return err
	}
	c.started.Store(true)
	return nil
}

func (c *Controller) start() error {
	lfd, addr, err := listenTCP(c.cfg.ListenAddr)
	if err != nil {
		return err
	}
	cleanup := func() {
		closeFd(lfd)
		if c.listenPoller != nil {
			c.listenPoller.close()
		}
		for _, w := range c.workers {
			w.poller.close()
		}
		c.workers = nil
	}

	c.listenPoller, err = newPoller()
	if err != nil {
		cleanup()
		return err
	}
	if err := c.listenPoller.add(lfd, readable); err != nil {
		cleanup()
		return err
	}
	for i := range c.cfg.Workers {
		p, err := newPoller()
		if err != nil {
			cleanup()
			return fmt.Errorf("worker %d: %w", i, err)
		}
		c.workers = append(c.workers, newWorker(c, i, p))
	}
	c.listenFd, c.addr = lfd, addr

	c.listening.Add(1)
	c.loops.Add(len(c.workers))
	go c.listenLoop()
	for _, w := range c.workers {
		go w.run()
	}
	c.updates.start()
	c.log.Info("listening for switches", "addr", addr, "workers", len(c.workers))
	return nil
}

// Addr is the bound listen address, valid after Start
func (c *Controller) Addr() netip.AddrPort {
	return c.addr
}

// Stop closes the listen socket and every switch connection, and returns once all loops have exited
func (c *Controller) Stop() {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if !c.stopping.CompareAndSwap(false, true) || !c.started.Load() {
		return
	}
	_ = c.listenPoller.wake()
	// every accepted switch must reach a worker before the workers shut down
	c.listening.Wait()
	for _, w := range c.workers {
		w.stop()
	}
	c.loops.Wait()
	c.updates.stop()
	c.log.Info("controller stopped")
}

func (c *Controller) listenLoop() {
	defer c.listening.Done()
	for !c.stopping.Load() {
		err := c.listenPoller.wait(c.cfg.PollTimeout, func(fd int, ready interest) {
			if fd == c.listenFd {
				c.acceptAll()
			}
		})
		if err != nil {
			c.log.Error("listen loop failed", "error", err)
			break
		}
	}
	if err := c.listenPoller.remove(c.listenFd); err != nil {
		c.log.Debug("failed to unregister listen socket", "error", err)
	}
	closeFd(c.listenFd)
	c.listenPoller.close()
}

func (c *Controller) acceptAll() {
	for !c.stopping.Load() {
		fd, remote, ok, err := accept(c.listenFd)
		if err != nil {
			c.log.Warn("failed to accept switch connection", "error", err)
			return
		}
		if !ok {
			return
		}
		c.accepted(fd, remote)
	}
}

func (c *Controller) accepted(fd int, remote netip.AddrPort) {
	seq := c.seq.Add(1) - 1
	idx := c.cfg.Sharder(seq, len(c.workers)) % len(c.workers)
	w := c.workers[idx]
	sw := newSwitch(c, w, fd, seq, remote)

	hello := newHeaderMsg(sw.Version(), TypeHello, sw.NextXid())
	featuresReq := newHeaderMsg(sw.Version(), TypeFeaturesRequest, sw.NextXid())
	if err := sw.Write(hello, featuresReq); err != nil {
		c.log.Warn("failed to queue handshake", "remote", remote, "error", err)
		closeFd(fd)
		return
	}
	perf.Connections.Add(1)
	c.log.Debug("accepted switch connection", "remote", remote, "worker", idx, "session", sw.session)
	w.register(sw)
}

// AddListener appends l to the dispatch chain of typ. Adding the same listener twice has no effect.
func (c *Controller) AddListener(typ MessageType, l MessageListener) {
	c.listeners.add(typ, l)
}

func (c *Controller) RemoveListener(typ MessageType, l MessageListener) {
	c.listeners.remove(typ, l)
}

// Listeners returns the dispatch chain for typ
func (c *Controller) Listeners(typ MessageType) []MessageListener {
	ls, _ := c.listeners.get(typ)
	return slices.Clone(ls)
}

func (c *Controller) AddSwitchListener(l SwitchListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Contains(c.switchListeners, l) {
		c.switchListeners = append(c.switchListeners, l)
	}
}

func (c *Controller) RemoveSwitchListener(l SwitchListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.switchListeners = slices.DeleteFunc(c.switchListeners, func(x SwitchListener) bool {
		return x == l
	})
}

// Switch looks up a connected switch that completed its handshake
func (c *Controller) Switch(id state.SwitchId) (*Switch, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	sw, ok := c.switches[id]
	return sw, ok
}

// Switches returns every handshaken switch, ordered by id
func (c *Controller) Switches() []*Switch {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res := make([]*Switch, 0, len(c.switches))
	for _, id := range slices.Sorted(maps.Keys(c.switches)) {
		res = append(res, c.switches[id])
	}
	return res
}

// switchReady indexes a switch after its features reply and notifies switch listeners
func (c *Controller) switchReady(sw *Switch) {
	c.mu.Lock()
	old, replaced := c.switches[sw.Id()]
	c.switches[sw.Id()] = sw
	listeners := slices.Clone(c.switchListeners)
	c.mu.Unlock()

	perf.Switches.Add(1)
	if replaced && old != sw {
		c.log.Warn("switch reconnected, dropping the previous session", "switch", sw.Id(), "old", old.session, "new", sw.session)
		old.worker.requestClose(old, ErrReplacedByNewSession)
		perf.Switches.Add(-1)
	}
	c.log.Info("switch connected", "switch", sw.Id(), "remote", sw.remote, "worker", sw.worker.idx)
	c.updates.push(func() {
		for _, l := range listeners {
			l.SwitchAdded(sw)
		}
	})
}

// switchClosed removes a torn down switch from the index, unless a newer session already replaced it
func (c *Controller) switchClosed(sw *Switch, reason error) {
	perf.Connections.Add(-1)
	if !sw.HasId() {
		c.log.Debug("switch disconnected during handshake", "remote", sw.remote, "reason", reason)
		return
	}
	c.mu.Lock()
	cur, ok := c.switches[sw.Id()]
	removed := ok && cur == sw
	if removed {
		delete(c.switches, sw.Id())
	}
	listeners := slices.Clone(c.switchListeners)
	c.mu.Unlock()

	if !removed {
		return
	}
	perf.Switches.Add(-1)
	c.log.Info("switch disconnected", "switch", sw.Id(), "reason", reason)
	c.updates.push(func() {
		for _, l := range listeners {
			l.SwitchRemoved(sw)
		}
	})
}
