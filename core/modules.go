package core

import (
	"fmt"
	"time"

	"github.com/encodeous/nyflow/apps"
	"github.com/encodeous/nyflow/ofconn"
	"github.com/encodeous/nyflow/routing"
	"github.com/encodeous/nyflow/state"
	"github.com/encodeous/nyflow/topology"
)

// Routing owns the shortest path engine
type Routing struct {
	Engine *routing.Engine
}

func (r *Routing) Init(s *state.State) error {
	s.Log.Debug("init routing engine")
	r.Engine = routing.NewEngine(s.Log.With("module", "routing"), routing.WithCacheSize(s.RouteCacheSize))
	return nil
}

func (r *Routing) Cleanup(s *state.State) error {
	if r.Engine != nil {
		r.Engine.Clear()
	}
	return nil
}

// Topology owns the link table feeding the routing engine
type Topology struct {
	*topology.Topology
}

func (t *Topology) Init(s *state.State) error {
	s.Log.Debug("init topology")
	t.Topology = topology.New(s.Log.With("module", "topology"), s.LinkTimeout, Get[*Routing](s).Engine)
	for _, spec := range s.StaticLinks {
		links, err := state.ParseLinks(spec)
		if err != nil {
			return err
		}
		for _, l := range links {
			t.AddStaticLink(l)
		}
	}
	s.Env.RepeatTask(func(s *state.State) error {
		t.TimeoutLinks(time.Now())
		return nil
	}, state.LinkTimeoutCheck)
	return nil
}

func (t *Topology) Cleanup(s *state.State) error {
	return nil
}

type connectedSwitch struct {
	sw      *ofconn.Switch
	readyAt time.Time
}

// Switches runs the connection manager and the forwarding applications
type Switches struct {
	*state.State
	Controller *ofconn.Controller
	Apps       []apps.App
	Forwarding *apps.Forwarding
	Learning   *apps.LearningSwitch
	// connected and gone are only accessed on the main loop
	connected map[state.SwitchId]connectedSwitch
	gone      map[state.SwitchId]*ofconn.Switch
}

func callbackOrdering(cfg map[string][]string) (map[ofconn.MessageType][]string, error) {
	res := make(map[ofconn.MessageType][]string, len(cfg))
	for name, order := range cfg {
		typ, err := ofconn.ParseMessageType(name)
		if err != nil {
			return nil, err
		}
		res[typ] = order
	}
	return res, nil
}

func (m *Switches) Init(s *state.State) error {
	s.Log.Debug("init switch manager")
	m.State = s
	m.connected = make(map[state.SwitchId]connectedSwitch)
	m.gone = make(map[state.SwitchId]*ofconn.Switch)

	ordering, err := callbackOrdering(s.CallbackOrdering)
	if err != nil {
		return err
	}
	m.Controller = ofconn.NewController(ofconn.Config{
		ListenAddr:       s.ListenAddr,
		Workers:          s.Workers,
		CallbackOrdering: ordering,
		Log:              s.Log.With("module", "ofconn"),
		KeepAlive:        s.KeepAlive,
		DeadThreshold:    s.DeadThreshold,
		ClearFlows:       s.ClearFlows,
	})

	topo := Get[*Topology](s).Topology
	m.Controller.AddListener(ofconn.TypePortStatus, topo)
	m.Controller.AddSwitchListener(topo)
	m.Controller.AddSwitchListener(m)

	for _, name := range s.Apps {
		app, err := m.newApp(name, topo)
		if err != nil {
			return err
		}
		for _, typ := range app.Types() {
			m.Controller.AddListener(typ, app)
		}
		if sl, ok := app.(ofconn.SwitchListener); ok {
			m.Controller.AddSwitchListener(sl)
		}
		m.Apps = append(m.Apps, app)
	}

	if err := m.Controller.Start(); err != nil {
		return err
	}
	s.Log.Info("switch manager started", "apps", s.Apps)
	return nil
}

func (m *Switches) newApp(name string, topo *topology.Topology) (apps.App, error) {
	log := m.Log.With("module", "apps")
	switch name {
	case "routing":
		m.Forwarding = apps.NewForwarding(log, Get[*Routing](m.State).Engine, topo, m.Controller, state.DeviceTableTTL)
		m.Forwarding.IdleTimeout = m.FlowIdleTimeout
		return m.Forwarding, nil
	case "learningswitch":
		m.Learning = apps.NewLearningSwitch(log, state.MacTableTTL, uint64(state.MacTableCapacity))
		m.Learning.IdleTimeout = m.FlowIdleTimeout
		return m.Learning, nil
	case "hub":
		return apps.NewHub(log), nil
	}
	return nil, fmt.Errorf("unknown app %q", name)
}

func (m *Switches) SwitchAdded(sw *ofconn.Switch) {
	m.Dispatch(func(s *state.State) error {
		m.connected[sw.Id()] = connectedSwitch{sw: sw, readyAt: time.Now()}
		delete(m.gone, sw.Id())
		s.Log.Info("switch connected", "switch", sw.Id(), "remote", sw.RemoteAddr(), "session", sw.Session())
		return nil
	})
}

func (m *Switches) SwitchRemoved(sw *ofconn.Switch) {
	m.Dispatch(func(s *state.State) error {
		cur, ok := m.connected[sw.Id()]
		if !ok || cur.sw != sw {
			return nil
		}
		delete(m.connected, sw.Id())
		s.Log.Info("switch disconnected", "switch", sw.Id(), "remote", sw.RemoteAddr(), "session", sw.Session())
		if m.Forwarding != nil {
			m.gone[sw.Id()] = sw
			s.ScheduleTask(m.forgetDevices(sw), s.ForgetDelay)
		}
		return nil
	})
}

// forgetDevices drops the devices behind sw unless the switch has come back since
func (m *Switches) forgetDevices(sw *ofconn.Switch) func(*state.State) error {
	return func(s *state.State) error {
		if m.gone[sw.Id()] != sw {
			return nil
		}
		delete(m.gone, sw.Id())
		m.Forwarding.ForgetSwitch(sw.Id())
		return nil
	}
}

func (m *Switches) Cleanup(s *state.State) error {
	if m.Controller != nil {
		m.Controller.Stop()
	}
	return nil
}
