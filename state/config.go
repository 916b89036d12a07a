package state

import (
	"net/netip"
	"runtime"
	"time"
)

var (
	ConfigPath        = "nyflow.yaml"
	DefaultConfigPath = "nyflow.yaml"
	DefaultApps       = []string{"routing", "learningswitch"}
)

// ControllerCfg represents the controller configuration
type ControllerCfg struct {
	Id               string              `yaml:"id,omitempty"`                     // name of this controller, used as the log prefix
	ListenAddr       netip.AddrPort      `yaml:"listen_addr"`                      // address switches connect to
	Workers          int                 `yaml:"workers,omitempty"`                // number of worker event loops, defaults to the number of cpus
	Apps             []string            `yaml:"apps,omitempty"`                   // forwarding applications to load: routing, learningswitch, hub
	CallbackOrdering map[string][]string `yaml:"callback_ordering,omitempty"`      // message type -> exact listener order
	RouteCacheSize   int                 `yaml:"route_cache_size,omitempty"`       // number of routes kept in the lru route cache
	LinkTimeout      time.Duration       `yaml:"link_timeout,omitempty"`           // links not refreshed within this time are removed
	KeepAlive        time.Duration       `yaml:"keepalive_interval,omitempty"`     // idle switches are sent an echo request after this time, negative disables
	DeadThreshold    time.Duration       `yaml:"dead_threshold,omitempty"`         // idle switches are disconnected after this time, negative disables
	ClearFlows       bool                `yaml:"clear_flows_on_connect,omitempty"` // delete all flows when a switch says hello
	FlowIdleTimeout  uint16              `yaml:"flow_idle_timeout,omitempty"`      // idle timeout of flows installed by the applications, in seconds
	LogPath          string              `yaml:"log_path,omitempty"`               // if not empty, logs are also written to this file
	StaticLinks      []string            `yaml:"static_links,omitempty"`           // links that are always present, e.g. "1/2 <-> 2/1"
	AdminSocket      string              `yaml:"admin_socket,omitempty"`           // unix socket serving inspect requests
	MetricsAddr      string              `yaml:"metrics_addr,omitempty"`           // if not empty, expvar metrics are served on this address
	ForgetDelay      time.Duration       `yaml:"device_forget_delay,omitempty"`    // devices behind a disconnected switch are kept this long, negative forgets at once
}

func DefaultConfig() ControllerCfg {
	cfg := ControllerCfg{
		Id:          "nyflow",
		ListenAddr:  netip.MustParseAddrPort(DefaultListenAddr),
		Apps:        DefaultApps,
		ClearFlows:  true,
		AdminSocket: "/tmp/nyflow.sock",
	}
	ExpandConfig(&cfg)
	return cfg
}

// ExpandConfig fills in defaults for every unset field
func ExpandConfig(cfg *ControllerCfg) {
	if cfg.Id == "" {
		cfg.Id = "nyflow"
	}
	if !cfg.ListenAddr.IsValid() {
		cfg.ListenAddr = netip.MustParseAddrPort(DefaultListenAddr)
	}
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.NumCPU()
	}
	if cfg.RouteCacheSize <= 0 {
		cfg.RouteCacheSize = PathCacheSize
	}
	if cfg.LinkTimeout == 0 {
		cfg.LinkTimeout = LinkTimeout
	}
	if cfg.KeepAlive == 0 {
		cfg.KeepAlive = KeepaliveInterval
	}
	if cfg.DeadThreshold == 0 {
		cfg.DeadThreshold = DeadThreshold
	}
	if cfg.FlowIdleTimeout == 0 {
		cfg.FlowIdleTimeout = FlowIdleTimeout
	}
	if cfg.ForgetDelay == 0 {
		cfg.ForgetDelay = DeviceForgetDelay
	}
}
