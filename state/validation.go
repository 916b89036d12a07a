package state

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
)

var namePattern, _ = regexp.Compile("^[0-9a-z._-]+$")

var KnownApps = []string{"routing", "learningswitch", "hub"}

func PathValidator(s string) error {
	_, err := os.Stat(path.Dir(s))
	if err != nil {
		return err
	}
	_, err = filepath.Abs(s)
	return err
}

func NameValidator(s string) error {
	if !namePattern.MatchString(s) {
		return fmt.Errorf("%s is not a valid name, must match pattern %s", s, namePattern.String())
	}
	if len(s) > 100 {
		return fmt.Errorf("len(\"%s\") = %d > 100 is too long", s, len(s))
	}
	return nil
}

// ConfigValidator checks a config that has already been through ExpandConfig
func ConfigValidator(cfg *ControllerCfg) error {
	err := NameValidator(cfg.Id)
	if err != nil {
		return err
	}
	if !cfg.ListenAddr.IsValid() {
		return fmt.Errorf("listen_addr is invalid")
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}
	for _, app := range cfg.Apps {
		if !slices.Contains(KnownApps, app) {
			return fmt.Errorf("unknown app %s, must be one of %s", app, strings.Join(KnownApps, ", "))
		}
	}
	if slices.Contains(cfg.Apps, "hub") && len(cfg.Apps) > 1 {
		return fmt.Errorf("the hub app floods every packet and cannot be combined with other apps")
	}
	for typ, order := range cfg.CallbackOrdering {
		if typ == "" {
			return fmt.Errorf("callback_ordering has an empty message type")
		}
		seen := make(map[string]bool)
		for _, name := range order {
			if seen[name] {
				return fmt.Errorf("callback_ordering for %s lists %s twice", typ, name)
			}
			seen[name] = true
		}
	}
	for _, l := range cfg.StaticLinks {
		if _, err := ParseLinks(l); err != nil {
			return fmt.Errorf("static_links: %w", err)
		}
	}
	if cfg.RouteCacheSize < 1 {
		return fmt.Errorf("route_cache_size must be positive")
	}
	if cfg.LinkTimeout < 0 {
		return fmt.Errorf("link_timeout must not be negative")
	}
	if cfg.KeepAlive > 0 && cfg.DeadThreshold > 0 && cfg.DeadThreshold <= cfg.KeepAlive {
		return fmt.Errorf("dead_threshold (%s) must be larger than keepalive_interval (%s)", cfg.DeadThreshold, cfg.KeepAlive)
	}
	if cfg.LogPath != "" {
		if err := PathValidator(cfg.LogPath); err != nil {
			return fmt.Errorf("log_path: %w", err)
		}
	}
	return nil
}
