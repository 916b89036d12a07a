package state

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNameValidator_Valid(t *testing.T) {
	assert.NoError(t, NameValidator("1"))
	assert.NoError(t, NameValidator("ab_cd"))
	assert.NoError(t, NameValidator("abcd-a.com"))
}

func TestNameValidator_Invalid(t *testing.T) {
	assert.Error(t, NameValidator("1A"))
	assert.Error(t, NameValidator("controller name"))
	assert.Error(t, NameValidator(""))
	assert.Error(t, NameValidator("\t"))
	assert.Error(t, NameValidator("abcd-a.com\\hi"))
	assert.Error(t, NameValidator(strings.Repeat("a", 200)))
}

func TestPathValidator(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, PathValidator(filepath.Join(dir, "nyflow.log")))
	assert.Error(t, PathValidator(filepath.Join(dir, "missing", "nyflow.log")))
}

func TestConfigValidator_StaticLinks(t *testing.T) {
	cfg := DefaultConfig()
	cfg.StaticLinks = []string{"1/1 <-> 2/1", "00:00:00:00:00:00:00:03/4 -> 0x2/2"}
	assert.NoError(t, ConfigValidator(&cfg))

	cfg.StaticLinks = []string{"1/1 <-> 2"}
	assert.ErrorContains(t, ConfigValidator(&cfg), "static_links")

	cfg.StaticLinks = []string{"1/1 2/1"}
	assert.ErrorContains(t, ConfigValidator(&cfg), "static_links")
}

func TestConfigValidator_CallbackOrdering(t *testing.T) {
	cfg := DefaultConfig()
	cfg.CallbackOrdering = map[string][]string{"packet_in": {"routing", "learningswitch"}}
	assert.NoError(t, ConfigValidator(&cfg))

	cfg.CallbackOrdering = map[string][]string{"": {"routing"}}
	assert.ErrorContains(t, ConfigValidator(&cfg), "empty message type")
}

func TestConfigValidator_Limits(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Workers = 0
	assert.ErrorContains(t, ConfigValidator(&cfg), "workers")

	cfg = DefaultConfig()
	cfg.RouteCacheSize = 0
	assert.ErrorContains(t, ConfigValidator(&cfg), "route_cache_size")

	cfg = DefaultConfig()
	cfg.LinkTimeout = -1
	assert.ErrorContains(t, ConfigValidator(&cfg), "link_timeout")

	cfg = DefaultConfig()
	cfg.KeepAlive = -1
	cfg.DeadThreshold = -1
	assert.NoError(t, ConfigValidator(&cfg), "negative liveness settings disable the checks")

	cfg = DefaultConfig()
	cfg.LogPath = filepath.Join(t.TempDir(), "missing", "nyflow.log")
	assert.ErrorContains(t, ConfigValidator(&cfg), "log_path")
}
