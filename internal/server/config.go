package server

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig reads configuration from file and environment variables.
func LoadConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Directory (UFDS-style LDAP).
	v.SetDefault("directory.url", "ldap://127.0.0.1:1389")
	v.SetDefault("directory.bind_dn", "cn=root")
	v.SetDefault("directory.bind_password", "")
	v.SetDefault("directory.operators_dn", "cn=operators, ou=groups, o=smartdc")

	// KV store (Redis).
	v.SetDefault("kv.addr", "127.0.0.1:6379")
	v.SetDefault("kv.db", 1)

	// Response caches.
	v.SetDefault("cache.disabled", false)
	v.SetDefault("cache.user_get.size", 1000)
	v.SetDefault("cache.user_get.ttl", "5m")
	v.SetDefault("cache.probe_get.size", 1000)
	v.SetDefault("cache.probe_get.ttl", "5m")
	v.SetDefault("cache.probe_list.size", 1000)
	v.SetDefault("cache.probe_list.ttl", "5m")
	v.SetDefault("cache.probe_group_get.size", 1000)
	v.SetDefault("cache.probe_group_get.ttl", "5m")
	v.SetDefault("cache.probe_group_list.size", 1000)
	v.SetDefault("cache.probe_group_list.ttl", "5m")
	v.SetDefault("cache.agent_probes.size", 0) // unbounded
	v.SetDefault("cache.agent_probes.ttl", "5m")

	// External collaborators.
	v.SetDefault("machines.inventory_url", "http://127.0.0.1:8081")
	v.SetDefault("machines.vm_metadata_url", "http://127.0.0.1:8082")

	// Authorization bootstrap.
	v.SetDefault("admin_uuid", "")

	// Modules.
	v.SetDefault("modules.maint.min_reaper_gap", "100ms")
	v.SetDefault("modules.maint.error_backoff", "5m")
	v.SetDefault("modules.notify.plugins", []string{"email", "sms", "webhook"})

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("amon")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/amon")
	}

	// Environment variable support: AMON_SERVER_PORT=9090
	v.SetEnvPrefix("AMON")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		// Config file not found is fine -- use defaults
	}

	return v, nil
}
