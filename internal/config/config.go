package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

var ErrNoServers = errors.New("no valid servers configured")

const serversKey = "PALWORLD_SERVERS"

// maxExactFloat is the largest integer a float64 holds without rounding.
const maxExactFloat = 1 << 53

// ServerConfig identifies one monitored server. Channel is the optional
// notification destination for join announcements.
type ServerConfig struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"-"`
	Channel  string `json:"channel,omitempty"`
}

func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type DiscordConfig struct {
	Token        string
	StatusFormat string
	Rate         float64
	Burst        int
}

type Config struct {
	ListenAddr   string
	DatabasePath string
	DataDir      string
	DefaultUser  string
	DefaultPass  string

	PollInterval time.Duration
	QueryTimeout time.Duration
	Command      string

	LogLevel  string
	LogFormat string

	Discord DiscordConfig

	// Servers holds the valid entries only, sorted by name.
	Servers []ServerConfig
}

// Load reads the config file named by RCONWATCH_CONFIG (default
// ./data/config.json). Environment variables prefixed with RCONWATCH_
// override file values.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RCONWATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("data_dir", "./data")
	v.SetDefault("listen", ":8080")
	v.SetDefault("default_user", "admin")
	v.SetDefault("default_pass", "admin")
	v.SetDefault("poll_interval", "18s")
	v.SetDefault("query_timeout", "10s")
	v.SetDefault("command", "ShowPlayers")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
	v.SetDefault("discord.status_format", "Players Online: %d")
	v.SetDefault("discord.rate", 1.0)
	v.SetDefault("discord.burst", 5)

	path := envOr("RCONWATCH_CONFIG", filepath.Join("data", "config.json"))
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}

	return FromViper(v)
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	// relative paths break once the working directory changes
	dataDir, err := filepath.Abs(v.GetString("data_dir"))
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}

	dbPath := v.GetString("database")
	if dbPath == "" {
		dbPath = filepath.Join(dataDir, "rconwatch.db")
	}

	cfg := &Config{
		ListenAddr:   v.GetString("listen"),
		DatabasePath: dbPath,
		DataDir:      dataDir,
		DefaultUser:  v.GetString("default_user"),
		DefaultPass:  v.GetString("default_pass"),
		PollInterval: v.GetDuration("poll_interval"),
		QueryTimeout: v.GetDuration("query_timeout"),
		Command:      v.GetString("command"),
		LogLevel:     v.GetString("log_level"),
		LogFormat:    v.GetString("log_format"),
		Discord: DiscordConfig{
			Token:        v.GetString("discord.token"),
			StatusFormat: v.GetString("discord.status_format"),
			Rate:         v.GetFloat64("discord.rate"),
			Burst:        v.GetInt("discord.burst"),
		},
	}
	if cfg.PollInterval <= 0 {
		return nil, errors.Errorf("poll_interval must be positive, got %s", cfg.PollInterval)
	}
	if cfg.QueryTimeout <= 0 {
		return nil, errors.Errorf("query_timeout must be positive, got %s", cfg.QueryTimeout)
	}

	raw, err := rawServers(v)
	if err != nil {
		return nil, err
	}
	cfg.Servers = parseServers(raw)
	if len(cfg.Servers) == 0 {
		return nil, ErrNoServers
	}
	return cfg, nil
}

// rawServers decodes the server section straight from a JSON config file.
// viper lower-cases map keys and turns numbers into float64, which would
// lose the case of server names and round Discord channel ids.
func rawServers(v *viper.Viper) (map[string]interface{}, error) {
	path := v.ConfigFileUsed()
	if path == "" || !strings.EqualFold(filepath.Ext(path), ".json") {
		return v.GetStringMap(serversKey), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read config %s", path)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", path)
	}

	section, ok := top[serversKey]
	if !ok {
		for key, value := range top {
			if strings.EqualFold(key, serversKey) {
				section, ok = value, true
				break
			}
		}
	}
	if !ok {
		return nil, nil
	}

	dec := json.NewDecoder(bytes.NewReader(section))
	dec.UseNumber()
	var servers map[string]interface{}
	if err := dec.Decode(&servers); err != nil {
		return nil, errors.Wrap(err, serversKey)
	}
	return servers, nil
}

// parseServers keeps every well formed entry. A broken entry only costs
// monitoring of that one server.
func parseServers(raw map[string]interface{}) []ServerConfig {
	servers := make([]ServerConfig, 0, len(raw))
	for name, entry := range raw {
		srv, err := parseServer(name, entry)
		if err != nil {
			log.WithField("server", name).Errorf("Skipping server: %v", err)
			continue
		}
		servers = append(servers, srv)
	}
	sort.Slice(servers, func(i, j int) bool { return servers[i].Name < servers[j].Name })

	// A NAME override can collide with another entry's key.
	deduped := servers[:0]
	for i, srv := range servers {
		if i > 0 && srv.Name == servers[i-1].Name {
			log.WithField("server", srv.Name).Error("Skipping server: duplicate name")
			continue
		}
		deduped = append(deduped, srv)
	}
	return deduped
}

func parseServer(name string, entry interface{}) (ServerConfig, error) {
	fields, ok := entry.(map[string]interface{})
	if !ok {
		return ServerConfig{}, errors.Errorf("entry is %T, want an object", entry)
	}
	get := func(key string) interface{} {
		if v, ok := fields[key]; ok {
			return v
		}
		for k, v := range fields {
			if strings.EqualFold(k, key) {
				return v
			}
		}
		return nil
	}

	srv := ServerConfig{Name: name}
	if display := toString(get("NAME")); display != "" {
		srv.Name = display
	}
	srv.Host = toString(get("RCON_HOST"))
	if srv.Host == "" {
		return srv, errors.New("RCON_HOST is required")
	}

	port, err := toInt(get("RCON_PORT"))
	if err != nil {
		return srv, errors.Wrap(err, "RCON_PORT")
	}
	if port < 1 || port > 65535 {
		return srv, errors.Errorf("RCON_PORT %d out of range", port)
	}
	srv.Port = port

	srv.Password = toString(get("RCON_PASS"))
	if srv.Password == "" {
		return srv, errors.New("RCON_PASS is required")
	}

	if ch := get("CONNECTION_CHANNEL"); ch != nil {
		if f, ok := ch.(float64); ok && (f > maxExactFloat || f < -maxExactFloat) {
			return srv, errors.Errorf("CONNECTION_CHANNEL %v lost precision, quote it", f)
		}
		srv.Channel = toString(ch)
	}
	return srv, nil
}
