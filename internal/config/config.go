package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/internal/models"
	libconfig "github.com/OpenChargingCloud/WWCP-ChargingStation-sub001/libs/config"
)

// HTTPConfig holds the management API listener settings.
type HTTPConfig struct {
	Port string `yaml:"port" env:"FLEET_HTTP_PORT"`
}

// StationConfig describes the proxied charging station.
type StationConfig struct {
	ID                     string        `yaml:"id" env:"FLEET_STATION_ID"`
	OperatorID             string        `yaml:"operatorId" env:"FLEET_OPERATOR_ID"`
	EVSEIDs                string        `yaml:"evseIds" env:"FLEET_EVSE_IDS"`
	SelfCheckEvery         time.Duration `yaml:"selfCheckEvery" env:"FLEET_SELF_CHECK_EVERY"`
	SelfCancelAfter        time.Duration `yaml:"selfCancelAfter" env:"FLEET_SELF_CANCEL_AFTER"`
	MaxReservationDuration time.Duration `yaml:"maxReservationDuration" env:"FLEET_MAX_RESERVATION_DURATION"`
	StatusHistorySize      int           `yaml:"statusHistorySize" env:"FLEET_STATUS_HISTORY_SIZE"`
}

// RemoteConfig describes the vendor backend. An empty base URL runs the
// station in local-only mode.
type RemoteConfig struct {
	BaseURL         string        `yaml:"baseUrl" env:"FLEET_REMOTE_BASE_URL"`
	Username        string        `yaml:"username" env:"FLEET_REMOTE_USERNAME"`
	Password        string        `yaml:"password" env:"FLEET_REMOTE_PASSWORD"`
	StationID       string        `yaml:"stationId" env:"FLEET_REMOTE_STATION_ID"`
	EVSEIDPrefix    string        `yaml:"evseIdPrefix" env:"FLEET_REMOTE_EVSE_ID_PREFIX"`
	WhitelistID     string        `yaml:"whitelistId" env:"FLEET_REMOTE_WHITELIST_ID"`
	IDMappings      string        `yaml:"idMappings" env:"FLEET_REMOTE_ID_MAPPINGS"`
	RequestTimeout  time.Duration `yaml:"requestTimeout" env:"FLEET_REMOTE_REQUEST_TIMEOUT"`
	ReserveTimeout  time.Duration `yaml:"reserveTimeout" env:"FLEET_REMOTE_RESERVE_TIMEOUT"`
	StartTimeout    time.Duration `yaml:"startTimeout" env:"FLEET_REMOTE_START_TIMEOUT"`
	StopTimeout     time.Duration `yaml:"stopTimeout" env:"FLEET_REMOTE_STOP_TIMEOUT"`
	StatusTimeout   time.Duration `yaml:"statusTimeout" env:"FLEET_REMOTE_STATUS_TIMEOUT"`
}

// AuthConfig guards the management API. An empty secret disables the guard.
type AuthConfig struct {
	JWTSecret string `yaml:"jwtSecret" env:"FLEET_JWT_SECRET"`
}

// DatabaseConfig points at the session archive. An empty DSN disables it.
type DatabaseConfig struct {
	DSN string `yaml:"dsn" env:"FLEET_POSTGRES_DSN"`
}

// RedisConfig points at the active session cache. An empty addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"FLEET_REDIS_ADDR"`
	Password string `yaml:"password" env:"FLEET_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"FLEET_REDIS_DB"`
	TTL      int    `yaml:"ttlSeconds" env:"FLEET_REDIS_TTL"`
}

// Config defines fleet service configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Station  StationConfig  `yaml:"station"`
	Remote   RemoteConfig   `yaml:"remote"`
	Auth     AuthConfig     `yaml:"auth"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
}

// Load reads configuration via the shared helper.
func Load() (*Config, error) {
	cfg := &Config{
		HTTP: HTTPConfig{Port: "8080"},
		Station: StationConfig{
			SelfCheckEvery:         15 * time.Second,
			SelfCancelAfter:        10 * time.Second,
			MaxReservationDuration: 15 * time.Minute,
		},
	}

	if err := libconfig.LoadConfig(cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.Station.ID) == "" {
		return nil, errors.New("config: station id required")
	}
	if strings.TrimSpace(cfg.Station.OperatorID) == "" {
		return nil, errors.New("config: operator id required")
	}
	if strings.TrimSpace(cfg.Station.EVSEIDs) == "" {
		return nil, errors.New("config: at least one evse id required")
	}
	return cfg, nil
}

// HTTPAddress returns :port style.
func (c *Config) HTTPAddress() string {
	port := strings.TrimSpace(c.HTTP.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return fmt.Sprintf(":%s", port)
}

// EVSEIDList splits the configured comma-separated socket ids.
func (c *Config) EVSEIDList() []models.EVSEID {
	var out []models.EVSEID
	for _, part := range strings.Split(c.Station.EVSEIDs, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, models.EVSEID(part))
	}
	return out
}

// IDMappingPairs parses "local=remote" pairs from the comma-separated list.
func (c *Config) IDMappingPairs() (map[models.EVSEID]models.EVSEID, error) {
	pairs := make(map[models.EVSEID]models.EVSEID)
	raw := strings.TrimSpace(c.Remote.IDMappings)
	if raw == "" {
		return pairs, nil
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		local, remote, found := strings.Cut(part, "=")
		if !found || strings.TrimSpace(local) == "" || strings.TrimSpace(remote) == "" {
			return nil, fmt.Errorf("config: invalid id mapping %q", part)
		}
		pairs[models.EVSEID(strings.TrimSpace(local))] = models.EVSEID(strings.TrimSpace(remote))
	}
	return pairs, nil
}

// ActiveSessionTTL returns ttl as duration.
func (c *Config) ActiveSessionTTL() time.Duration {
	if c.Redis.TTL <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Redis.TTL) * time.Second
}
