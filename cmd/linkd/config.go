package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/rmax-ai/linkd/pkg/api"
	"github.com/rmax-ai/linkd/pkg/engine"
)

const (
	defaultAddr          = "127.0.0.1:8095"
	defaultTxTimeout     = 2 * time.Second
	defaultTxRetries     = 3
	defaultRelayInterval = 1 * time.Second
	defaultLeaseTTL      = 10 * time.Second

	serviceConnections   = "connections"
	serviceNotifications = "notifications"
)

type Config struct {
	DBPath              string
	NotificationsDBPath string
	Addr                string
	Services            []string
	Bus                 string // memory | redis
	RedisAddr           string
	TxTimeout           time.Duration
	TxRetries           int
	RelayInterval       time.Duration
	Lease               string // none | sqlite | redis
	LeaseTTL            time.Duration
	NodeID              string
	ConnectionsURL      string
	LogLevel            slog.Level
}

// Hosts reports whether service runs in this process.
func (c Config) Hosts(service string) bool {
	return slices.Contains(c.Services, service)
}

func LoadConfig(args []string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	defaultDBPath := filepath.Join(cwd, "linkd-graph.db")
	defaultNotificationsDBPath := filepath.Join(cwd, "linkd-notifications.db")

	txTimeout, err := durationFromEnv("LINKD_TX_TIMEOUT", defaultTxTimeout)
	if err != nil {
		return Config{}, err
	}
	relayInterval, err := durationFromEnv("LINKD_RELAY_INTERVAL", defaultRelayInterval)
	if err != nil {
		return Config{}, err
	}
	leaseTTL, err := durationFromEnv("LINKD_LEASE_TTL", defaultLeaseTTL)
	if err != nil {
		return Config{}, err
	}
	txRetries := defaultTxRetries
	if raw := os.Getenv("LINKD_TX_RETRIES"); raw != "" {
		txRetries, err = strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("invalid LINKD_TX_RETRIES: %w", err)
		}
	}
	hostname, _ := os.Hostname()

	flagSet := flag.NewFlagSet("linkd", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagDB := flagSet.String("db", envOrDefault("LINKD_DB_PATH", defaultDBPath), "path to the graph SQLite database")
	flagNotesDB := flagSet.String("notifications-db", envOrDefault("LINKD_NOTIFICATIONS_DB_PATH", defaultNotificationsDBPath), "path to the notifications SQLite database")
	flagAddr := flagSet.String("addr", addrFromEnv(defaultAddr), "HTTP listen address")
	flagServices := flagSet.String("services", envOrDefault("LINKD_SERVICES", "connections,notifications"), "services to host: connections,notifications")
	flagBus := flagSet.String("bus", envOrDefault("LINKD_BUS", "memory"), "event bus: memory|redis")
	flagRedis := flagSet.String("redis-addr", os.Getenv("LINKD_REDIS_ADDR"), "Redis address for the redis bus or lease")
	flagTxTimeout := flagSet.String("tx-timeout", txTimeout.String(), "graph transaction timeout")
	flagTxRetries := flagSet.Int("tx-retries", txRetries, "retries for transient graph store failures")
	flagRelay := flagSet.String("relay-interval", relayInterval.String(), "outbox relay poll interval")
	flagLease := flagSet.String("lease", envOrDefault("LINKD_LEASE", "none"), "relay leader lease: none|sqlite|redis")
	flagLeaseTTL := flagSet.String("lease-ttl", leaseTTL.String(), "relay leader lease ttl")
	flagNodeID := flagSet.String("node-id", envOrDefault("LINKD_NODE_ID", hostname), "node id for leases and redis consumers")
	flagConnsURL := flagSet.String("connections-url", os.Getenv("LINKD_CONNECTIONS_URL"), "connections API used when connections is not co-hosted")
	flagLogLevel := flagSet.String("log-level", envOrDefault("LINKD_LOG_LEVEL", "info"), "log level: debug|info|warn|error")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
			return Config{}, err
		}
		return Config{}, err
	}

	config := Config{
		DBPath:              resolvePath(*flagDB, cwd),
		NotificationsDBPath: resolvePath(*flagNotesDB, cwd),
		Addr:                strings.TrimSpace(*flagAddr),
		Services:            splitList(*flagServices),
		Bus:                 strings.ToLower(strings.TrimSpace(*flagBus)),
		RedisAddr:           strings.TrimSpace(*flagRedis),
		TxRetries:           *flagTxRetries,
		Lease:               strings.ToLower(strings.TrimSpace(*flagLease)),
		NodeID:              strings.TrimSpace(*flagNodeID),
		ConnectionsURL:      strings.TrimSpace(*flagConnsURL),
	}

	if config.TxTimeout, err = parsePositive("tx timeout", *flagTxTimeout); err != nil {
		return Config{}, err
	}
	if config.RelayInterval, err = parsePositive("relay interval", *flagRelay); err != nil {
		return Config{}, err
	}
	if config.LeaseTTL, err = parsePositive("lease ttl", *flagLeaseTTL); err != nil {
		return Config{}, err
	}
	if err := config.LogLevel.UnmarshalText([]byte(*flagLogLevel)); err != nil {
		return Config{}, fmt.Errorf("invalid log level: %w", err)
	}

	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) validate() error {
	if c.Addr == "" {
		return errors.New("addr cannot be empty")
	}
	if len(c.Services) == 0 {
		return errors.New("at least one service is required")
	}
	for _, s := range c.Services {
		if s != serviceConnections && s != serviceNotifications {
			return fmt.Errorf("unsupported service: %s", s)
		}
	}
	if c.TxRetries < 0 {
		return errors.New("tx retries cannot be negative")
	}
	if budget := c.engineConfig().Budget(); budget >= api.WriteTimeout {
		return fmt.Errorf("tx-timeout %v with %d tx-retries can take %v, over the %v response bound",
			c.TxTimeout, c.TxRetries, budget.Round(time.Millisecond), api.WriteTimeout)
	}
	switch c.Bus {
	case "memory":
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("bus=redis requires redis-addr")
		}
	default:
		return fmt.Errorf("unsupported bus: %s", c.Bus)
	}
	switch c.Lease {
	case "none":
	case "sqlite":
		if !c.Hosts(serviceConnections) {
			return errors.New("lease=sqlite requires the connections service")
		}
	case "redis":
		if c.RedisAddr == "" {
			return errors.New("lease=redis requires redis-addr")
		}
	default:
		return fmt.Errorf("unsupported lease: %s", c.Lease)
	}
	if c.Lease != "none" && c.NodeID == "" {
		return errors.New("a lease requires node-id")
	}
	if c.Hosts(serviceNotifications) && !c.Hosts(serviceConnections) {
		if c.ConnectionsURL == "" {
			return errors.New("notifications without connections requires connections-url")
		}
		if c.Bus == "memory" {
			return errors.New("notifications without connections requires bus=redis")
		}
	}
	return nil
}

func (c Config) engineConfig() engine.Config {
	return engine.Config{TxTimeout: c.TxTimeout, TxRetries: c.TxRetries}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func addrFromEnv(fallback string) string {
	if value := os.Getenv("LINKD_ADDR"); value != "" {
		return value
	}
	if port := os.Getenv("LINKD_PORT"); port != "" {
		return fmt.Sprintf("127.0.0.1:%s", port)
	}
	return fallback
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func parsePositive(name, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return d, nil
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.ToLower(strings.TrimSpace(part)); p != "" && !slices.Contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}
