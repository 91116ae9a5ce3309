package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/rmax-ai/linkd/pkg/api"
	"github.com/rmax-ai/linkd/pkg/bus"
	busredis "github.com/rmax-ai/linkd/pkg/bus/redis"
	"github.com/rmax-ai/linkd/pkg/client"
	"github.com/rmax-ai/linkd/pkg/engine"
	"github.com/rmax-ai/linkd/pkg/graph"
	"github.com/rmax-ai/linkd/pkg/notify"
	"github.com/rmax-ai/linkd/pkg/store"
	storeredis "github.com/rmax-ai/linkd/pkg/store/redis"
)

const shutdownTimeout = 5 * time.Second

// daemon owns every long-running component of one linkd process.
type daemon struct {
	cfg Config

	redis    *redis.Client
	bus      bus.Bus
	graph    *store.Store
	notes    *store.Store
	engine   *engine.Engine
	election *engine.Election
	relay    *engine.Relay
	persons  *graph.PersonProjection
	notifier *notify.Consumer
	server   *api.Server
}

func newDaemon(cfg Config) (*daemon, error) {
	d := &daemon{cfg: cfg}
	ok := false
	defer func() {
		if !ok {
			d.Close()
		}
	}()

	if cfg.Bus == "redis" || cfg.Lease == "redis" {
		d.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	}

	// A transaction attempt waits for the write lock no longer than TxTimeout.
	busy := store.WithBusyTimeout(cfg.TxTimeout)
	if cfg.Hosts(serviceConnections) {
		st, err := store.NewStore(cfg.DBPath, busy)
		if err != nil {
			return nil, fmt.Errorf("open graph store: %w", err)
		}
		d.graph = st
		slog.Info("store_initialized", "service", serviceConnections, "path", cfg.DBPath)
	}
	if cfg.Hosts(serviceNotifications) {
		d.notes = d.graph
		if d.notes == nil || cfg.NotificationsDBPath != cfg.DBPath {
			st, err := store.NewStore(cfg.NotificationsDBPath, busy)
			if err != nil {
				return nil, fmt.Errorf("open notifications store: %w", err)
			}
			d.notes = st
			slog.Info("store_initialized", "service", serviceNotifications, "path", cfg.NotificationsDBPath)
		}
	}

	switch cfg.Bus {
	case "redis":
		d.bus = busredis.New(d.redis, cfg.NodeID, bus.Options{})
	default:
		dead := d.graph
		if dead == nil {
			dead = d.notes
		}
		d.bus = bus.NewMemoryBus(bus.Options{DeadLetter: dead})
	}

	opts := api.Options{Addr: cfg.Addr, Publisher: d.bus}

	if d.graph != nil {
		d.engine = engine.New(d.graph, d.bus, cfg.engineConfig())
		d.persons = graph.NewPersonProjection(d.graph)
		opts.Engine = d.engine

		var leases store.LeaseStore
		switch cfg.Lease {
		case "sqlite":
			leases = d.graph
		case "redis":
			leases = storeredis.NewLeaseStore(d.redis)
		}
		var leader func() bool
		if leases != nil {
			d.election = engine.NewElection(leases, cfg.NodeID, engine.RelayLeaseName, cfg.LeaseTTL, func(isLeader bool) {
				slog.Info("relay_leadership_changed", "leader", isLeader)
			})
			leader = d.election.IsLeader
			opts.Election = d.election
		}
		d.relay = engine.NewRelay(d.graph, d.bus, cfg.RelayInterval, leader)
	}

	if d.notes != nil {
		var lookup notify.ConnectionsLookup = d.engine
		if d.engine == nil {
			lookup = remoteLookup{api: client.NewClient(cfg.ConnectionsURL)}
		}
		d.notifier = notify.NewConsumer(d.notes, lookup)
		opts.Notifications = d.notes
	}

	d.server = api.NewServer(opts)
	ok = true
	return d, nil
}

// Run blocks until ctx is done or a component fails.
func (d *daemon) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(d.server.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return d.server.Stop(shutdownCtx)
	})

	if d.election != nil {
		g.Go(func() error { return d.election.Run(ctx) })
	}
	if d.relay != nil {
		g.Go(func() error { return d.relay.Run(ctx) })
	}
	if d.persons != nil {
		g.Go(func() error {
			return d.bus.Subscribe(ctx, store.TopicUserCreated, graph.ConsumerGroup, d.persons.Handle)
		})
	}
	if d.notifier != nil {
		for _, topic := range notify.Topics() {
			g.Go(func() error {
				return d.bus.Subscribe(ctx, topic, notify.ConsumerGroup, d.notifier.Handle)
			})
		}
	}

	return g.Wait()
}

// Close releases stores and connections. It is safe to call more than once.
func (d *daemon) Close() {
	if d.notes != nil && d.notes != d.graph {
		if err := d.notes.Close(); err != nil {
			slog.Error("failed_to_close_store", "service", serviceNotifications, "error", err)
		}
	}
	d.notes = nil
	if d.graph != nil {
		if err := d.graph.Close(); err != nil {
			slog.Error("failed_to_close_store", "service", serviceConnections, "error", err)
		}
		d.graph = nil
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			slog.Error("failed_to_close_redis", "error", err)
		}
		d.redis = nil
	}
}

// remoteLookup resolves connections through the connections API when that
// service runs elsewhere.
type remoteLookup struct {
	api *client.Client
}

func (r remoteLookup) FirstDegreeConnections(ctx context.Context, userID int64) ([]store.Person, error) {
	persons, err := r.api.FirstDegreeConnections(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]store.Person, 0, len(persons))
	for _, p := range persons {
		out = append(out, store.Person{UserID: p.UserID, Name: p.Name, CreatedAt: p.CreatedAt})
	}
	return out, nil
}
