package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rmax-ai/linkd/pkg/store"
)

// Election holds a named lease on behalf of one node. The outbox relay only
// publishes while its node is leader, so several daemons can share a store.
type Election struct {
	leases    store.LeaseStore
	holderID  string
	leaseName string
	ttl       time.Duration

	onChange func(leader bool)

	mu       sync.RWMutex
	isLeader bool
	epoch    int64
}

// NewElection creates an election for leaseName. onChange, if set, runs on
// every promotion and demotion.
func NewElection(leases store.LeaseStore, holderID, leaseName string, ttl time.Duration, onChange func(leader bool)) *Election {
	return &Election{
		leases:    leases,
		holderID:  holderID,
		leaseName: leaseName,
		ttl:       ttl,
		onChange:  onChange,
	}
}

// Run campaigns immediately and then every ttl/2 until ctx is done, releasing
// the lease on exit.
func (el *Election) Run(ctx context.Context) error {
	log := slog.With("holder_id", el.holderID, "lease", el.leaseName)
	log.Info("election_started")

	ticker := time.NewTicker(el.ttl / 2)
	defer ticker.Stop()

	el.campaign(ctx)
	for {
		select {
		case <-ticker.C:
			el.campaign(ctx)
		case <-ctx.Done():
			if el.IsLeader() {
				if err := el.leases.Release(context.WithoutCancel(ctx), el.leaseName, el.holderID); err != nil {
					log.Error("lease_release_failed", "error", err)
				} else {
					log.Info("lease_released")
				}
				el.set(false, 0)
			}
			log.Info("election_stopped")
			return nil
		}
	}
}

// IsLeader returns true if this node currently holds the lease.
func (el *Election) IsLeader() bool {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return el.isLeader
}

// Epoch is the lease term this node won, or 0 when not leader.
func (el *Election) Epoch() int64 {
	el.mu.RLock()
	defer el.mu.RUnlock()
	return el.epoch
}

func (el *Election) set(leader bool, epoch int64) (changed bool) {
	el.mu.Lock()
	defer el.mu.Unlock()
	changed = el.isLeader != leader
	el.isLeader = leader
	el.epoch = epoch
	return changed
}

func (el *Election) campaign(ctx context.Context) {
	log := slog.With("holder_id", el.holderID, "lease", el.leaseName)
	wasLeader := el.IsLeader()

	leader := false
	if wasLeader {
		if err := el.leases.Renew(ctx, el.leaseName, el.holderID, el.ttl); err != nil {
			log.Warn("lease_renew_failed", "error", err)
		} else {
			leader = true
		}
	} else {
		ok, err := el.leases.Acquire(ctx, el.leaseName, el.holderID, el.ttl)
		if err != nil {
			log.Warn("lease_acquire_failed", "error", err)
		}
		leader = ok && err == nil
	}

	epoch := el.Epoch()
	if leader && !wasLeader {
		epoch = 0
		if l, err := el.leases.Get(ctx, el.leaseName); err == nil && l != nil {
			epoch = l.Epoch
		}
	}
	if !leader {
		epoch = 0
	}

	if !el.set(leader, epoch) {
		return
	}
	if leader {
		log.Info("leader_promoted", "epoch", epoch)
	} else {
		log.Info("leader_demoted")
	}
	if el.onChange != nil {
		el.onChange(leader)
	}
}
