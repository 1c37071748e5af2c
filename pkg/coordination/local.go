package coordination

import (
	"context"
	"sort"
	"sync"
	"time"
)

// LocalCoordinator coordinates goroutines of a single process. It backs tests
// and single-node deployments that run without etcd.
type LocalCoordinator struct {
	mu     sync.Mutex
	locks  map[string]chan struct{}
	leader map[string]*localCampaign
	nodes  map[string]time.Time
	now    func() time.Time
}

var _ Coordinator = (*LocalCoordinator)(nil)

func NewLocalCoordinator() *LocalCoordinator {
	return &LocalCoordinator{
		locks:  make(map[string]chan struct{}),
		leader: make(map[string]*localCampaign),
		nodes:  make(map[string]time.Time),
		now:    time.Now,
	}
}

func (c *LocalCoordinator) NewLock(name string) Lock {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.locks[name]
	if !ok {
		ch = make(chan struct{}, 1)
		c.locks[name] = ch
	}
	return localLock{ch: ch}
}

type localLock struct {
	ch chan struct{}
}

func (l localLock) Lock(ctx context.Context) error {
	select {
	case l.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l localLock) Unlock(_ context.Context) error {
	select {
	case <-l.ch:
	default:
	}
	return nil
}

func (c *LocalCoordinator) NewElection(name string) LeaderElection {
	c.mu.Lock()
	defer c.mu.Unlock()
	campaign, ok := c.leader[name]
	if !ok {
		campaign = &localCampaign{seat: make(chan struct{}, 1)}
		c.leader[name] = campaign
	}
	return &localElection{campaign: campaign}
}

type localCampaign struct {
	seat  chan struct{}
	mu    sync.Mutex
	value string
}

type localElection struct {
	campaign *localCampaign
	leading  bool
}

func (e *localElection) Campaign(ctx context.Context, value string) error {
	select {
	case e.campaign.seat <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	e.campaign.mu.Lock()
	e.campaign.value = value
	e.campaign.mu.Unlock()
	e.leading = true
	return nil
}

func (e *localElection) Resign(_ context.Context) error {
	if !e.leading {
		return nil
	}
	e.leading = false
	e.campaign.mu.Lock()
	e.campaign.value = ""
	e.campaign.mu.Unlock()
	<-e.campaign.seat
	return nil
}

func (e *localElection) Leader(_ context.Context) (string, error) {
	e.campaign.mu.Lock()
	defer e.campaign.mu.Unlock()
	if e.campaign.value == "" {
		return "", ErrNoLeader
	}
	return e.campaign.value, nil
}

func (c *LocalCoordinator) RegisterNode(_ context.Context, nodeID string, ttl int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[nodeID] = c.now().Add(time.Duration(ttl) * time.Second)
	return nil
}

func (c *LocalCoordinator) GetActiveNodes(_ context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	nodes := make([]string, 0, len(c.nodes))
	for id, expires := range c.nodes {
		if expires.After(now) {
			nodes = append(nodes, id)
		}
	}
	sort.Strings(nodes)
	return nodes, nil
}

func (c *LocalCoordinator) Close() error {
	return nil
}
