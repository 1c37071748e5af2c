package etcd

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"seatengine/pkg/coordination"
)

const (
	leaderPrefix = "/seatengine/leader/"
	lockPrefix   = "/seatengine/locks/"
	nodePrefix   = "/seatengine/nodes/"
)

var _ coordination.Coordinator = (*EtcdCoordinator)(nil)

type EtcdCoordinator struct {
	client  *clientv3.Client
	session *concurrency.Session
}

func NewEtcdCoordinator(endpoints []string, ttl int) (*EtcdCoordinator, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}

	// The session keeps its lease alive; leadership and locks die with it.
	sess, err := concurrency.NewSession(cli, concurrency.WithTTL(ttl))
	if err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to create concurrency session: %w", err)
	}

	return &EtcdCoordinator{
		client:  cli,
		session: sess,
	}, nil
}

func (c *EtcdCoordinator) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return c.client.Close()
}

func (c *EtcdCoordinator) NewElection(name string) coordination.LeaderElection {
	return &EtcdElection{election: concurrency.NewElection(c.session, leaderPrefix+name)}
}

func (c *EtcdCoordinator) NewLock(name string) coordination.Lock {
	return concurrency.NewMutex(c.session, lockPrefix+name)
}

// EtcdElection wraps the etcd concurrency.Election struct
type EtcdElection struct {
	election *concurrency.Election
}

func (e *EtcdElection) Campaign(ctx context.Context, value string) error {
	return e.election.Campaign(ctx, value)
}

func (e *EtcdElection) Resign(ctx context.Context) error {
	return e.election.Resign(ctx)
}

func (e *EtcdElection) Leader(ctx context.Context) (string, error) {
	resp, err := e.election.Leader(ctx)
	if errors.Is(err, concurrency.ErrElectionNoLeader) {
		return "", coordination.ErrNoLeader
	}
	if err != nil {
		return "", err
	}
	return string(resp.Kvs[0].Value), nil
}

// RegisterNode puts the node key under a fresh short lease. Executors call it
// from their heartbeat loop, so a node that stops beating disappears after ttl.
func (c *EtcdCoordinator) RegisterNode(ctx context.Context, nodeID string, ttl int) error {
	resp, err := c.client.Grant(ctx, int64(ttl))
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}

	_, err = c.client.Put(ctx, nodePrefix+nodeID, "ONLINE", clientv3.WithLease(resp.ID))
	if err != nil {
		return fmt.Errorf("failed to put node key: %w", err)
	}
	return nil
}

func (c *EtcdCoordinator) GetActiveNodes(ctx context.Context) ([]string, error) {
	resp, err := c.client.Get(ctx, nodePrefix, clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, fmt.Errorf("failed to list nodes: %w", err)
	}

	nodes := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		if id := strings.TrimPrefix(string(kv.Key), nodePrefix); id != "" {
			nodes = append(nodes, id)
		}
	}
	return nodes, nil
}
