// Package cluster is the public facade wiring routing, the slot map, the
// connection container, the dispatcher, pipeline execution, and the
// refresh engine into one cluster-aware client.
package cluster

import (
	"context"
	"fmt"
	"time"

	"vkcluster/internal/batch"
	"vkcluster/internal/clientcfg"
	"vkcluster/internal/clustererrs"
	"vkcluster/internal/connections"
	"vkcluster/internal/dispatcher"
	"vkcluster/internal/nodeconn"
	"vkcluster/internal/refresh"
	"vkcluster/internal/slotmap"
	"vkcluster/internal/subscriptions"
)

// Client is a sharded-cluster command client: routing, redirect handling,
// background topology refresh, and reconnection, all driven off one
// clientcfg.ClusterClientConfig.
type Client struct {
	cfg *clientcfg.ClusterClientConfig

	sm    *slotmap.SlotMap
	conns *connections.Container
	subs  *subscriptions.Tracker

	dispatch *dispatcher.Dispatcher
	engine   *refresh.Engine
	querier  *nodeQuerier
}

// New connects to the seed nodes in cfg, discovers the initial topology
// via CLUSTER NODES, and starts the background refresh engine.
func New(ctx context.Context, cfg *clientcfg.ClusterClientConfig) (*Client, error) {
	sm := slotmap.New()
	conns := connections.New()

	q := &nodeQuerier{
		username:   cfg.Username,
		password:   cfg.Password,
		databaseID: cfg.DatabaseID,
		clientName: cfg.ClientName,
		timeout:    cfg.ConnectTimeout(),
	}

	var bootstrapErr error
	for _, addr := range cfg.SeedAddrs() {
		conn, err := q.Dial(ctx, addr)
		if err != nil {
			bootstrapErr = err
			continue
		}
		conns.ReplaceOrAddConnection(addr, conn)

		view, err := q.QueryTopology(ctx, addr)
		if err != nil {
			bootstrapErr = err
			continue
		}
		sm.SetRanges(view.Ranges)
		bootstrapErr = nil
		break
	}
	if bootstrapErr != nil {
		return nil, fmt.Errorf("bootstrapping cluster topology: %w", bootstrapErr)
	}

	engine := refresh.NewEngine(sm, conns, cfg.RefreshMinInterval(), cfg.Refresh.RatePerSecond,
		cfg.ReconnectBaseDelay(), cfg.ReconnectMaxDelay())

	c := &Client{
		cfg:     cfg,
		sm:      sm,
		conns:   conns,
		subs:    subscriptions.New(),
		engine:  engine,
		querier: q,
	}
	c.dispatch = &dispatcher.Dispatcher{
		SlotMap:       sm,
		Conns:         conns,
		ReplicaPolicy: replicaPolicyFor(cfg),
		Retry:         dispatcher.RetryParams{NumberOfRetries: cfg.Retry.NumberOfRetries},
		Engine:        engine,
		Querier:       q,
		InitialNodes:  cfg.SeedAddrs(),
	}
	engine.SetSubscriptions(c.subs)

	// Connect to every primary/replica the bootstrap discovered, not just
	// the seed we happened to query.
	engine.TriggerRefreshConnectionTasks(ctx, sm.AllNodeAddresses(), refresh.AllConnections, q)
	engine.PeriodicTopologyCheck(ctx, cfg.PeriodicCheckInterval(), cfg.SeedAddrs(), q, func() string {
		return hashRanges(sm.AllRanges())
	})
	engine.PeriodicConnectionValidation(ctx, cfg.ConnectionsValidationInterval(), q)

	return c, nil
}

func replicaPolicyFor(cfg *clientcfg.ClusterClientConfig) slotmap.ReplicaPolicy {
	switch cfg.ReadFrom {
	case "preferReplica", "replicaOnly":
		return &slotmap.RoundRobin{}
	case "azAffinity":
		return &slotmap.AZAffinity{ClientAZ: cfg.ClientAZ}
	case "azAffinityReplicasAndPrimary":
		return &slotmap.AZAffinityReplicasAndPrimary{ClientAZ: cfg.ClientAZ}
	default:
		return slotmap.AlwaysFromPrimary{}
	}
}

// Do executes a single command with automatic routing, redirect, and
// retry handling.
func (c *Client) Do(ctx context.Context, cmd string, args ...string) (interface{}, error) {
	return c.dispatch.Do(ctx, cmd, args)
}

// Pipeline executes a batch of commands, atomically (single-node,
// MULTI/EXEC framing) or non-atomically (fanned out per-node and
// recombined in original order).
func (c *Client) Pipeline(ctx context.Context, pipe batch.Pipeline) ([]batch.Response, error) {
	return batch.Execute(ctx, c, pipe)
}

// SlotMap implements batch.Resolver.
func (c *Client) SlotMap() *slotmap.SlotMap { return c.sm }

// Connections implements batch.Resolver.
func (c *Client) Connections() *connections.Container { return c.conns }

// ReplicaPolicy implements batch.Resolver.
func (c *Client) ReplicaPolicy() slotmap.ReplicaPolicy { return c.dispatch.ReplicaPolicy }

// Subscriptions exposes the pub/sub channel tracker so a caller can fold
// subscribe/unsubscribe bookkeeping into its own message loop.
func (c *Client) Subscriptions() *subscriptions.Tracker { return c.subs }

// Close stops the background refresh engine and closes every connection.
func (c *Client) Close() error {
	c.engine.Stop()
	for _, addr := range c.conns.Addresses() {
		c.conns.RemoveNode(addr)
	}
	return nil
}

// nodeQuerier implements refresh.Querier against real nodeconn connections,
// issuing CLUSTER NODES to build each TopologyView.
type nodeQuerier struct {
	username   string
	password   string
	databaseID int
	clientName string
	timeout    time.Duration
}

func (q *nodeQuerier) Dial(ctx context.Context, addr string) (nodeconn.NodeConnection, error) {
	return nodeconn.Dial(ctx, nodeconn.Config{
		Addr:       addr,
		Username:   q.username,
		Password:   q.password,
		DatabaseID: q.databaseID,
		ClientName: q.clientName,
		Timeout:    q.timeout,
	})
}

func (q *nodeQuerier) QueryTopology(ctx context.Context, addr string) (refresh.TopologyView, error) {
	conn, err := q.Dial(ctx, addr)
	if err != nil {
		return refresh.TopologyView{}, err
	}
	defer conn.Close()

	res := <-conn.Send(ctx, []string{"CLUSTER", "NODES"})
	if res.Err != nil {
		return refresh.TopologyView{}, res.Err
	}
	raw, ok := res.Reply.(string)
	if !ok {
		return refresh.TopologyView{}, clustererrs.New(clustererrs.KindProtocolDesync, "CLUSTER NODES did not return a bulk string")
	}

	nodes, err := parseClusterNodes(raw)
	if err != nil {
		return refresh.TopologyView{}, err
	}
	return buildTopologyView(addr, nodes), nil
}
