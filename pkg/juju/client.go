// Package juju talks to the unit agent through hook tools.
package juju

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"microk8s-operator/config"
	"microk8s-operator/pkg/cluster"
	"microk8s-operator/pkg/command"
)

// Endpoints the agent reads on every hook.
var Endpoints = []string{
	cluster.RelationPeer,
	cluster.RelationWorkers,
	cluster.RelationControlPlane,
	cluster.RelationMetrics,
}

// Client runs hook tools for the local unit.
type Client struct {
	run command.Runner
	env Env
	log logrus.FieldLogger

	leader *bool
}

func NewClient(run command.Runner, env Env, log logrus.FieldLogger) *Client {
	return &Client{run: run, env: env, log: log}
}

func (c *Client) tool(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := c.run.Run(ctx, name, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

func (c *Client) toolJSON(ctx context.Context, v any, name string, args ...string) error {
	out, err := c.tool(ctx, name, append([]string{"--format=json"}, args...)...)
	if err != nil {
		return err
	}
	if len(strings.TrimSpace(string(out))) == 0 {
		return nil
	}
	if err := json.Unmarshal(out, v); err != nil {
		return fmt.Errorf("%s: invalid output: %w", name, err)
	}
	return nil
}

// IsLeader reports whether the unit holds leadership. The answer is stable
// for the rest of the hook.
func (c *Client) IsLeader(ctx context.Context) (bool, error) {
	if c.leader != nil {
		return *c.leader, nil
	}
	var leader bool
	if err := c.toolJSON(ctx, &leader, "is-leader"); err != nil {
		return false, err
	}
	c.leader = &leader
	return leader, nil
}

// Config returns the unit configuration.
func (c *Client) Config(ctx context.Context) (cluster.UnitConfig, error) {
	out, err := c.tool(ctx, "config-get", "--format=json")
	if err != nil {
		return cluster.UnitConfig{}, err
	}
	return config.ParseUnitConfig(out)
}

// Address is the address other units reach this unit on.
func (c *Client) Address(ctx context.Context) (string, error) {
	var addr string
	err := c.toolJSON(ctx, &addr, "network-get", cluster.RelationPeer, "--ingress-address")
	if err == nil && addr != "" {
		return addr, nil
	}
	c.log.WithError(err).Debug("network-get failed, falling back to unit-get")
	out, err := c.tool(ctx, "unit-get", "private-address")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// RelationIDs lists the relations established on an endpoint.
func (c *Client) RelationIDs(ctx context.Context, endpoint string) ([]string, error) {
	var ids []string
	err := c.toolJSON(ctx, &ids, "relation-ids", endpoint)
	return ids, err
}

// RelationList lists the remote units of a relation.
func (c *Client) RelationList(ctx context.Context, id string) ([]string, error) {
	var units []string
	err := c.toolJSON(ctx, &units, "relation-list", "-r", id)
	return units, err
}

// RelationGet returns the data bag of a unit, or of an application when app
// is set.
func (c *Client) RelationGet(ctx context.Context, id, target string, app bool) (map[string]string, error) {
	args := []string{"-r", id}
	if app {
		args = append(args, "--app")
	}
	args = append(args, "-", target)
	data := map[string]string{}
	if err := c.toolJSON(ctx, &data, "relation-get", args...); err != nil {
		return nil, err
	}
	return data, nil
}

// RelationSet writes keys into a data bag. An empty value deletes the key.
func (c *Client) RelationSet(ctx context.Context, id string, app bool, data map[string]string) error {
	args := []string{"-r", id}
	if app {
		args = append(args, "--app")
	}
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, k+"="+data[k])
	}
	_, err := c.tool(ctx, "relation-set", args...)
	return err
}

// SetUnitData writes into the local unit's data bag.
func (c *Client) SetUnitData(ctx context.Context, relationID string, data map[string]string) error {
	return c.RelationSet(ctx, relationID, false, data)
}

// SetAppData writes into the local application's data bag. Only the
// leader may do so; other units get cluster.ErrNotLeader.
func (c *Client) SetAppData(ctx context.Context, relationID string, data map[string]string) error {
	leader, err := c.IsLeader(ctx)
	if err != nil {
		return err
	}
	if !leader {
		return cluster.ErrNotLeader
	}
	err = c.RelationSet(ctx, relationID, true, data)
	var cmdErr *command.Error
	if errors.As(err, &cmdErr) && (strings.Contains(cmdErr.Stderr, "permission denied") || strings.Contains(cmdErr.Stderr, "not the leader")) {
		// leadership was lost during the hook
		return fmt.Errorf("%w: %v", cluster.ErrNotLeader, err)
	}
	return err
}

// OpenPort opens a port on the unit.
func (c *Client) OpenPort(ctx context.Context, port int, protocol string) error {
	_, err := c.tool(ctx, "open-port", strconv.Itoa(port)+"/"+protocol)
	return err
}

// SetStatus reports the unit status.
func (c *Client) SetStatus(ctx context.Context, s cluster.Status) error {
	_, err := c.tool(ctx, "status-set", string(s.Kind), s.Message)
	return err
}

// Observe reads everything the reconciler needs for one hook. The hostname
// of the machine is not known to the unit agent and is left empty.
func (c *Client) Observe(ctx context.Context) (cluster.Observation, error) {
	leader, err := c.IsLeader(ctx)
	if err != nil {
		return cluster.Observation{}, err
	}
	cfg, err := c.Config(ctx)
	if err != nil {
		return cluster.Observation{}, err
	}
	addr, err := c.Address(ctx)
	if err != nil {
		c.log.WithError(err).Warn("Unit address unknown")
	}

	obs := cluster.Observation{
		Unit:    c.env.UnitName,
		App:     c.env.App(),
		Address: addr,
		Leader:  leader,
		Config:  cfg,
		Model:   cluster.Model{Name: c.env.ModelName, UUID: c.env.ModelUUID},
	}
	for _, endpoint := range Endpoints {
		ids, err := c.RelationIDs(ctx, endpoint)
		if err != nil {
			return cluster.Observation{}, err
		}
		for _, id := range ids {
			rel, err := c.relation(ctx, endpoint, id, leader)
			if err != nil {
				return cluster.Observation{}, fmt.Errorf("failed to read relation %s: %w", id, err)
			}
			obs.Relations = append(obs.Relations, rel)
		}
	}
	return obs, nil
}

func (c *Client) relation(ctx context.Context, endpoint, id string, leader bool) (cluster.Relation, error) {
	units, err := c.RelationList(ctx, id)
	if err != nil {
		return cluster.Relation{}, err
	}
	rel := cluster.Relation{ID: id, Name: endpoint, LocalAppData: map[string]string{}, RemoteAppData: map[string]string{}}

	peer := endpoint == cluster.RelationPeer
	switch {
	case peer:
		rel.RemoteApp = c.env.App()
	case id == c.env.RelationID && c.env.RemoteApp != "":
		rel.RemoteApp = c.env.RemoteApp
	case len(units) > 0:
		rel.RemoteApp = cluster.AppFromUnit(units[0])
	}

	// Outside peer relations only the leader may read its own app bag.
	if peer || leader {
		if rel.LocalAppData, err = c.RelationGet(ctx, id, c.env.App(), true); err != nil {
			return cluster.Relation{}, err
		}
	}
	switch {
	case peer:
		rel.RemoteAppData = rel.LocalAppData
	case rel.RemoteApp != "":
		if rel.RemoteAppData, err = c.RelationGet(ctx, id, rel.RemoteApp, true); err != nil {
			return cluster.Relation{}, err
		}
	}
	if rel.LocalUnitData, err = c.RelationGet(ctx, id, c.env.UnitName, false); err != nil {
		return cluster.Relation{}, err
	}

	for _, u := range units {
		data, err := c.RelationGet(ctx, id, u, false)
		if err != nil {
			return cluster.Relation{}, err
		}
		addr := data["ingress-address"]
		if addr == "" {
			addr = data[cluster.KeyPrivateAddress]
		}
		rel.Units = append(rel.Units, cluster.RemoteUnit{ID: u, Hostname: data[cluster.KeyHostname], Address: addr})
	}
	return rel, nil
}
