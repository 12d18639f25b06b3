// Package discovery resolves the "@service-name" gRPC endpoint syntax
// against a service-discovery collaborator (spec §4.4, §6). Only the
// lookup interface is part of this module's scope; the discovery agent
// itself is an external collaborator.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Endpoint is one resolved "host:port" record.
type Endpoint string

// Resolver looks up the live endpoints registered under a service name.
type Resolver interface {
	Resolve(ctx context.Context, serviceName string) ([]Endpoint, error)
}

// ConsulResolver queries a Consul agent's HTTP catalog API directly. No
// third-party Consul client is grounded anywhere in the retrieval pack, so
// this talks to the well-documented /v1/health/service/<name> endpoint
// over net/http.
type ConsulResolver struct {
	Addr   string // host:port of the Consul HTTP API
	Client *http.Client
}

// NewConsulResolver builds a resolver against the given Consul agent
// address (e.g. "localhost:8500").
func NewConsulResolver(addr string) *ConsulResolver {
	return &ConsulResolver{
		Addr:   addr,
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

type consulServiceEntry struct {
	Service struct {
		Address string `json:"Address"`
		Port    int    `json:"Port"`
	} `json:"Service"`
	Node struct {
		Address string `json:"Address"`
	} `json:"Node"`
}

// Resolve returns every healthy "host:port" registered under serviceName.
func (r *ConsulResolver) Resolve(ctx context.Context, serviceName string) ([]Endpoint, error) {
	url := fmt.Sprintf("http://%s/v1/health/service/%s?passing=true", r.Addr, serviceName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("discovery: consul lookup of %q: %w", serviceName, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery: consul lookup of %q: status %d", serviceName, resp.StatusCode)
	}

	var entries []consulServiceEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return nil, fmt.Errorf("discovery: decode consul response for %q: %w", serviceName, err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("discovery: no healthy instances registered for %q", serviceName)
	}

	endpoints := make([]Endpoint, 0, len(entries))
	for _, e := range entries {
		addr := e.Service.Address
		if addr == "" {
			addr = e.Node.Address
		}
		endpoints = append(endpoints, Endpoint(fmt.Sprintf("%s:%d", addr, e.Service.Port)))
	}
	return endpoints, nil
}
