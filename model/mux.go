package model

import (
	"context"
	"strings"

	"github.com/anserhq/anser/graph"
)

// Mux serves generation across the local manager and remote provider
// adapters. Requests that pin a model are routed by name prefix; requests
// that leave selection open go through the manager's catalog unless the
// catalog is degraded and a remote fallback is configured, in which case
// traffic fails over to the fallback model.
type Mux struct {
	local    *Manager
	routes   []muxRoute
	fallback string
}

type muxRoute struct {
	prefix string
	gen    Generator
}

// MuxOption adjusts mux construction.
type MuxOption func(*Mux)

// WithRoute sends models whose name starts with prefix to gen. Routes match
// in registration order.
func WithRoute(prefix string, gen Generator) MuxOption {
	return func(m *Mux) {
		if prefix != "" && gen != nil {
			m.routes = append(m.routes, muxRoute{prefix: prefix, gen: gen})
		}
	}
}

// WithFallbackModel names the model that serves selection when the local
// catalog is degraded. It must match a registered route to take effect.
func WithFallbackModel(name string) MuxOption {
	return func(m *Mux) { m.fallback = name }
}

// NewMux builds a mux over the local manager. local must be non-nil.
func NewMux(local *Manager, opts ...MuxOption) *Mux {
	m := &Mux{local: local}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Generate implements Generator. The resolved model name decides the
// backend; everything unmatched by a route runs locally.
func (m *Mux) Generate(ctx context.Context, in GenerateInput) (*GenerateOutput, error) {
	name := in.Model
	if name == "" {
		name = m.Select(in.TaskType, in.Quality)
	}
	in.Model = name
	if gen := m.route(name); gen != nil {
		return gen.Generate(ctx, in)
	}
	return m.local.Generate(ctx, in)
}

// Select picks a model for the task. A degraded local catalog with a routed
// fallback yields the fallback; otherwise the manager decides.
func (m *Mux) Select(taskType string, quality graph.Quality) string {
	if m.failover() && m.local.Degraded() {
		return m.fallback
	}
	return m.local.Select(taskType, quality)
}

// Degraded reports whether generation is impaired: the local catalog failed
// discovery and no remote fallback can absorb its traffic.
func (m *Mux) Degraded() bool {
	if m.failover() {
		return false
	}
	return m.local.Degraded()
}

func (m *Mux) failover() bool {
	return m.fallback != "" && m.route(m.fallback) != nil
}

func (m *Mux) route(name string) Generator {
	for _, r := range m.routes {
		if strings.HasPrefix(name, r.prefix) {
			return r.gen
		}
	}
	return nil
}
