package server

import (
	"context"
	"fmt"
)

// pingable is any dependency exposing a Ping method. The vector stores and
// the metadata store all satisfy it.
type pingable interface {
	Ping(ctx context.Context) error
}

// DependencyPinger adapts a pingable dependency to the Pinger interface used
// by GET /api/ready.
type DependencyPinger struct {
	// dep is the dependency to probe.
	dep pingable
	// name identifies the dependency in readiness responses.
	name string
}

// NewDependencyPinger constructs a DependencyPinger with the given label.
func NewDependencyPinger(dep pingable, name string) *DependencyPinger {
	return &DependencyPinger{dep: dep, name: name}
}

// Name returns the dependency label used in readiness responses.
func (p *DependencyPinger) Name() string { return p.name }

// Ping probes the dependency.
func (p *DependencyPinger) Ping(ctx context.Context) error {
	if err := p.dep.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	return nil
}
