// Package registry is the service discovery layer: servers register the address they
// serve on, clients discover and watch the instances of a service.
//
// Two implementations are provided: EtcdRegistry for real deployments and StaticRegistry,
// an in-process table used for fixed address lists and tests.
package registry

import (
	"context"
	"errors"
)

// ErrNoInstances is returned when a service has no registered instance.
var ErrNoInstances = errors.New("registry: no instances available")

type ServiceInstance struct {
	Addr    string `json:"addr"`
	Weight  int    `json:"weight"` // Weight for load balancing
	Version string `json:"version"`
}

type Registry interface {
	// Register announces instance under serviceName. ttl is the lease in seconds; the
	// registration is renewed until Deregister is called.
	Register(ctx context.Context, serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(ctx context.Context, serviceName string, addr string) error
	Discover(ctx context.Context, serviceName string) ([]ServiceInstance, error)
	// Watch emits the full instance list every time it changes. The channel is closed
	// when ctx is done.
	Watch(ctx context.Context, serviceName string) <-chan []ServiceInstance
}
