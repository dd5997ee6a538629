package client

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"capitalize/loadbalance"
	"capitalize/registry"
	"capitalize/server"
	"capitalize/service"
)

// Multiple servers registered in etcd, clients spread over them by round robin.
// Runs only against a live cluster named by ETCD_ENDPOINTS.
func TestMultiServerWithEtcd(t *testing.T) {
	endpoints := os.Getenv("ETCD_ENDPOINTS")
	if endpoints == "" {
		t.Skip("ETCD_ENDPOINTS not set")
	}
	reg, err := registry.NewEtcdRegistry(strings.Split(endpoints, ","), 2*time.Second, nil)
	require.NoError(t, err)
	defer reg.Close()

	var addrs []string
	for i := 0; i < 2; i++ {
		lis := mustListen(t)
		addr := lis.Addr().String()
		srv := server.NewServer(server.WithRegistry(reg, addr, 10))
		srv.Handle(service.CapitalizeMethod, service.NewFetch().Capitalize)
		go srv.ServeListener(lis)
		defer srv.Shutdown(3 * time.Second)
		addrs = append(addrs, addr)
	}

	require.Eventually(t, func() bool {
		instances, err := reg.Discover(context.Background(), service.ServiceName)
		return err == nil && len(instances) >= 2
	}, 5*time.Second, 50*time.Millisecond)

	bal := &loadbalance.RoundRobinBalancer{}
	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		ch := DialRegistry(reg, bal, service.ServiceName)
		defer ch.Shutdown(time.Second)

		out, err := NewFetchClient(ch).Capitalize(context.Background(), "from etcd")
		require.NoError(t, err)
		require.Equal(t, "FROM ETCD", out)
		seen[ch.transport.Conn().RemoteAddr().String()] = true
	}
	require.Len(t, seen, 2, "round robin should spread channels over %v", addrs)
}
