package infractx

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	mu       sync.Mutex
	calls    int64
	statuses map[string]ServiceStatus
	errors   map[string]error
	delay    time.Duration
}

func (p *fakeProvider) DescribeService(ctx context.Context, region, service string) (ServiceStatus, error) {
	atomic.AddInt64(&p.calls, 1)
	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return ServiceStatus{}, ctx.Err()
		case <-time.After(p.delay):
		}
	}
	key := region + "/" + service
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.errors[key]; ok {
		return ServiceStatus{}, err
	}
	if status, ok := p.statuses[key]; ok {
		return status, nil
	}
	return ServiceStatus{Region: region, Service: service, Instances: 2, State: "running"}, nil
}

func TestDiscoverAggregatesHealth(t *testing.T) {
	provider := &fakeProvider{
		statuses: map[string]ServiceStatus{
			"us-east-1/orders-db": {Region: "us-east-1", Service: "orders-db", Instances: 1, State: "degraded", ActiveAlarms: 1},
		},
	}
	cfg := DefaultConfig()
	cfg.Regions = []string{"us-east-1"}
	cfg.Services = []string{"checkout-api", "orders-db"}
	m := New(cfg, provider, nil)

	snapshot, err := m.Discover(context.Background(), false)
	require.NoError(t, err)

	assert.Equal(t, 2, snapshot.TotalServices)
	assert.Equal(t, 1, snapshot.HealthyCount)
	assert.Equal(t, 1, snapshot.UnhealthyCount)
	assert.Equal(t, 1, snapshot.ActiveAlarms)
	assert.Equal(t, HealthDegraded, snapshot.OverallHealth)
}

func TestDiscoverCriticalThresholds(t *testing.T) {
	provider := &fakeProvider{
		statuses: map[string]ServiceStatus{
			"us-east-1/checkout-api": {Region: "us-east-1", Service: "checkout-api", State: "failed"},
		},
	}
	cfg := DefaultConfig()
	cfg.Regions = []string{"us-east-1"}
	cfg.Services = []string{"checkout-api"}
	m := New(cfg, provider, nil)

	snapshot, err := m.Discover(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, HealthCritical, snapshot.OverallHealth)
}

func TestDiscoverManyAlarmsIsCritical(t *testing.T) {
	provider := &fakeProvider{
		statuses: map[string]ServiceStatus{
			"us-east-1/checkout-api": {Region: "us-east-1", Service: "checkout-api", State: "running", ActiveAlarms: 3},
		},
	}
	cfg := DefaultConfig()
	cfg.Regions = []string{"us-east-1"}
	cfg.Services = []string{"checkout-api"}
	m := New(cfg, provider, nil)

	snapshot, err := m.Discover(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, HealthCritical, snapshot.OverallHealth)
}

func TestDiscoverFailuresDoNotAbortSnapshot(t *testing.T) {
	provider := &fakeProvider{
		errors: map[string]error{
			"eu-west-1/checkout-api": fmt.Errorf("region unavailable"),
		},
	}
	cfg := DefaultConfig()
	cfg.Regions = []string{"us-east-1", "eu-west-1"}
	cfg.Services = []string{"checkout-api"}
	m := New(cfg, provider, nil)

	snapshot, err := m.Discover(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, snapshot.TotalServices)
	assert.Equal(t, []string{"eu-west-1"}, snapshot.FailedRegions)
}

func TestDiscoverUsesCacheWithinTTL(t *testing.T) {
	provider := &fakeProvider{}
	cfg := DefaultConfig()
	cfg.Regions = []string{"us-east-1"}
	cfg.Services = []string{"checkout-api"}
	cfg.CacheTTL = time.Minute
	m := New(cfg, provider, nil)

	_, err := m.Discover(context.Background(), false)
	require.NoError(t, err)
	_, err = m.Discover(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, int64(1), atomic.LoadInt64(&provider.calls))

	_, err = m.Discover(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, int64(2), atomic.LoadInt64(&provider.calls))
}

func TestConcurrentDiscoverySharesOneFlight(t *testing.T) {
	provider := &fakeProvider{delay: 50 * time.Millisecond}
	cfg := DefaultConfig()
	cfg.Regions = []string{"us-east-1"}
	cfg.Services = []string{"checkout-api", "orders-db"}
	m := New(cfg, provider, nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Discover(context.Background(), false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	// One discovery for 5 callers: one provider call per region x service
	assert.Equal(t, int64(2), atomic.LoadInt64(&provider.calls))
}

func TestEmptyConfigIsUnknown(t *testing.T) {
	m := New(DefaultConfig(), &fakeProvider{}, nil)
	snapshot, err := m.Discover(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, HealthUnknown, snapshot.OverallHealth)
}
