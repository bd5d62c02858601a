// Package infractx takes a pre-flight snapshot of the available
// infrastructure before an investigation starts: per-region service
// inventory, health counts and active alarms, with TTL caching and bounded
// discovery concurrency.
package infractx

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// Health is the coarse infrastructure health state.
type Health string

const (
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthCritical Health = "critical"
	HealthUnknown  Health = "unknown"
)

// ServiceStatus is the discovered state of one service in one region.
type ServiceStatus struct {
	Region       string `json:"region"`
	Service      string `json:"service"`
	Instances    int    `json:"instances"`
	State        string `json:"state"`
	ActiveAlarms int    `json:"active_alarms"`
	Warnings     int    `json:"warnings"`
}

// Healthy applies the provider rules: a service counts as healthy when its
// state is running or active.
func (s ServiceStatus) Healthy() bool {
	switch strings.ToLower(s.State) {
	case "running", "active":
		return true
	default:
		return false
	}
}

// Critical reports states that indicate a hard failure rather than a
// transitional one.
func (s ServiceStatus) Critical() bool {
	switch strings.ToLower(s.State) {
	case "failed", "stopped", "crashed":
		return true
	default:
		return false
	}
}

// Snapshot is the aggregated discovery result.
type Snapshot struct {
	Services       []ServiceStatus `json:"services"`
	TotalServices  int             `json:"total_services"`
	HealthyCount   int             `json:"healthy_count"`
	UnhealthyCount int             `json:"unhealthy_count"`
	ActiveAlarms   int             `json:"active_alarms"`
	Warnings       int             `json:"warnings"`
	OverallHealth  Health          `json:"overall_health"`
	FailedRegions  []string        `json:"failed_regions,omitempty"`
	DiscoveredAt   time.Time       `json:"discovered_at"`
}

// Provider describes one service in one region. Implementations wrap the
// actual infrastructure APIs.
type Provider interface {
	DescribeService(ctx context.Context, region, service string) (ServiceStatus, error)
}

// Config controls discovery.
type Config struct {
	Regions           []string
	Services          []string
	MaxConcurrency    int64
	TimeoutPerService time.Duration
	CacheTTL          time.Duration
}

// DefaultConfig bounds discovery to 5 concurrent calls with a 10s
// per-service timeout and a 60s cache.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency:    5,
		TimeoutPerService: 10 * time.Second,
		CacheTTL:          60 * time.Second,
	}
}

const cacheKey = "snapshot"

// Manager performs and caches infrastructure discovery.
type Manager struct {
	config   Config
	provider Provider
	logger   *slog.Logger
	cache    *expirable.LRU[string, *Snapshot]
	flight   singleflight.Group
}

// New creates a manager over the given provider.
func New(cfg Config, provider Provider, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	defaults := DefaultConfig()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaults.MaxConcurrency
	}
	if cfg.TimeoutPerService <= 0 {
		cfg.TimeoutPerService = defaults.TimeoutPerService
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = defaults.CacheTTL
	}
	return &Manager{
		config:   cfg,
		provider: provider,
		logger:   logger,
		cache:    expirable.NewLRU[string, *Snapshot](1, nil, cfg.CacheTTL),
	}
}

// Discover returns the infrastructure snapshot. Callers racing on a cold
// cache share a single discovery; forceRefresh bypasses the cache but still
// joins an in-flight discovery if one is running.
func (m *Manager) Discover(ctx context.Context, forceRefresh bool) (*Snapshot, error) {
	if !forceRefresh {
		if snapshot, ok := m.cache.Get(cacheKey); ok {
			return snapshot, nil
		}
	}

	result, err, _ := m.flight.Do(cacheKey, func() (interface{}, error) {
		snapshot := m.discover(ctx)
		m.cache.Add(cacheKey, snapshot)
		return snapshot, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*Snapshot), nil
}

// discover fans out one call per region and service, bounded by
// MaxConcurrency. Per-region failures are logged, recorded on the snapshot
// and do not abort the rest.
func (m *Manager) discover(ctx context.Context) *Snapshot {
	sem := semaphore.NewWeighted(m.config.MaxConcurrency)

	var mu sync.Mutex
	var statuses []ServiceStatus
	failedRegions := make(map[string]bool)

	var wg sync.WaitGroup
	for _, region := range m.config.Regions {
		for _, service := range m.config.Services {
			if err := sem.Acquire(ctx, 1); err != nil {
				// Cancelled; aggregate what we have
				mu.Lock()
				failedRegions[region] = true
				mu.Unlock()
				continue
			}
			wg.Add(1)
			go func(region, service string) {
				defer wg.Done()
				defer sem.Release(1)

				callCtx, cancel := context.WithTimeout(ctx, m.config.TimeoutPerService)
				defer cancel()

				status, err := m.provider.DescribeService(callCtx, region, service)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					m.logger.Warn("service discovery failed",
						"region", region, "service", service, "error", err)
					failedRegions[region] = true
					return
				}
				statuses = append(statuses, status)
			}(region, service)
		}
	}
	wg.Wait()

	sort.Slice(statuses, func(i, j int) bool {
		if statuses[i].Region != statuses[j].Region {
			return statuses[i].Region < statuses[j].Region
		}
		return statuses[i].Service < statuses[j].Service
	})

	snapshot := &Snapshot{
		Services:     statuses,
		DiscoveredAt: time.Now().UTC(),
	}
	criticalCount := 0
	for _, status := range statuses {
		snapshot.TotalServices++
		if status.Healthy() {
			snapshot.HealthyCount++
		} else {
			snapshot.UnhealthyCount++
		}
		if status.Critical() {
			criticalCount++
		}
		snapshot.ActiveAlarms += status.ActiveAlarms
		snapshot.Warnings += status.Warnings
	}
	for region := range failedRegions {
		snapshot.FailedRegions = append(snapshot.FailedRegions, region)
	}
	sort.Strings(snapshot.FailedRegions)

	snapshot.OverallHealth = deriveHealth(snapshot, criticalCount)
	return snapshot
}

// deriveHealth applies the threshold rules: critical when any service is in
// a critical state or more than 2 alarms are active; degraded on any
// warning, any alarm or any unhealthy service; healthy otherwise. An empty
// snapshot is unknown.
func deriveHealth(snapshot *Snapshot, criticalCount int) Health {
	if snapshot.TotalServices == 0 {
		return HealthUnknown
	}
	if criticalCount > 0 || snapshot.ActiveAlarms > 2 {
		return HealthCritical
	}
	if snapshot.Warnings > 0 || snapshot.ActiveAlarms >= 1 || snapshot.UnhealthyCount > 0 {
		return HealthDegraded
	}
	return HealthHealthy
}

// BuildContext renders the snapshot for prompt injection.
func (s *Snapshot) BuildContext() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Infrastructure: %d services, %d healthy, %d unhealthy, %d active alarms (overall %s).\n",
		s.TotalServices, s.HealthyCount, s.UnhealthyCount, s.ActiveAlarms, s.OverallHealth)
	for _, status := range s.Services {
		if status.Healthy() && status.ActiveAlarms == 0 {
			continue
		}
		fmt.Fprintf(&b, "- %s/%s: state=%s instances=%d alarms=%d\n",
			status.Region, status.Service, status.State, status.Instances, status.ActiveAlarms)
	}
	if len(s.FailedRegions) > 0 {
		fmt.Fprintf(&b, "Discovery incomplete for regions: %s\n", strings.Join(s.FailedRegions, ", "))
	}
	return b.String()
}
