package lifecycle

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sleuth-dev/sleuth/internal/logging"
)

// Manager starts components in dependency order and stops them in reverse.
// A component starts only after everything it depends on is running, and
// stops before any of its dependents.
type Manager struct {
	components   []Component
	dependencies map[Component][]Component

	started         []Component
	running         map[Component]bool
	shutdownTimeout time.Duration

	mu     sync.Mutex
	logger *logging.Logger
}

// NewManager creates a manager with a 30 second per-component shutdown
// grace period.
func NewManager() *Manager {
	return &Manager{
		dependencies:    make(map[Component][]Component),
		running:         make(map[Component]bool),
		shutdownTimeout: 30 * time.Second,
		logger:          logging.GetLogger("lifecycle"),
	}
}

// Register adds a component. Dependencies must already be registered;
// duplicate registration and dependency cycles are rejected.
func (m *Manager) Register(component Component, dependsOn ...Component) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if component == nil {
		return fmt.Errorf("cannot register nil component")
	}
	if component.Name() == "" {
		return fmt.Errorf("component must have a non-empty name")
	}
	for _, c := range m.components {
		if c == component {
			return fmt.Errorf("component %s is already registered", component.Name())
		}
	}
	for _, dep := range dependsOn {
		if !m.isRegistered(dep) {
			return fmt.Errorf("dependency %s is not registered", dep.Name())
		}
	}
	if m.dependsTransitively(component, dependsOn) {
		return fmt.Errorf("registering %s would create a circular dependency", component.Name())
	}

	m.components = append(m.components, component)
	m.dependencies[component] = dependsOn
	m.logger.Debug("Registered component %s with %d dependencies", component.Name(), len(dependsOn))
	return nil
}

func (m *Manager) isRegistered(component Component) bool {
	for _, c := range m.components {
		if c == component {
			return true
		}
	}
	return false
}

// dependsTransitively reports whether component is reachable from any of
// the given dependencies, which would make the new edge a cycle.
func (m *Manager) dependsTransitively(component Component, deps []Component) bool {
	for _, dep := range deps {
		if dep == component {
			return true
		}
		if m.dependsTransitively(component, m.dependencies[dep]) {
			return true
		}
	}
	return false
}

// Start brings up all components in dependency order. If any component
// fails, the ones already started are stopped again in reverse order and
// the error is returned.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.started = nil
	for _, component := range m.startOrder() {
		m.logger.Info("Starting %s", component.Name())
		startTime := time.Now()

		if err := component.Start(ctx); err != nil {
			m.logger.Error("Failed to start %s: %v", component.Name(), err)
			m.rollback()
			return fmt.Errorf("initialization failed for %s: %w", component.Name(), err)
		}

		m.running[component] = true
		m.started = append(m.started, component)
		m.logger.Info("%s started (took %dms)", component.Name(), time.Since(startTime).Milliseconds())
	}

	m.logger.Info("All components started")
	return nil
}

// startOrder returns the components topologically sorted, dependencies
// before dependents.
func (m *Manager) startOrder() []Component {
	visited := make(map[Component]bool)
	var sorted []Component

	var visit func(Component)
	visit = func(component Component) {
		if visited[component] {
			return
		}
		visited[component] = true
		for _, dep := range m.dependencies[component] {
			visit(dep)
		}
		sorted = append(sorted, component)
	}

	for _, component := range m.components {
		visit(component)
	}
	return sorted
}

// rollback stops everything started during a failed Start, newest first.
// Caller holds m.mu.
func (m *Manager) rollback() {
	for i := len(m.started) - 1; i >= 0; i-- {
		component := m.started[i]
		m.logger.Debug("Rolling back: stopping %s", component.Name())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := component.Stop(ctx); err != nil {
			m.logger.Warn("Error stopping %s during rollback: %v", component.Name(), err)
		}
		cancel()
		m.running[component] = false
	}
	m.started = nil
}

// Stop shuts down all started components in reverse start order. Each
// component gets its own grace period; errors are logged, never returned,
// so one slow component cannot keep the rest from stopping.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Stopping all components")

	for i := len(m.started) - 1; i >= 0; i-- {
		component := m.started[i]
		if !m.running[component] {
			continue
		}

		m.logger.Info("Stopping %s", component.Name())
		startTime := time.Now()

		componentCtx, cancel := context.WithTimeout(ctx, m.shutdownTimeout)
		err := component.Stop(componentCtx)
		cancel()

		if err != nil {
			if err == context.DeadlineExceeded {
				m.logger.Warn("Component %s exceeded its %dms grace period", component.Name(), m.shutdownTimeout.Milliseconds())
			} else {
				m.logger.Error("Error stopping %s: %v", component.Name(), err)
			}
		} else {
			m.logger.Info("%s stopped (took %dms)", component.Name(), time.Since(startTime).Milliseconds())
		}
		m.running[component] = false
	}

	m.logger.Info("All components stopped")
	return nil
}

// IsRunning reports whether the component started and has not stopped.
func (m *Manager) IsRunning(component Component) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running[component]
}

// SetShutdownTimeout overrides the per-component shutdown grace period.
func (m *Manager) SetShutdownTimeout(timeout time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shutdownTimeout = timeout
}
