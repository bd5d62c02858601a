package logpattern

import (
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrServiceNotFound is returned when a service has no templates yet.
var ErrServiceNotFound = errors.New("service not found")

// serviceTemplates holds per-service clustering state. Each service gets
// its own Drain instance so patterns never bleed across services.
type serviceTemplates struct {
	drain     *processor
	templates map[string]*Template

	mu sync.RWMutex
}

// Store clusters log lines into service-scoped templates.
type Store struct {
	services map[string]*serviceTemplates
	config   Config

	mu sync.RWMutex
}

// NewStore creates a store. Per-service Drain instances are created lazily.
func NewStore(config Config) *Store {
	return &Store{
		services: make(map[string]*serviceTemplates),
		config:   config,
	}
}

// Process runs one line through the pipeline: normalize, cluster, mask,
// hash. Returns the template ID the line was assigned to.
func (s *Store) Process(service, line string) (string, error) {
	st := s.getOrCreateService(service)

	normalized := preProcess(line)
	cluster := st.drain.train(normalized)

	// cluster.String() has the form "id={X} : size={Y} : [pattern]".
	pattern := extractPattern(cluster.String())
	maskedPattern := Mask(pattern)

	// Drain rewrites learned variable positions to <*> only after it has
	// seen a second line, so the first line of a pattern would hash
	// differently from the rest. Collapsing every placeholder to <VAR>
	// keeps the ID stable across that transition.
	templateID := TemplateID(service, normalizeWildcards(maskedPattern))

	st.mu.Lock()
	defer st.mu.Unlock()

	if template, exists := st.templates[templateID]; exists {
		template.Count++
		template.LastSeen = time.Now()
	} else {
		now := time.Now()
		st.templates[templateID] = &Template{
			ID:        templateID,
			Service:   service,
			Pattern:   maskedPattern,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
	}

	return templateID, nil
}

// Templates returns the service's templates sorted by count descending.
// The result is a copy; mutating it does not affect the store.
func (s *Store) Templates(service string) (TemplateList, error) {
	s.mu.RLock()
	st, exists := s.services[service]
	s.mu.RUnlock()

	if !exists {
		return nil, ErrServiceNotFound
	}

	st.mu.RLock()
	defer st.mu.RUnlock()

	list := make(TemplateList, 0, len(st.templates))
	for _, template := range st.templates {
		list = append(list, *template)
	}
	list.SortByCount()
	return list, nil
}

// Services lists every service the store has seen lines for.
func (s *Store) Services() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	services := make([]string, 0, len(s.services))
	for service := range s.services {
		services = append(services, service)
	}
	return services
}

func extractPattern(clusterStr string) string {
	lastSep := strings.LastIndex(clusterStr, " : ")
	if lastSep == -1 {
		return clusterStr
	}
	return strings.TrimSpace(clusterStr[lastSep+3:])
}

// normalizeWildcards collapses every placeholder to <VAR> for ID hashing.
// The masked pattern keeps its typed placeholders for display.
func normalizeWildcards(pattern string) string {
	placeholders := []string{
		"<*>", "<IP>", "<UUID>", "<TIMESTAMP>", "<HEX>", "<PATH>",
		"<URL>", "<EMAIL>", "<NUM>",
	}

	normalized := pattern
	for _, placeholder := range placeholders {
		normalized = strings.ReplaceAll(normalized, placeholder, "<VAR>")
	}
	return normalized
}

func (s *Store) getOrCreateService(service string) *serviceTemplates {
	s.mu.RLock()
	st, exists := s.services[service]
	s.mu.RUnlock()

	if exists {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if st, exists := s.services[service]; exists {
		return st
	}

	st = &serviceTemplates{
		drain:     newProcessor(s.config),
		templates: make(map[string]*Template),
	}
	s.services[service] = st
	return st
}
