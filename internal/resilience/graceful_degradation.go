package resilience

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// DegradationLevel represents the current degradation state of a source
type DegradationLevel int

const (
	LevelNormal DegradationLevel = iota
	LevelDegraded
	LevelCritical
)

func (l DegradationLevel) String() string {
	switch l {
	case LevelDegraded:
		return "degraded"
	case LevelCritical:
		return "critical"
	default:
		return "normal"
	}
}

// MarshalText renders the level by name in JSON
func (l DegradationLevel) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// DegradationConfig holds the error rate bands and the counting window
type DegradationConfig struct {
	DegradedThreshold float64       `json:"degraded_threshold"`
	CriticalThreshold float64       `json:"critical_threshold"`
	Window            time.Duration `json:"window"`
}

// DefaultDegradationConfig returns 10%/25% bands over a five minute window
func DefaultDegradationConfig() DegradationConfig {
	return DegradationConfig{
		DegradedThreshold: 0.1,
		CriticalThreshold: 0.25,
		Window:            5 * time.Minute,
	}
}

// ServiceHealth is the rolling health of one upstream source
type ServiceHealth struct {
	ServiceName     string           `json:"service_name"`
	Level           DegradationLevel `json:"level"`
	ErrorRate       float64          `json:"error_rate"`
	TotalRequests   int64            `json:"total_requests"`
	ErrorCount      int64            `json:"error_count"`
	LastErrorTime   *time.Time       `json:"last_error_time,omitempty"`
	WindowStartedAt time.Time        `json:"window_started_at"`
}

// DegradationManager tracks the success rate of every upstream source the
// engine reads from. Sources are registered on first use.
type DegradationManager struct {
	config   DegradationConfig
	services map[string]*ServiceHealth
	mutex    sync.RWMutex
	now      func() time.Time
}

// NewDegradationManager creates a new degradation manager
func NewDegradationManager(config DegradationConfig) *DegradationManager {
	return &DegradationManager{
		config:   config,
		services: make(map[string]*ServiceHealth),
		now:      time.Now,
	}
}

// RecordRequest records the outcome of one fetch from a source
func (dm *DegradationManager) RecordRequest(serviceName string, success bool) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	now := dm.now()
	service, exists := dm.services[serviceName]
	if !exists {
		service = &ServiceHealth{ServiceName: serviceName, WindowStartedAt: now}
		dm.services[serviceName] = service
	}

	// counts restart each window so a recovered source returns to normal
	if dm.config.Window > 0 && now.Sub(service.WindowStartedAt) > dm.config.Window {
		service.TotalRequests = 0
		service.ErrorCount = 0
		service.WindowStartedAt = now
	}

	service.TotalRequests++
	if !success {
		service.ErrorCount++
		service.LastErrorTime = &now
	}
	service.ErrorRate = float64(service.ErrorCount) / float64(service.TotalRequests)

	old := service.Level
	switch {
	case service.ErrorRate >= dm.config.CriticalThreshold:
		service.Level = LevelCritical
	case service.ErrorRate >= dm.config.DegradedThreshold:
		service.Level = LevelDegraded
	default:
		service.Level = LevelNormal
	}

	if old != service.Level {
		slog.Warn("Source degradation level changed",
			"source", serviceName,
			"old_level", old.String(),
			"new_level", service.Level.String(),
			"error_rate", service.ErrorRate,
			"total_requests", service.TotalRequests,
		)
	}
}

// GetServiceHealth returns a copy of one source's health
func (dm *DegradationManager) GetServiceHealth(serviceName string) (*ServiceHealth, bool) {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	service, exists := dm.services[serviceName]
	if !exists {
		return nil, false
	}
	copied := *service
	return &copied, true
}

// GetAllServiceHealth returns copies of every tracked source, sorted by name
func (dm *DegradationManager) GetAllServiceHealth() []ServiceHealth {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	out := make([]ServiceHealth, 0, len(dm.services))
	for _, service := range dm.services {
		out = append(out, *service)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ServiceName < out[j].ServiceName })
	return out
}

// Worst returns the highest level across all sources
func (dm *DegradationManager) Worst() DegradationLevel {
	dm.mutex.RLock()
	defer dm.mutex.RUnlock()

	worst := LevelNormal
	for _, service := range dm.services {
		if service.Level > worst {
			worst = service.Level
		}
	}
	return worst
}

// ResetService clears a source's counters
func (dm *DegradationManager) ResetService(serviceName string) {
	dm.mutex.Lock()
	defer dm.mutex.Unlock()

	if _, exists := dm.services[serviceName]; exists {
		dm.services[serviceName] = &ServiceHealth{ServiceName: serviceName, WindowStartedAt: dm.now()}
		slog.Info("Source health reset", "source", serviceName)
	}
}
