package metrics

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// HealthStatus is the JSON body served on the health endpoints.
type HealthStatus struct {
	Status     string            `json:"status"` // "healthy", "unhealthy", "ready", "not_ready"
	Timestamp  time.Time         `json:"timestamp"`
	Components map[string]string `json:"components,omitempty"`
	Message    string            `json:"message,omitempty"`
	Version    string            `json:"version,omitempty"`
	Uptime     string            `json:"uptime,omitempty"`
	StartTime  time.Time         `json:"-"`
}

var healthChecker = &HealthChecker{
	components: make(map[string]ComponentHealth),
	startTime:  time.Now(),
}

// ComponentHealth tracks one component inside the process.
type ComponentHealth struct {
	Name    string
	Healthy bool
	Message string
	Updated time.Time
}

// HealthChecker aggregates component health for the HTTP endpoints.
type HealthChecker struct {
	mu         sync.RWMutex
	components map[string]ComponentHealth
	critical   []string
	startTime  time.Time
	version    string
}

// SetVersion sets the version string reported on health responses.
func SetVersion(version string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.version = version
}

// SetCritical names the components readiness waits for. Each role registers
// its own set at startup: the relay its listeners, clients their links.
func SetCritical(names ...string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()
	healthChecker.critical = names
}

// RegisterComponent records a component's health.
func RegisterComponent(name string, healthy bool, message string) {
	healthChecker.mu.Lock()
	defer healthChecker.mu.Unlock()

	healthChecker.components[name] = ComponentHealth{
		Name:    name,
		Healthy: healthy,
		Message: message,
		Updated: time.Now(),
	}
}

// UpdateComponent updates a component's health.
func UpdateComponent(name string, healthy bool, message string) {
	RegisterComponent(name, healthy, message)
}

// GetHealth reports overall health: unhealthy if any component is.
func GetHealth() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status := "healthy"
	components := make(map[string]string)

	for name, comp := range healthChecker.components {
		if !comp.Healthy {
			status = "unhealthy"
			components[name] = "unhealthy: " + comp.Message
		} else {
			components[name] = "healthy"
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Version:    healthChecker.version,
		Uptime:     time.Since(healthChecker.startTime).String(),
		StartTime:  healthChecker.startTime,
	}
}

// GetReadiness reports readiness: every critical component must be
// registered and healthy.
func GetReadiness() HealthStatus {
	healthChecker.mu.RLock()
	defer healthChecker.mu.RUnlock()

	status := "ready"
	message := ""
	components := make(map[string]string)

	for _, name := range healthChecker.critical {
		comp, exists := healthChecker.components[name]
		switch {
		case !exists:
			status = "not_ready"
			message = "waiting for " + name + " initialization"
			components[name] = "not registered"
		case !comp.Healthy:
			status = "not_ready"
			message = "waiting for " + name
			components[name] = "not ready: " + comp.Message
		default:
			components[name] = "ready"
		}
	}

	return HealthStatus{
		Status:     status,
		Timestamp:  time.Now(),
		Components: components,
		Message:    message,
		Version:    healthChecker.version,
		Uptime:     time.Since(healthChecker.startTime).String(),
		StartTime:  healthChecker.startTime,
	}
}

// HealthHandler serves the /healthz endpoint.
func HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := GetHealth()

		w.Header().Set("Content-Type", "application/json")
		statusCode := http.StatusOK
		if health.Status == "unhealthy" {
			statusCode = http.StatusServiceUnavailable
		}
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(health)
	}
}

// ReadyHandler serves the /readyz endpoint.
func ReadyHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		readiness := GetReadiness()

		w.Header().Set("Content-Type", "application/json")
		statusCode := http.StatusOK
		if readiness.Status != "ready" {
			statusCode = http.StatusServiceUnavailable
		}
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(readiness)
	}
}

// LivenessHandler serves the /livez endpoint; it answers 200 whenever the
// process is up.
func LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status": "alive",
			"uptime": time.Since(healthChecker.startTime).String(),
		})
	}
}
