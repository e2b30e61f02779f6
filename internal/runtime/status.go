package runtime

import (
	"net/http"
	"strings"
	"time"

	"github.com/drblury/flowplan/internal/runtime/jsoncodec"
)

// RunnerStatus describes one runner of an instance.
type RunnerStatus struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	State     string   `json:"state"`
	Inputs    []string `json:"inputs,omitempty"`
	Outputs   []string `json:"outputs,omitempty"`
	Recording bool     `json:"recording,omitempty"`
}

// InstanceStatus describes one instance running on the service.
type InstanceStatus struct {
	ID      string         `json:"id"`
	Flow    string         `json:"flow"`
	Done    bool           `json:"done"`
	Runners []RunnerStatus `json:"runners"`
}

// ResourceUsage is a coarse sample of the process.
type ResourceUsage struct {
	CPUPercent  float64 `json:"cpu_percent"`
	MemoryBytes uint64  `json:"memory_bytes"`
	Goroutines  int     `json:"goroutines"`
}

// ServiceStatus is the document served by StatusHandler.
type ServiceStatus struct {
	Runtime   string           `json:"runtime"`
	Transport string           `json:"transport"`
	Clock     string           `json:"clock"`
	SampledAt time.Time        `json:"sampled_at"`
	Resource  ResourceUsage    `json:"resource"`
	Instances []InstanceStatus `json:"instances"`
}

// Status returns a snapshot of every runner of i.
func (i *Instance) Status() InstanceStatus {
	st := InstanceStatus{ID: i.record.UUID.String(), Flow: i.record.Flow}
	select {
	case <-i.done:
		st.Done = true
	default:
	}
	for _, id := range i.Runners() {
		r := i.runners[id]
		st.Runners = append(st.Runners, RunnerStatus{
			ID:        string(id),
			Kind:      string(r.Kind()),
			State:     r.State().String(),
			Inputs:    portStrings(r.Inputs()),
			Outputs:   portStrings(r.Outputs()),
			Recording: r.IsRecording(),
		})
	}
	return st
}

// Status returns a snapshot of the service and its instances.
func (s *Service) Status() ServiceStatus {
	st := ServiceStatus{
		Runtime:   string(s.rc.Runtime),
		Transport: s.transport.Capabilities.Name,
		Clock:     s.rc.Clock.NewTimestamp().String(),
		SampledAt: time.Now().UTC(),
		Resource:  s.usage.Snapshot(),
		Instances: []InstanceStatus{},
	}
	for _, id := range s.Instances() {
		if inst, ok := s.Instance(id); ok {
			st.Instances = append(st.Instances, inst.Status())
		}
	}
	return st
}

// StatusHandler serves Status as JSON.
func (s *Service) StatusHandler() http.Handler {
	return http.HandlerFunc(s.handleGetStatus)
}

func (s *Service) handleGetStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.Conf != nil && len(s.Conf.StatusCORSAllowedOrigins) > 0 {
		if allowed := s.allowedCORSOrigin(r.Header.Get("Origin")); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := jsoncodec.Encode(w, s.Status()); err != nil {
		s.Logger.Error("Failed to encode status", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

func (s *Service) allowedCORSOrigin(origin string) string {
	for _, allowed := range s.Conf.StatusCORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}

func portStrings[T ~string](ports []T) []string {
	if len(ports) == 0 {
		return nil
	}
	out := make([]string, len(ports))
	for i, p := range ports {
		out[i] = string(p)
	}
	return out
}
