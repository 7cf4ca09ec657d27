// ABOUTME: Health and metrics reports aggregated per channel
// ABOUTME: Adapters may self-report health; the rest are healthy once registered

package manager

import (
	"time"

	"github.com/storyweave/storyweave-gateway/internal/channel"
)

// ChannelHealth is one channel's slice of the health report.
type ChannelHealth struct {
	Healthy        bool      `json:"healthy"`
	ActiveSessions int       `json:"active_sessions"`
	LastUsed       time.Time `json:"last_used,omitempty"`
}

// HealthReport is the aggregate health view for the health endpoint.
type HealthReport struct {
	Status         string                   `json:"status"` // "ok" or "degraded"
	ActiveSessions int                      `json:"active_sessions"`
	Channels       map[string]ChannelHealth `json:"channels"`
}

// ChannelMetrics is one channel's usage counters.
type ChannelMetrics struct {
	Requests       int64     `json:"requests"`
	Errors         int64     `json:"errors"`
	ErrorRate      float64   `json:"error_rate"`
	AvgResponseMs  float64   `json:"avg_response_ms"`
	ActiveSessions int       `json:"active_sessions"`
	LastUsed       time.Time `json:"last_used,omitempty"`
}

// MetricsReport is the aggregate metrics view for the metrics endpoint.
type MetricsReport struct {
	TotalRequests  int64                     `json:"total_requests"`
	TotalErrors    int64                     `json:"total_errors"`
	ActiveSessions int                       `json:"active_sessions"`
	Channels       map[string]ChannelMetrics `json:"channels"`
}

// Health reports per-channel status and active session counts. A channel is
// unhealthy only when its adapter implements HealthReporter and says so.
func (m *Manager) Health() *HealthReport {
	active := m.engine.ActiveByChannel()

	report := &HealthReport{
		Status:         "ok",
		ActiveSessions: m.engine.ActiveSessions(),
		Channels:       make(map[string]ChannelHealth),
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, tag := range m.registry.Tags() {
		healthy := true
		if adapter, ok := m.registry.Get(tag); ok {
			if reporter, ok := adapter.(channel.HealthReporter); ok {
				healthy = reporter.Healthy()
			}
		}
		if !healthy {
			report.Status = "degraded"
		}
		ch := ChannelHealth{Healthy: healthy, ActiveSessions: active[tag]}
		if stats, ok := m.metrics[tag]; ok {
			ch.LastUsed = stats.lastUsed
		}
		report.Channels[tag] = ch
	}
	return report
}

// Metrics reports usage counters per channel plus totals.
func (m *Manager) Metrics() *MetricsReport {
	active := m.engine.ActiveByChannel()

	report := &MetricsReport{
		ActiveSessions: m.engine.ActiveSessions(),
		Channels:       make(map[string]ChannelMetrics),
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	for tag, stats := range m.metrics {
		cm := ChannelMetrics{
			Requests:       stats.requests,
			Errors:         stats.errors,
			ActiveSessions: active[tag],
			LastUsed:       stats.lastUsed,
		}
		if stats.requests > 0 {
			cm.ErrorRate = float64(stats.errors) / float64(stats.requests)
			cm.AvgResponseMs = float64(stats.totalLatency.Milliseconds()) / float64(stats.requests)
		}
		report.Channels[tag] = cm
		report.TotalRequests += stats.requests
		report.TotalErrors += stats.errors
	}
	return report
}
