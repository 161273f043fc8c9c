package api

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/SunshadeCorp/relay-service/internal/event"
	"github.com/SunshadeCorp/relay-service/internal/journal"
	"github.com/SunshadeCorp/relay-service/internal/process"
)

const healthCheckTimeout = 2 * time.Second

// Health status values.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

// HealthResponse is the body of GET /api/v1/health.
type HealthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	MQTTConnected bool   `json:"mqtt_connected"`
	KillSwitch    string `json:"kill_switch"`
	Database      string `json:"database"`
	InfluxDB      string `json:"influxdb"`

	// Broker is set when mosquitto is managed by the service.
	Broker *process.Stats `json:"broker,omitempty"`
}

// handleHealth answers 200 when the broker is reachable, the journal
// database (if configured) responds and a managed broker is running, 503
// otherwise. InfluxDB is reported but never degrades health. A pressed kill
// switch is a safe state, not a health failure.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:        HealthOK,
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		MQTTConnected: s.mqtt.IsConnected(),
		KillSwitch:    s.killSwitch.State(),
		Database:      "disabled",
		InfluxDB:      "disabled",
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if s.db != nil {
		if err := s.db.HealthCheck(ctx); err != nil {
			s.logger.Warn("database health check failed", "error", err)
			resp.Database = "error"
			resp.Status = HealthDegraded
		} else {
			resp.Database = HealthOK
		}
	}
	if s.timeSeries != nil {
		if err := s.timeSeries.HealthCheck(ctx); err != nil {
			s.logger.Warn("InfluxDB health check failed", "error", err)
			resp.InfluxDB = "error"
		} else {
			resp.InfluxDB = HealthOK
		}
	}
	if resp.Broker = s.brokerStats(); resp.Broker != nil && resp.Broker.Status != process.StatusRunning {
		resp.Status = HealthDegraded
	}
	if !resp.MQTTConnected {
		resp.Status = HealthDegraded
	}

	status := http.StatusOK
	if resp.Status != HealthOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleListRelays(w http.ResponseWriter, _ *http.Request) {
	relays := s.registry.Snapshots()
	writeJSON(w, http.StatusOK, map[string]any{
		"relays": relays,
		"count":  len(relays),
	})
}

// handleGetRelay looks a relay up by number or alias, the same selectors
// accepted on the MQTT command topics.
func (s *Server) handleGetRelay(w http.ResponseWriter, r *http.Request) {
	selector := chi.URLParam(r, "selector")
	rl, ok := s.registry.Resolve(selector)
	if !ok {
		writeNotFound(w, "relay not found: "+selector)
		return
	}
	writeJSON(w, http.StatusOK, rl.Snapshot())
}

// KillSwitchResponse is the body of GET /api/v1/kill-switch.
type KillSwitchResponse struct {
	State      string `json:"state"`
	Unsafe     bool   `json:"unsafe"`
	LineActive bool   `json:"line_active"`
}

func (s *Server) handleKillSwitch(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, KillSwitchResponse{
		State:      s.killSwitch.State(),
		Unsafe:     s.killSwitch.Unsafe(),
		LineActive: s.killSwitch.LineActive(),
	})
}

func (s *Server) handlePrecharge(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running": s.precharge.Running(),
	})
}

// handleListEvents returns journal entries, newest first.
// Query parameters: limit (1..500) and kind.
func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeUnavailable(w, "event journal is disabled")
		return
	}

	var q journal.Query
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		q.Limit = n
	}
	if v := r.URL.Query().Get("kind"); v != "" {
		kind := event.Kind(v)
		if !validKind(kind) {
			writeBadRequest(w, "unknown event kind: "+v)
			return
		}
		q.Kind = kind
	}

	entries, err := s.journal.Recent(r.Context(), q)
	if err != nil {
		s.logger.Error("querying event journal", "error", err)
		writeInternalError(w, "failed to query events")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": entries,
		"count":  len(entries),
	})
}

func validKind(k event.Kind) bool {
	switch k {
	case event.KindRelayState, event.KindKillSwitch, event.KindPrecharge:
		return true
	}
	return false
}

// SystemMetrics is the body of GET /api/v1/metrics.
type SystemMetrics struct {
	Timestamp     string         `json:"timestamp"`
	Version       string         `json:"version"`
	UptimeSeconds int64          `json:"uptime_seconds"`
	Runtime       RuntimeMetrics `json:"runtime"`
	WebSocket     WSMetrics      `json:"websocket"`
	MQTT          MQTTMetrics    `json:"mqtt"`
	Relays        RelayMetrics   `json:"relays"`
	Broker        *process.Stats `json:"broker,omitempty"`
}

// RuntimeMetrics contains Go runtime statistics.
type RuntimeMetrics struct {
	Goroutines    int     `json:"goroutines"`
	MemoryAllocMB float64 `json:"memory_alloc_mb"`
	MemoryTotalMB float64 `json:"memory_total_mb"`
	NumGC         uint32  `json:"num_gc"`
}

// WSMetrics contains WebSocket hub statistics.
type WSMetrics struct {
	ConnectedClients int `json:"connected_clients"`
}

// MQTTMetrics contains MQTT client statistics.
type MQTTMetrics struct {
	Connected bool `json:"connected"`
}

// RelayMetrics summarises the relay bank.
type RelayMetrics struct {
	Total            int  `json:"total"`
	Active           int  `json:"active"`
	KillSwitchUnsafe bool `json:"kill_switch_unsafe"`
	PrechargeRunning bool `json:"precharge_running"`
}

func (s *Server) handleSystemMetrics(w http.ResponseWriter, _ *http.Request) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	snaps := s.registry.Snapshots()
	active := 0
	for _, snap := range snaps {
		if snap.Active {
			active++
		}
	}

	writeJSON(w, http.StatusOK, SystemMetrics{
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Runtime: RuntimeMetrics{
			Goroutines:    runtime.NumGoroutine(),
			MemoryAllocMB: float64(memStats.Alloc) / 1024 / 1024,
			MemoryTotalMB: float64(memStats.TotalAlloc) / 1024 / 1024,
			NumGC:         memStats.NumGC,
		},
		WebSocket: WSMetrics{ConnectedClients: s.hub.ClientCount()},
		MQTT:      MQTTMetrics{Connected: s.mqtt.IsConnected()},
		Relays: RelayMetrics{
			Total:            len(snaps),
			Active:           active,
			KillSwitchUnsafe: s.killSwitch.Unsafe(),
			PrechargeRunning: s.precharge.Running(),
		},
		Broker: s.brokerStats(),
	})
}

func (s *Server) brokerStats() *process.Stats {
	if s.broker == nil {
		return nil
	}
	stats := s.broker.Stats()
	return &stats
}
