package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics holds the Prometheus collectors of the API and worker processes.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	LoginAttempts  *prometheus.CounterVec
	GateDenials    *prometheus.CounterVec
	FaceDetections *prometheus.CounterVec
	FaceSyncJobs   *prometheus.CounterVec
}

// NewRegistry returns a registry with the Go and process collectors attached.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return reg
}

// NewMetrics creates and registers the facedesk collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		LoginAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facedesk_login_attempts_total",
			Help: "Login attempts by result",
		}, []string{"result"}),
		GateDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facedesk_gate_denials_total",
			Help: "Requests rejected by a route guard, by reason",
		}, []string{"reason"}),
		FaceDetections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facedesk_face_detections_total",
			Help: "Face detection requests by result",
		}, []string{"result"}),
		FaceSyncJobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "facedesk_face_sync_jobs_total",
			Help: "Face gallery sync jobs by operation and result",
		}, []string{"op", "result"}),
	}
	reg.MustRegister(m.LoginAttempts, m.GateDenials, m.FaceDetections, m.FaceSyncJobs)
	return m
}

func (m *Metrics) loginAttempt(result string) {
	if m == nil {
		return
	}
	m.LoginAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) gateDenied(reason string) {
	if m == nil {
		return
	}
	m.GateDenials.WithLabelValues(reason).Inc()
}

func (m *Metrics) faceDetection(result string) {
	if m == nil {
		return
	}
	m.FaceDetections.WithLabelValues(result).Inc()
}

func (m *Metrics) faceSyncJob(op, result string) {
	if m == nil {
		return
	}
	m.FaceSyncJobs.WithLabelValues(op, result).Inc()
}
