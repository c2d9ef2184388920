package main

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("hallmonitor")

var eventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hallmonitor_events_received",
	Help: "Number of sync events received",
}, []string{"type"})

var eventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hallmonitor_events_dropped",
	Help: "Number of sync events dropped before routing",
}, []string{"reason"})

var syncRestarts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "hallmonitor_sync_restarts",
	Help: "Number of times the sync loop was restarted after a failure",
})
