package guard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsRouted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hallmonitor_events_routed",
	Help: "Number of events dispatched to monitor groups",
}, []string{"type"})

var groupsSpawned = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hallmonitor_groups_spawned",
	Help: "Number of monitor groups created",
}, []string{"trigger"})

var groupsStopped = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hallmonitor_groups_stopped",
	Help: "Number of monitor groups terminated",
}, []string{"reason"})

var violationsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hallmonitor_violations_emitted",
	Help: "Number of violations delivered to the moderator",
}, []string{"kind"})

var violationsDropped = promauto.NewCounter(prometheus.CounterOpts{
	Name: "hallmonitor_violations_dropped",
	Help: "Number of violations dropped because the moderator was unreachable",
})

var kicksIssued = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hallmonitor_kicks_issued",
	Help: "Number of kicks issued against users",
}, []string{"kind"})

var challengeOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hallmonitor_challenge_outcomes",
	Help: "Join-challenge terminal outcomes",
}, []string{"outcome"})

var serviceRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "hallmonitor_service_restarts",
	Help: "Number of supervised singleton restarts after failure",
}, []string{"service"})
