package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var savesCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_subject_saves",
	Help: "Subject save notifications processed, by outcome",
}, []string{"subject_type", "status"})

var ticketsOpenedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_tickets_opened",
	Help: "Moderation tickets newly created",
}, []string{"subject_type"})

var ticketsReusedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_tickets_reused",
	Help: "Open moderation tickets reused by a later qualifying save",
}, []string{"subject_type"})

var decisionsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_decisions_applied",
	Help: "Moderator decisions applied, by decision label",
}, []string{"decision"})
