package event_handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventCnt = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "relay_webhook_events_total",
	Help: "Verified webhook events partitioned by type and outcome.",
}, []string{"type", "outcome"})
