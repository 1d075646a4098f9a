package contact_sync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var crmUpsertCnt = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "relay_crm_upserts_total",
	Help: "CRM contact upserts partitioned by outcome.",
}, []string{"outcome"})
