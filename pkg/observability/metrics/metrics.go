package metrics

import (
    "sync"

    "github.com/prometheus/client_golang/prometheus"
)

var (
    once sync.Once

    Cycles = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "clustermon",
        Name:      "cycles_total",
        Help:      "Total number of completed monitor cycles",
    })

    CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
        Namespace: "clustermon",
        Name:      "cycle_duration_seconds",
        Help:      "Wall time of one monitor cycle from hub selection to status publication",
        Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
    })

    Nodes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
        Namespace: "clustermon",
        Name:      "nodes",
        Help:      "Number of tracked nodes per published status",
    }, []string{"status"})

    HubUp = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "clustermon",
        Subsystem: "hub",
        Name:      "up",
        Help:      "1 if a hub connection is held, else 0",
    })

    HubChanges = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "clustermon",
        Subsystem: "hub",
        Name:      "changes_total",
        Help:      "Total number of hub (re)selections",
    })

    HubSelectFailures = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "clustermon",
        Subsystem: "hub",
        Name:      "unavailable_total",
        Help:      "Cycles in which no candidate could serve as hub",
    })

    MembershipRefreshes = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "clustermon",
        Subsystem: "membership",
        Name:      "refreshes_total",
        Help:      "Membership refresh attempts by result",
    }, []string{"result"})

    QuorumLost = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "clustermon",
        Subsystem: "membership",
        Name:      "quorum_lost",
        Help:      "1 if the last refresh reported the cluster without quorum",
    })

    Probes = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "clustermon",
        Subsystem: "probe",
        Name:      "results_total",
        Help:      "Health probe results by outcome",
    }, []string{"outcome"})

    ProbesInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "clustermon",
        Subsystem: "probe",
        Name:      "in_flight",
        Help:      "Number of outstanding health probes",
    })

    ProbesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "clustermon",
        Subsystem: "probe",
        Name:      "skipped_total",
        Help:      "Probes not dispatched because the previous probe for the node was still outstanding",
    })

    LateResults = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "clustermon",
        Subsystem: "probe",
        Name:      "late_results_total",
        Help:      "Probe results that arrived after their cycle published, by disposition",
    }, []string{"disposition"})

    AdminCommands = prometheus.NewCounterVec(prometheus.CounterOpts{
        Namespace: "clustermon",
        Subsystem: "admin",
        Name:      "commands_total",
        Help:      "Softfail/unsoftfail commands by operation and result",
    }, []string{"op", "result"})

    GRPCConnDials = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "clustermon",
        Subsystem: "grpc_conn",
        Name:      "dials_total",
        Help:      "Total number of new gRPC connections dialed",
    })
    GRPCConnReuse = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "clustermon",
        Subsystem: "grpc_conn",
        Name:      "reuse_total",
        Help:      "Total number of gRPC connection reuses from cache",
    })
    GRPCConnEvictions = prometheus.NewCounter(prometheus.CounterOpts{
        Namespace: "clustermon",
        Subsystem: "grpc_conn",
        Name:      "evictions_total",
        Help:      "Total number of cached gRPC connections evicted",
    })
    GRPCConnActive = prometheus.NewGauge(prometheus.GaugeOpts{
        Namespace: "clustermon",
        Subsystem: "grpc_conn",
        Name:      "active",
        Help:      "Number of active cached gRPC connections",
    })
)

// Register registers metrics into the default Prometheus registry (idempotent).
func Register() {
    once.Do(func() {
        prometheus.MustRegister(Cycles, CycleDuration, Nodes)
        prometheus.MustRegister(HubUp, HubChanges, HubSelectFailures)
        prometheus.MustRegister(MembershipRefreshes, QuorumLost)
        prometheus.MustRegister(Probes, ProbesInFlight, ProbesSkipped, LateResults)
        prometheus.MustRegister(AdminCommands)
        prometheus.MustRegister(GRPCConnDials, GRPCConnReuse, GRPCConnEvictions, GRPCConnActive)
    })
}
