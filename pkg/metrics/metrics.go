package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/component-base/metrics/legacyregistry"
	"k8s.io/klog/v2"
)

const namespace = "ha_controller"

func init() {
	legacyregistry.RawMustRegister(
		WatcherEvents,
		WatcherReconnects,
		BrokerPublished,
		BrokerPublishFailures,
		DispatchedEvents,
		OrchestrationDuration,
		ClusterNodes,
		ClusterResources,
		StatusQueryFailures,
	)
}

// Watcher results.
const (
	ResultEmitted       = "emitted"
	ResultSuppressed    = "suppressed"
	ResultPublishFailed = "publish_failed"
	ResultSuccess       = "success"
	ResultError         = "error"
)

var (
	WatcherEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "watcher",
		Name:      "events_total",
		Help:      "Platform watch events processed, by object class and result.",
	}, []string{"class", "result"})

	WatcherReconnects = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "watcher",
		Name:      "reconnects_total",
		Help:      "Number of times a watch stream was re-established.",
	}, []string{"class"})

	BrokerPublished = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broker",
		Name:      "published_total",
		Help:      "Health events published, by publishing component.",
	}, []string{"component"})

	BrokerPublishFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "broker",
		Name:      "publish_failures_total",
		Help:      "Health events that could not be sent on the transport.",
	}, []string{"component"})

	DispatchedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "dispatcher",
		Name:      "events_total",
		Help:      "Health events handled by the action dispatcher.",
	}, []string{"resource_type", "status", "result"})

	OrchestrationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "orchestration",
		Name:      "operation_duration_seconds",
		Help:      "Duration of cluster operations including convergence waits.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600},
	}, []string{"operation", "result"})

	ClusterNodes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cluster",
		Name:      "nodes",
		Help:      "Cluster nodes by state as last reported by pacemaker.",
	}, []string{"state"})

	ClusterResources = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "cluster",
		Name:      "resources",
		Help:      "Cluster resources by role as last reported by pacemaker.",
	}, []string{"role"})

	StatusQueryFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cluster",
		Name:      "status_query_failures_total",
		Help:      "Failed periodic cluster status queries.",
	})
)

// ObserveOperation records the duration of a cluster operation started at start.
func ObserveOperation(operation string, start time.Time, err error) {
	result := ResultSuccess
	if err != nil {
		result = ResultError
	}
	OrchestrationDuration.WithLabelValues(operation, result).Observe(time.Since(start).Seconds())
}

// Handler serves every collector registered with the legacy registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(legacyregistry.DefaultGatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			klog.Warningf("metrics server shutdown: %v", err)
		}
	}()

	klog.Infof("serving metrics on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
