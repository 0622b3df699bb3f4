package middleware

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// InstrumentWithMetrics оборачивает обработчик счётчиками Prometheus и регистрирует их в reg.
func InstrumentWithMetrics(reg prometheus.Registerer, handler http.Handler) (http.Handler, error) {
	inFlightGauge := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "kvkeeper_http_in_flight_requests",
		Help: "Current number of in-flight HTTP requests",
	})
	requestCount := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "kvkeeper_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code and method",
	}, []string{"code", "method"})
	requestLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "kvkeeper_http_request_duration_seconds",
		Help: "Histogram of HTTP request durations in seconds",
	}, []string{"method"})

	for _, c := range []prometheus.Collector{inFlightGauge, requestCount, requestLatency} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return promhttp.InstrumentHandlerInFlight(inFlightGauge,
		promhttp.InstrumentHandlerDuration(requestLatency,
			promhttp.InstrumentHandlerCounter(requestCount, handler),
		),
	), nil
}
