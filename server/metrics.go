package server

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var requestsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "warden_http_requests",
	Help: "Admin API requests, by path and status",
}, []string{"path", "status"})

var requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "warden_http_request_duration",
	Help:    "A histogram of admin API request latencies",
	Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
}, []string{"path"})

func requestMetricsMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		requestDuration.WithLabelValues(c.Path()).Observe(time.Since(start).Seconds())
		status := c.Response().Status
		if err != nil {
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
		}
		requestsCounter.WithLabelValues(c.Path(), strconv.Itoa(status)).Inc()
		return err
	}
}
