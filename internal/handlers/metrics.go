package handlers

import "github.com/prometheus/client_golang/prometheus"

type Metrics struct {
	Logins         *prometheus.CounterVec
	TokenRefreshes *prometheus.CounterVec
	Logouts        prometheus.Counter
}

func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		Logins: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_logins_total",
				Help: "Total login attempts.",
			},
			[]string{"status"},
		),
		TokenRefreshes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "auth_token_refreshes_total",
				Help: "Total refresh token exchanges.",
			},
			[]string{"status"},
		),
		Logouts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "auth_logouts_total",
				Help: "Total logout calls.",
			},
		),
	}

	registry.MustRegister(m.Logins, m.TokenRefreshes, m.Logouts)
	return m
}
