package server

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-kit/kit/metrics"

	kitlogrus "github.com/go-kit/kit/log/logrus"
	discardMetrics "github.com/go-kit/kit/metrics/discard"
	expvarMetrics "github.com/go-kit/kit/metrics/expvar"
	kitinflux "github.com/go-kit/kit/metrics/influx"
	prometheusMetrics "github.com/go-kit/kit/metrics/prometheus"
	influx "github.com/influxdata/influxdb1-client/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sirupsen/logrus"
)

type MetricsBuilder interface {
	BuildProxyMetrics() *ProxyMetrics
	Start(ctx context.Context) error
}

const (
	MetricsBackendExpvar     = "expvar"
	MetricsBackendPrometheus = "prometheus"
	MetricsBackendInfluxDB   = "influxdb"
	MetricsBackendDiscard    = "discard"
)

type MetricsBackendConfig struct {
	Influxdb struct {
		Interval        time.Duration     `default:"1m"`
		Tags            map[string]string `usage:"any extra tags to be included with all reported metrics"`
		Addr            string
		Username        string
		Password        string
		Database        string
		RetentionPolicy string
	}
}

// ProxyMetrics are the instruments updated by the accept loop, logins and player sessions.
// Errors is labelled by "type" and ConnectionsBackend by "server".
type ProxyMetrics struct {
	Errors              metrics.Counter
	BytesTransmitted    metrics.Counter
	ConnectionsFrontend metrics.Counter
	ConnectionsBackend  metrics.Counter
	StatusRequests      metrics.Counter
	PlayerLogins        metrics.Counter
	ServerSwitches      metrics.Counter
	ActivePlayers       metrics.Gauge
	RateLimitAvailable  metrics.Gauge
}

// NewMetricsBuilder creates a new MetricsBuilder based on the specified backend.
// If the backend is not recognized, a discard builder is returned.
// config can be nil if the backend is not influxdb.
func NewMetricsBuilder(backend string, config *MetricsBackendConfig) MetricsBuilder {
	switch strings.ToLower(backend) {
	case MetricsBackendExpvar:
		return &expvarMetricsBuilder{}
	case MetricsBackendPrometheus:
		return &prometheusMetricsBuilder{}
	case MetricsBackendInfluxDB:
		return &influxMetricsBuilder{config: config}
	case MetricsBackendDiscard:
		return &discardMetricsBuilder{}
	default:
		return &discardMetricsBuilder{}
	}
}

// NewDiscardMetrics builds metrics that record nothing
func NewDiscardMetrics() *ProxyMetrics {
	return discardMetricsBuilder{}.BuildProxyMetrics()
}

type expvarMetricsBuilder struct {
}

func (b expvarMetricsBuilder) Start(ctx context.Context) error {
	// nothing needed
	return nil
}

func (b expvarMetricsBuilder) BuildProxyMetrics() *ProxyMetrics {
	c := expvarMetrics.NewCounter("connections")
	return &ProxyMetrics{
		Errors:              expvarMetrics.NewCounter("errors"),
		BytesTransmitted:    expvarMetrics.NewCounter("bytes"),
		ConnectionsFrontend: c,
		ConnectionsBackend:  expvarMetrics.NewCounter("backend_connections"),
		StatusRequests:      expvarMetrics.NewCounter("status_requests"),
		PlayerLogins:        expvarMetrics.NewCounter("player_logins"),
		ServerSwitches:      expvarMetrics.NewCounter("server_switches"),
		ActivePlayers:       expvarMetrics.NewGauge("active_players"),
		RateLimitAvailable:  expvarMetrics.NewGauge("rate_limit_available"),
	}
}

type discardMetricsBuilder struct {
}

func (b discardMetricsBuilder) Start(ctx context.Context) error {
	// nothing needed
	return nil
}

func (b discardMetricsBuilder) BuildProxyMetrics() *ProxyMetrics {
	return &ProxyMetrics{
		Errors:              discardMetrics.NewCounter(),
		BytesTransmitted:    discardMetrics.NewCounter(),
		ConnectionsFrontend: discardMetrics.NewCounter(),
		ConnectionsBackend:  discardMetrics.NewCounter(),
		StatusRequests:      discardMetrics.NewCounter(),
		PlayerLogins:        discardMetrics.NewCounter(),
		ServerSwitches:      discardMetrics.NewCounter(),
		ActivePlayers:       discardMetrics.NewGauge(),
		RateLimitAvailable:  discardMetrics.NewGauge(),
	}
}

type influxMetricsBuilder struct {
	config  *MetricsBackendConfig
	metrics *kitinflux.Influx
}

func (b *influxMetricsBuilder) Start(ctx context.Context) error {
	influxConfig := &b.config.Influxdb
	if influxConfig.Addr == "" {
		return errors.New("influx addr is required")
	}

	ticker := time.NewTicker(influxConfig.Interval)
	client, err := influx.NewHTTPClient(influx.HTTPConfig{
		Addr:     influxConfig.Addr,
		Username: influxConfig.Username,
		Password: influxConfig.Password,
	})
	if err != nil {
		return fmt.Errorf("failed to create influx http client: %w", err)
	}

	go b.metrics.WriteLoop(ctx, ticker.C, client)

	logrus.WithField("addr", influxConfig.Addr).
		Debug("reporting metrics to influxdb")

	return nil
}

func (b *influxMetricsBuilder) BuildProxyMetrics() *ProxyMetrics {
	influxConfig := &b.config.Influxdb

	metrics := kitinflux.New(influxConfig.Tags, influx.BatchPointsConfig{
		Database:        influxConfig.Database,
		RetentionPolicy: influxConfig.RetentionPolicy,
	}, kitlogrus.NewLogger(logrus.StandardLogger()))

	b.metrics = metrics

	c := metrics.NewCounter("umbrella_connections")
	return &ProxyMetrics{
		Errors:              metrics.NewCounter("umbrella_errors"),
		BytesTransmitted:    metrics.NewCounter("umbrella_transmitted_bytes"),
		ConnectionsFrontend: c.With("side", "frontend"),
		ConnectionsBackend:  c.With("side", "backend"),
		StatusRequests:      metrics.NewCounter("umbrella_status_requests"),
		PlayerLogins:        metrics.NewCounter("umbrella_player_logins"),
		ServerSwitches:      metrics.NewCounter("umbrella_server_switches"),
		ActivePlayers:       metrics.NewGauge("umbrella_players_active"),
		RateLimitAvailable:  metrics.NewGauge("umbrella_rate_limit_available"),
	}
}

type prometheusMetricsBuilder struct {
}

func (b prometheusMetricsBuilder) Start(ctx context.Context) error {
	// exposed through the API server
	return nil
}

func (b prometheusMetricsBuilder) BuildProxyMetrics() *ProxyMetrics {
	return &ProxyMetrics{
		Errors: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "umbrella",
			Name:      "errors",
			Help:      "The total number of errors",
		}, []string{"type"})),
		BytesTransmitted: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "umbrella",
			Name:      "bytes",
			Help:      "The total number of bytes relayed from clients to backends",
		}, nil)),
		ConnectionsFrontend: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "umbrella",
			Subsystem:   "frontend",
			Name:        "connections",
			Help:        "The total number of client connections",
			ConstLabels: prometheus.Labels{"side": "frontend"},
		}, nil)),
		ConnectionsBackend: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace:   "umbrella",
			Subsystem:   "backend",
			Name:        "connections",
			Help:        "The total number of backend connections",
			ConstLabels: prometheus.Labels{"side": "backend"},
		}, []string{"server"})),
		StatusRequests: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "umbrella",
			Name:      "status_requests",
			Help:      "The total number of server list pings answered",
		}, nil)),
		PlayerLogins: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "umbrella",
			Name:      "player_logins",
			Help:      "The total number of completed player logins",
		}, nil)),
		ServerSwitches: prometheusMetrics.NewCounter(promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "umbrella",
			Name:      "server_switches",
			Help:      "The total number of completed server switches",
		}, nil)),
		ActivePlayers: prometheusMetrics.NewGauge(promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "umbrella",
			Name:      "active_players",
			Help:      "The number of players currently connected",
		}, nil)),
		RateLimitAvailable: prometheusMetrics.NewGauge(promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "umbrella",
			Name:      "rate_limit_available",
			Help:      "The number of available tokens in the rate limit bucket",
		}, nil)),
	}
}
