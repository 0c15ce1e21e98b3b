/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	// Import all Kubernetes client auth plugins (e.g. Azure, GCP, OIDC, etc.)
	// to ensure that exec-entrypoint and run can make use of them.
	_ "k8s.io/client-go/plugin/pkg/client/auth"

	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	metricsclient "k8s.io/metrics/pkg/client/clientset/versioned"

	"github.com/wesleyemery/k8s-metrics-tables/internal/config"
	"github.com/wesleyemery/k8s-metrics-tables/internal/server"
	"github.com/wesleyemery/k8s-metrics-tables/internal/store"
	"github.com/wesleyemery/k8s-metrics-tables/pkg/metrics"
)

func main() {
	var configPath string
	var port int
	var metricsSource string
	var prometheusURL string
	var useMockMetrics bool

	flag.StringVar(&configPath, "config", "", "Path to the configuration file. Defaults to searching config.yaml in the usual locations.")
	flag.IntVar(&port, "port", 0, "HTTP listen port, overriding server.port from the configuration.")
	flag.StringVar(&metricsSource, "metrics-source", "", "Metrics source: prometheus, metrics-server, or mock.")
	flag.StringVar(&prometheusURL, "prometheus-url", "", "Prometheus server URL (can also be set via METRICS_TABLES_METRICS_PROMETHEUS_URL env var)")
	flag.BoolVar(&useMockMetrics, "use-mock-metrics", false, "Use mock metrics client for testing")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load configuration:", err)
		os.Exit(1)
	}
	if port != 0 {
		cfg.Server.Port = port
	}
	if metricsSource != "" {
		cfg.Metrics.Source = metricsSource
	}
	if prometheusURL != "" {
		cfg.Metrics.PrometheusURL = prometheusURL
	}
	if useMockMetrics {
		cfg.Metrics.Source = config.SourceMock
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}

	log, err := buildLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to build logger:", err)
		os.Exit(1)
	}
	setupLog := log.WithName("setup")

	querier := buildQuerier(cfg, setupLog)
	querier = metrics.NewTimeoutQuerier(querier, time.Duration(cfg.Metrics.TimeoutSec)*time.Second)
	cached := metrics.NewCachedQuerier(querier, time.Duration(cfg.Metrics.CacheTTLSec)*time.Second)

	telemetry := server.NewTelemetry()
	telemetry.ObserveCache(cached.Stats)

	st, err := store.Open(cfg.Store.Path, log.WithName("store"))
	if err != nil {
		setupLog.Error(err, "unable to open saved-view store", "path", cfg.Store.Path)
		os.Exit(1)
	}
	defer st.Close()

	srv := server.New(cfg, cached, st, telemetry, log.WithName("server"))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			setupLog.Error(err, "http server failed")
			os.Exit(1)
		}
		return
	case sig := <-quit:
		setupLog.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSec)*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		setupLog.Error(err, "graceful shutdown failed")
		os.Exit(1)
	}
	setupLog.Info("server stopped")
}

// buildLogger maps the logging section onto a zap core exposed through logr.
func buildLogger(cfg config.LoggingConfig) (logr.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return logr.Logger{}, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zapCfg.Level = level

	zl, err := zapCfg.Build()
	if err != nil {
		return logr.Logger{}, err
	}
	return zapr.NewLogger(zl), nil
}

// buildQuerier selects the metrics source. Construction failures fall back
// to the mock querier so the service still comes up for local development.
func buildQuerier(cfg *config.Config, log logr.Logger) metrics.Querier {
	switch cfg.Metrics.Source {
	case config.SourcePrometheus:
		log.Info("using Prometheus metrics source", "url", cfg.Metrics.PrometheusURL)
		querier, err := metrics.NewPrometheusQuerier(cfg.Metrics.PrometheusURL, http.DefaultTransport, log.WithName("prometheus"))
		if err != nil {
			log.Error(err, "unable to create Prometheus querier, falling back to mock")
			return mockQuerier(log)
		}
		return querier

	case config.SourceMetricsServer:
		restCfg, err := clusterConfig(cfg.Metrics.KubeconfigPath)
		if err != nil {
			log.Error(err, "unable to load cluster configuration, falling back to mock")
			return mockQuerier(log)
		}
		kube, err := kubernetes.NewForConfig(restCfg)
		if err != nil {
			log.Error(err, "unable to create Kubernetes client, falling back to mock")
			return mockQuerier(log)
		}
		mc, err := metricsclient.NewForConfig(restCfg)
		if err != nil {
			log.Error(err, "unable to create metrics-server client, falling back to mock")
			return mockQuerier(log)
		}
		log.Info("using metrics-server metrics source")
		return metrics.NewMetricsServerQuerier(kube, mc, log.WithName("metrics-server"))

	default:
		return mockQuerier(log)
	}
}

func mockQuerier(log logr.Logger) metrics.Querier {
	log.Info("using mock metrics source")
	mock := metrics.NewMockQuerier()

	// Configure mock variance from environment variable
	if mockVarianceStr := os.Getenv("MOCK_VARIANCE"); mockVarianceStr != "" {
		if mockVariance, err := strconv.ParseFloat(mockVarianceStr, 64); err == nil {
			mock.Variance = mockVariance
			log.Info("using custom mock variance", "variance", mockVariance)
		}
	}
	return mock
}

// clusterConfig loads the in-cluster configuration when available, the
// given kubeconfig otherwise.
func clusterConfig(kubeconfigPath string) (*rest.Config, error) {
	if kubeconfigPath != "" {
		return clientcmd.BuildConfigFromFlags("", kubeconfigPath)
	}
	if restCfg, err := rest.InClusterConfig(); err == nil {
		return restCfg, nil
	}
	return clientcmd.BuildConfigFromFlags("", clientcmd.RecommendedHomeFile)
}
