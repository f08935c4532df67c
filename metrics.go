package kaddht

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// newRegistry 创建节点自有的指标注册表，附带 Go 运行时与进程指标
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// metricsServer Prometheus 指标 HTTP 服务
type metricsServer struct {
	server   *http.Server
	listener net.Listener
	done     chan struct{}
}

// startMetricsServer 在 addr 上暴露 /metrics
func startMetricsServer(addr string, reg prometheus.Registerer, gatherer prometheus.Gatherer) (*metricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(
		reg,
		promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
	))

	s := &metricsServer{
		server: &http.Server{
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		listener: ln,
		done:     make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("指标服务异常退出", "error", err)
		}
	}()
	logger.Info("指标服务已启动", "addr", ln.Addr().String())
	return s, nil
}

// Addr 返回实际监听地址
func (s *metricsServer) Addr() string {
	return s.listener.Addr().String()
}

// Shutdown 关闭指标服务
func (s *metricsServer) Shutdown(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	<-s.done
	return err
}
