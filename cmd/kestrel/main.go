// Command kestrel runs the Kestrel forward HTTP proxy: a single process
// listening on one address, handling both absolute-URI forward requests and
// CONNECT tunnels. Bootstrap/shutdown structure grounded on the teacher's
// cmd/resin/main.go and app_runtime.go.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kestrelproxy/kestrel/internal/config"
	"github.com/kestrelproxy/kestrel/internal/metrics"
	"github.com/kestrelproxy/kestrel/internal/proxy"
	"github.com/kestrelproxy/kestrel/internal/requestlog"
)

// kestrelApp owns every long-lived collaborator the process wires together,
// so startup and shutdown can proceed in matched, reasoned-about order.
type kestrelApp struct {
	envCfg *config.EnvConfig

	upstream       proxy.UpstreamClient
	metricsManager *metrics.Manager
	requestlogSvc  *requestlog.Service

	server *http.Server
	ln     net.Listener
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return err
	}

	app, err := newKestrelApp(envCfg)
	if err != nil {
		return err
	}

	serverErrCh := app.start()
	runtimeErr := waitForShutdown(serverErrCh)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	app.shutdown(ctx)

	if runtimeErr != nil {
		return fmt.Errorf("runtime server error: %w", runtimeErr)
	}
	return nil
}

func newKestrelApp(envCfg *config.EnvConfig) (*kestrelApp, error) {
	app := &kestrelApp{envCfg: envCfg}

	app.upstream = proxy.NewHTTPUpstreamClient(proxy.TransportConfig{})

	app.metricsManager = metrics.NewManager(app.upstream, os.Getenv("KESTREL_EVICTION_CRON"))

	logPath := os.Getenv("KESTREL_REQUEST_LOG_PATH")
	if logPath == "" {
		logPath = "kestrel-requests.db"
	}
	if dir := filepath.Dir(logPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create request log dir: %w", err)
		}
	}
	repo, err := requestlog.OpenRepo(logPath)
	if err != nil {
		return nil, fmt.Errorf("open request log: %w", err)
	}
	app.requestlogSvc = requestlog.NewService(repo, 4096)

	middlewareChain, err := app.buildMiddlewareChain()
	if err != nil {
		return nil, err
	}

	handler := proxy.NewHandler(proxy.HandlerConfig{
		Upstream:         app.upstream,
		HeaderMiddleware: middlewareChain,
		ServerSoftware:   envCfg.ServerSoftware,
		Events:           app,
	})

	ln, err := net.Listen("tcp", envCfg.Bind)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", envCfg.Bind, err)
	}
	app.ln = proxy.NewLimitedListener(ln, envCfg.Concurrency)
	app.server = &http.Server{
		Handler:     handler,
		IdleTimeout: envCfg.KeepAlive,
	}

	return app, nil
}

// buildMiddlewareChain resolves the optional YAML overlay (spec ยง6's
// headers_middleware config) into concrete proxy.Middleware values, falling
// back to the default X-Forwarded-For-only chain when no file is given.
func (a *kestrelApp) buildMiddlewareChain() ([]proxy.Middleware, error) {
	mf, err := config.LoadMiddlewareFile(a.envCfg.MiddlewareFile)
	if err != nil {
		return nil, err
	}
	if len(mf.HeadersMiddleware) == 0 {
		return []proxy.Middleware{proxy.XForwardedFor}, nil
	}

	chain := make([]proxy.Middleware, 0, len(mf.HeadersMiddleware))
	for _, spec := range mf.HeadersMiddleware {
		switch spec.Name {
		case "x-forwarded-for":
			chain = append(chain, proxy.XForwardedFor)
		case "user-agent-override":
			chain = append(chain, proxy.UserAgentOverride(spec.UserAgent))
		default:
			log.Printf("kestrel: unknown middleware %q in %s, skipping", spec.Name, a.envCfg.MiddlewareFile)
		}
	}
	return chain, nil
}

// EmitRequestFinished implements proxy.EventEmitter, fanning one event out
// to both the in-memory traffic counters and the durable request log.
func (a *kestrelApp) EmitRequestFinished(ev proxy.RequestFinishedEvent) {
	a.metricsManager.RecordRequest(ev.IsConnect, ev.NetOK)
	a.requestlogSvc.Record(ev.Method, ev.Target, ev.IsConnect, ev.HTTPStatus, ev.NetOK, ev.DurationNs)
}

func (a *kestrelApp) start() <-chan error {
	if err := a.metricsManager.Start(); err != nil {
		log.Printf("kestrel: metrics manager failed to start housekeeping schedule: %v", err)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("kestrel: listening on %s", a.envCfg.Bind)
		err := a.server.Serve(a.ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			select {
			case errCh <- err:
			default:
			}
		}
	}()
	return errCh
}

func waitForShutdown(serverErrCh <-chan error) error {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		log.Printf("kestrel: received signal %s, shutting down", sig)
		return nil
	case err := <-serverErrCh:
		log.Printf("kestrel: server error, shutting down: %v", err)
		return err
	}
}

func (a *kestrelApp) shutdown(ctx context.Context) {
	if err := a.server.Shutdown(ctx); err != nil {
		log.Printf("kestrel: server shutdown error: %v", err)
	}
	log.Println("kestrel: server stopped")

	a.upstream.CloseIdle()

	a.metricsManager.Stop()
	log.Println("kestrel: metrics manager stopped")

	a.requestlogSvc.Close()
	log.Println("kestrel: request log closed")
}
