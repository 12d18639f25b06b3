// Command gateway runs the self-configuring REST-to-gRPC gateway: it dials
// a backend, tracks its reflected schema, synthesizes an HTTP route table
// from google.api.http annotations, and serves it alongside a generated
// OpenAPI document and embedded Swagger UI.
package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/anthony/grpc-rest-gateway/internal/catalog"
	"github.com/anthony/grpc-rest-gateway/internal/discovery"
	"github.com/anthony/grpc-rest-gateway/internal/dispatch"
	"github.com/anthony/grpc-rest-gateway/internal/gwconfig"
	"github.com/anthony/grpc-rest-gateway/internal/gwlog"
	"github.com/anthony/grpc-rest-gateway/internal/openapi"
	"github.com/anthony/grpc-rest-gateway/internal/router"
	"github.com/anthony/grpc-rest-gateway/internal/session"
	"github.com/anthony/grpc-rest-gateway/internal/swaggerui"

	"go.uber.org/zap"
	"google.golang.org/protobuf/proto"
)

const banner = `
   ____ ____  ____   ____       ____                 _
  / ___|  _ \|  _ \ / ___|     / ___| __ ___      __ | |__  _   _
 | |  _| |_) | |_) | |   _____| |  _ / _' \ \ /\ / / | '_ \| | | |
 | |_| |  _ <|  __/| |__|_____| |_| | (_| |\ V  V /  | | | | |_| |
  \____|_| \_\_|    \____|     \____|\__,_| \_/\_/   |_| |_|\__, |
                                                              |___/
`

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := gwconfig.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return 1
	}

	logger, err := gwlog.New(cfg.InstanceID, cfg.Verbosity, cfg.Fluentd != "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	if !cfg.NoBanner {
		printBanner(logger)
	}
	logger.Info("starting-internal-components")

	var resolver discovery.Resolver
	if cfg.Consul != "" {
		resolver = discovery.NewConsulResolver(cfg.Consul)
	}

	routes := &router.Publisher{}
	docs := &openapi.Publisher{}

	rebuild := func(schema *session.Schema) {
		if err := rebuildRouteTable(schema, routes, docs, cfg, logger); err != nil {
			logger.Warn("rebuild-rejected-keeping-previous-route-table", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	backend, err := session.Dial(ctx, cfg.GRPCEndpoint, resolver, logger, rebuild)
	cancel()
	if err != nil {
		logger.Error("backend-dial-failed", zap.Error(err))
		return 1
	}
	if routes.Load() == nil {
		// Dial ran the first rebuild synchronously; no published table means
		// the initial descriptor was rejected, which is fatal at startup.
		logger.Error("initial-route-table-build-failed")
		backend.Close()
		return 1
	}

	dispatcher := dispatch.New(routes, backend, logger)

	mux := http.NewServeMux()
	staticUI, err := swaggerui.Mount(mux, cfg.SwaggerURL, docs)
	if err != nil {
		logger.Error("swagger-ui-mount-failed", zap.Error(err))
		return 1
	}
	dispatcher.SetFallback(staticUI)
	mux.Handle("/", dispatcher)

	useTLS, missingKey, missingCert := cfg.ResolveTLS()
	if cfg.EnableTLS && !useTLS {
		if missingKey {
			logger.Error("key-not-found", zap.String("path", cfg.Key))
		}
		if missingCert {
			logger.Error("cert-not-found", zap.String("path", cfg.Cert))
		}
		logger.Info("disabling-tls-due-to-missing-pki-files")
	} else if useTLS {
		logger.Info("tls-enabled")
	} else {
		logger.Info("tls-disabled-through-configuration")
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.RESTPort),
		Handler: mux,
	}
	if useTLS {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	serveErrs := make(chan error, 1)
	go func() {
		logger.Info("started-internal-services", zap.Int("rest_port", cfg.RESTPort))
		if useTLS {
			serveErrs <- srv.ListenAndServeTLS(cfg.Cert, cfg.Key)
		} else {
			serveErrs <- srv.ListenAndServe()
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serveErrs:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("listen-failed", zap.Error(err))
			return 1
		}
	case <-sig:
		logger.Info("exiting-on-signal")
		dispatcher.BeginShutdown()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("shutdown-error", zap.Error(err))
		}
		backend.Close()
	}
	return 0
}

// rebuildRouteTable re-runs catalog build and route synthesis from a fresh
// backend schema, then atomically publishes both the Route Table and the
// OpenAPI document it was generated alongside (spec §4.5).
func rebuildRouteTable(schema *session.Schema, routes *router.Publisher, docs *openapi.Publisher, cfg gwconfig.Config, logger *zap.Logger) error {
	blob, err := proto.Marshal(schema.DescriptorSet)
	if err != nil {
		return fmt.Errorf("marshal descriptor set: %w", err)
	}
	cat, err := catalog.Build(blob, true)
	if err != nil {
		return fmt.Errorf("build catalog: %w", err)
	}
	table, err := router.Synthesize(cat, logger)
	if err != nil {
		return fmt.Errorf("synthesize routes: %w", err)
	}
	doc := openapi.Generate(table, openapi.Info{
		Title:   "grpc-rest-gateway",
		Version: schema.Fingerprint,
	}, cfg.ExternalHostAddress, "/")

	routes.Publish(table)
	docs.Publish(doc)
	logger.Info("route-table-rebuilt", zap.Int("routes", len(table.Routes)), zap.String("fingerprint", schema.Fingerprint))
	return nil
}

func printBanner(logger *zap.Logger) {
	for _, line := range strings.Split(banner, "\n") {
		if line != "" {
			logger.Info(line)
		}
	}
	logger.Info("(to stop: press Ctrl-C)")
}
