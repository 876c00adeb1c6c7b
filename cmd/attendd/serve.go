package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/attend/internal/api"
	"github.com/your-org/attend/internal/api/handlers"
	"github.com/your-org/attend/internal/api/ws"
	"github.com/your-org/attend/internal/config"
	"github.com/your-org/attend/internal/enroll"
	"github.com/your-org/attend/internal/ingest"
	"github.com/your-org/attend/internal/ledger"
	"github.com/your-org/attend/internal/matcher"
	"github.com/your-org/attend/internal/queue"
	"github.com/your-org/attend/internal/session"
	"github.com/your-org/attend/internal/storage"
	"github.com/your-org/attend/internal/vision"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the session controller",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("starting attendd", "port", cfg.Server.Port, "camera", cfg.Camera.Device)

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// Initialize ONNX Runtime
	lib := cfg.Vision.ONNXLibrary
	if lib == "" {
		lib = getONNXLibPath()
	}
	ort.SetSharedLibraryPath(lib)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("init onnx runtime: %w", err)
	}
	defer ort.DestroyEnvironment()

	adapter, err := vision.NewONNXAdapter(cfg.Vision)
	if err != nil {
		return fmt.Errorf("init vision adapter: %w", err)
	}
	defer adapter.Close()

	distance, err := matcher.DistanceByName(cfg.Matching.Distance)
	if err != nil {
		return err
	}
	m := matcher.New(cfg.Matching.Threshold, adapter.Dim(), distance)

	checks := map[string]handlers.Check{}
	if st.pg != nil {
		checks["postgres"] = st.pg.Ping
	}

	var (
		snapshots ledger.SnapshotStore
		clearer   handlers.SnapshotClearer
	)
	if cfg.MinIO.Endpoint != "" {
		minioStore, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			return err
		}
		if err := minioStore.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		snapshots, clearer = minioStore, minioStore
		checks["minio"] = minioStore.Ping
	}

	writer := ledger.NewWriter(st.ledger, snapshots, 64)
	svc := enroll.NewService(st.identities, adapter, st.ledger, adapter.Dim())
	ctrl := session.NewController(session.Deps{
		Sources:  ingest.NewFFmpegFactory(cfg.Camera),
		Adapter:  adapter,
		Matcher:  m,
		Enrolled: svc,
		Writer:   writer,
	}, cfg.Session)

	g, gctx := errgroup.WithContext(ctx)

	// The writer outlives the controller so in-flight check-ins are kept.
	writerCtx, stopWriter := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWriter()
	g.Go(func() error { return writer.Run(writerCtx) })

	hub := ws.NewHub()
	hubEvents, unsubscribeHub := ctrl.Subscribe(256)
	defer unsubscribeHub()
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		hub.Forward(gctx, hubEvents)
		return nil
	})

	if cfg.NATS.URL != "" {
		if err := startNATS(gctx, g, cfg, ctrl, checks); err != nil {
			return err
		}
	}

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.RouterConfig{
		APIKey:     cfg.Server.APIKey,
		Enrollment: svc,
		Sessions:   ctrl,
		Ledger:     st.ledger,
		Snapshots:  clearer,
		Checks:     checks,
		Hub:        hub,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down attendd...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := ctrl.Close(shutdownCtx); err != nil {
			slog.Warn("session did not stop in time", "error", err)
		}
		stopWriter()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		return nil
	})

	err = g.Wait()
	slog.Info("attendd stopped")
	return err
}

// startNATS wires event fan-out and the remote control subscription.
func startNATS(ctx context.Context, g *errgroup.Group, cfg *config.Config, ctrl *session.Controller, checks map[string]handlers.Check) error {
	producer, err := queue.NewProducer(cfg.NATS.URL)
	if err != nil {
		return err
	}
	consumer, err := queue.NewConsumer(cfg.NATS.URL)
	if err != nil {
		producer.Close()
		return err
	}
	checks["nats"] = func(context.Context) error { return producer.Ping() }

	events, unsubscribe := ctrl.Subscribe(256)
	g.Go(func() error {
		defer producer.Close()
		defer unsubscribe()
		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		return producer.Forward(ctx, events)
	})
	g.Go(func() error {
		defer consumer.Close()
		return consumer.ServeControl(ctx, ctrl)
	})
	return nil
}

// getONNXLibPath returns the ONNX Runtime shared library path.
func getONNXLibPath() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "linux":
		return "libonnxruntime.so"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "onnxruntime.dll"
	}
}
