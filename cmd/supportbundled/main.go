package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/fcojfernandez/support-core-plugin/internal/apihttp"
	"github.com/fcojfernandez/support-core-plugin/internal/bundle"
	"github.com/fcojfernandez/support-core-plugin/internal/cfg"
	"github.com/fcojfernandez/support-core-plugin/internal/cryptoutil"
	"github.com/fcojfernandez/support-core-plugin/internal/filecontent"
	"github.com/fcojfernandez/support-core-plugin/internal/health"
	"github.com/fcojfernandez/support-core-plugin/internal/httpserver"
	"github.com/fcojfernandez/support-core-plugin/internal/log"
	"github.com/fcojfernandez/support-core-plugin/internal/metrics"
	"github.com/fcojfernandez/support-core-plugin/internal/opshttp"
	"github.com/fcojfernandez/support-core-plugin/internal/otelx"
	"github.com/fcojfernandez/support-core-plugin/internal/prof"
	"github.com/fcojfernandez/support-core-plugin/internal/ratelimit"
	"github.com/fcojfernandez/support-core-plugin/internal/redact"
	"github.com/fcojfernandez/support-core-plugin/internal/upload"
	v "github.com/fcojfernandez/support-core-plugin/internal/version"
)

const appName = "supportbundled"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	// Parse config from flags and env
	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf(
			"%s %s (commit=%s, build_id=%s, build_date=%s, go=%s, dirty=%v)\n",
			appName, vi.Version, vi.Commit, vi.BuildId, vi.BuildDate, vi.GoVersion,
			vi.VCSDirty != nil && *vi.VCSDirty,
		)
		os.Exit(0)
	}

	// Fill in config from environment variables with prefix SUPPORTCORE_ and validate
	cfg.FillFromEnv(flag.CommandLine, "SUPPORTCORE_", func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	// Setup logging
	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stLvl := lvl
	if conf.StacktraceLevel != "" {
		stLvl, _ = log.ParseLevel(conf.StacktraceLevel)
	}
	lg, err := log.New(log.Options{
		App:             appName,
		Version:         v.Version,
		Commit:          v.Commit,
		BuildId:         v.BuildId,
		Level:           lvl,
		StacktraceLevel: stLvl,
		JsonFormat:      conf.LogJSON,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "bundler")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"output_dir", conf.OutputDir,
		"sources_file", conf.SourcesFile,
		"redact_file", conf.RedactFile,
		"max_file_bytes", conf.MaxFileBytes,
		"bundle_interval", conf.BundleInterval,
		"retention", conf.Retention,
		"enable_upload", conf.EnableUpload,
		"upload_s3_bucket", conf.UploadS3Bucket,
		"upload_s3_prefix", conf.UploadS3Prefix,
		"upload_ssm_param", conf.UploadSSMParam,
		"signing_key_arn", conf.SigningKeyARN,
	)

	// Setup pyroscope profiling
	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       appName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       appName,
			"component": "bundler",
			"version":   vi.Version,
			"commit":    vi.Commit,
			"build_id":  vi.BuildId,
			"source":    "go-agent",
		},
	})
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer func() { stopProf() }()

	// Setup otel for tracing
	// Insecure is true because we only write to a collector on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   appName,
		Component: "bundler",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	// Setup metrics
	m := metrics.New()
	m.SetBuildInfoFromVersion(appName, "bundler", &vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	// Redaction filter, applied per line to every text source
	var filter filecontent.Filter
	if conf.RedactFile != "" {
		filter, err = redact.PatternsFile(conf.RedactFile)
		if err != nil {
			L.Error(ctx, err, "failed to load redaction patterns", "redact_file", conf.RedactFile)
			os.Exit(1)
		}
		L.Info(ctx, "redaction enabled", "redact_file", conf.RedactFile)
	}

	// Bundle sources
	sources, err := bundle.LoadSources(conf.SourcesFile)
	if err != nil {
		L.Error(ctx, err, "failed to load bundle sources", "sources_file", conf.SourcesFile)
		os.Exit(1)
	}
	L.Info(ctx, "loaded bundle sources", "sources", len(sources))

	generator, err := bundle.NewGenerator(bundle.GeneratorOptions{
		Logger:          L,
		OutputDir:       conf.OutputDir,
		Sources:         sources,
		Filter:          filter,
		DefaultMaxBytes: conf.MaxFileBytes,
		App:             appName,
		AppVersion:      vi.Version,
		Metrics:         m,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create bundle generator", "output_dir", conf.OutputDir)
		os.Exit(1)
	}

	manager := bundle.NewManager()
	store := bundle.NewStore(conf.OutputDir)

	// Uploader, only when configured
	var uploader *upload.Uploader
	if conf.EnableUpload {
		awsCfg, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			os.Exit(1)
		}

		var signer upload.DigestSigner
		if conf.SigningKeyARN != "" {
			signer = cryptoutil.NewKMSSigner(kms.NewFromConfig(awsCfg), conf.SigningKeyARN)
		}

		uploader, err = upload.New(awsCfg, upload.Options{
			Logger:   L,
			S3Bucket: conf.UploadS3Bucket,
			S3Prefix: conf.UploadS3Prefix,
			SSMParam: conf.UploadSSMParam,
			Signer:   signer,
			Metrics:  m,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create uploader")
			os.Exit(1)
		}
	}

	uploadBundle := func(ctx context.Context, res *bundle.Result) {
		if uploader == nil {
			return
		}
		if _, err := uploader.Upload(ctx, res); err != nil {
			// archive stays on local disk, upload failure is not fatal
			L.Error(ctx, err, "bundle upload failed", "bundle", res.Name)
		}
	}

	// generateNow serves on-demand API triggers. The scheduler keeps its
	// own generate/publish/prune cycle.
	generateNow := func(ctx context.Context) (*bundle.Result, error) {
		res, err := generator.Generate(ctx)
		if err != nil {
			return nil, err
		}
		manager.Set(*res)
		uploadBundle(ctx, res)
		if conf.Retention > 0 {
			if _, err := store.Prune(conf.Retention); err != nil {
				L.Warn(ctx, "bundle prune failed", "error", err)
			}
		}
		return res, nil
	}

	scheduler := bundle.NewScheduler(&bundle.SchedulerOptions{
		Logger:         L,
		Generator:      generator,
		Manager:        manager,
		Store:          store,
		Interval:       conf.BundleInterval,
		Retention:      conf.Retention,
		OnBundle:       uploadBundle,
		Metrics:        m,
		StaleThreshold: conf.StaleAfter,
	})
	go func() {
		if err := scheduler.Run(ctx); err != nil && ctx.Err() == nil {
			L.Error(ctx, err, "bundle scheduler stopped")
		}
	}()

	// setup toggle for server shutdown
	var gate health.ShutdownGate

	readiness := health.All(gate.Probe())

	// Rate limiter for the bundle API
	limiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.RateLimitPerSec, conf.RateLimitBurst),
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
		}),
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			m.IncRateLimitCapacity()
			L.Warn(ctx, "rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	api := apihttp.NewAPI(manager, store, generateNow, L)

	// start bundle API server
	apiHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger:       L,
		Port:         conf.HTTPPort,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		APIRoutes:    api.RegisterRoutes,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		MetricsMW:    m.Middleware,
		RateLimitMW:  limiter.Middleware,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start api http listener")
		os.Exit(1)
	}
	defer func() { _ = apiHTTPStop(context.Background()) }()

	// start admin/ops listener to serve metrics, health checks and pprof
	opsHTTPStop, err := opshttp.Start(ctx, L, opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	// notify systemd that we started successfully if started under systemd
	if err := notifySystemd(); err != nil {
		// log and dont exit, worst case systemd will kill the process after timeout
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	L.Info(ctx, "startup complete")

	// block until ctrl+c / sigterm
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	L.Info(context.Background(), "shutdown signal received")

	// fail readiness to drain connections before stopping listeners
	gate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed")

	// give in-flight downloads a moment to finish; a second signal skips the drain
	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(5 * time.Second):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	if err := apiHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "api http server shutdown")
	}

	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}

	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}

	stopProf()

	L.Info(context.Background(), "shutdown complete")
	os.Exit(0)
}

func notifySystemd() error {
	// systemd will set NOTIFY_SOCKET to a unix socket path if we were started under systemd with type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	conn.Write([]byte("READY=1"))
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
