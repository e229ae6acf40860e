package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/fcojfernandez/support-core-plugin/internal/log"
)

type App struct {
	LogJSON         bool
	LogLevel        string
	StacktraceLevel string

	HTTPPort  int
	AdminPort int

	EnablePprof     bool
	EnablePyroscope bool
	EnableTracing   bool
	PyroServer      string
	PyroTenantID    string
	OTLPEndpoint    string
	TraceSample     float64

	OutputDir    string
	SourcesFile  string
	RedactFile   string
	MaxFileBytes int64

	BundleInterval time.Duration
	Retention      int
	StaleAfter     time.Duration

	RateLimitPerSec float64
	RateLimitBurst  int

	EnableUpload   bool
	UploadS3Bucket string
	UploadS3Prefix string
	UploadSSMParam string
	SigningKeyARN  string
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", true, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "listen TCP port (1..65535)")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "admin listen TCP port (1..65535)")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "Enable pprof profiling (on admin port only)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "trace sampling ratio (0..1)")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.StringVar(&c.OutputDir, "output-dir", "/var/lib/supportbundled/bundles", "directory where bundle archives are written")
	fs.StringVar(&c.SourcesFile, "sources-file", "/etc/supportbundled/sources.json", "JSON file listing files to collect into bundles")
	fs.StringVar(&c.RedactFile, "redact-file", "", "file of redaction regexps, one per line (empty disables redaction)")
	fs.Int64Var(&c.MaxFileBytes, "max-file-bytes", 0, "per-file byte ceiling when a source sets none (0 = unlimited)")
	fs.DurationVar(&c.BundleInterval, "bundle-interval", 24*time.Hour, "how often the scheduler generates a bundle")
	fs.IntVar(&c.Retention, "retention", 10, "archives to keep on disk, oldest pruned first (0 = keep all)")
	fs.DurationVar(&c.StaleAfter, "stale-after", 0, "mark the scheduler stale after this long without a success (0 = 3x bundle-interval)")
	fs.Float64Var(&c.RateLimitPerSec, "rate-limit", 5, "API requests per second allowed per client IP")
	fs.IntVar(&c.RateLimitBurst, "rate-limit-burst", 10, "API request burst allowed per client IP")
	fs.BoolVar(&c.EnableUpload, "enable-upload", false, "Enable uploading bundles to S3 after generation")
	fs.StringVar(&c.UploadS3Bucket, "upload-s3-bucket", "", "s3 bucket name to upload bundles to")
	fs.StringVar(&c.UploadS3Prefix, "upload-s3-prefix", "bundles", "s3 prefix (key) under which bundles are stored")
	fs.StringVar(&c.UploadSSMParam, "upload-ssm-param", "", "ssm parameter name to publish the latest bundle pointer to (empty disables)")
	fs.StringVar(&c.SigningKeyARN, "signing-key-arn", "", "KMS key ARN for signing bundle digests before upload (empty disables signing)")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := prefix + strings.ReplaceAll(strings.ToUpper(f.Name), "-", "_")
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value %q overrides env %s=%q", f.Name, f.Value.String(), key, envVal)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s=%q: %v", f.Name, key, envVal, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Ports
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}
	if c.AdminPort < 1 || c.AdminPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid ADMIN_PORT %d (must be 1..65535)", c.AdminPort))
	}
	if c.AdminPort == c.HTTPPort {
		errs = append(errs, fmt.Errorf("ADMIN_PORT and HTTP_PORT must differ (both %d)", c.HTTPPort))
	}

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}

	// Tracing sample
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}

	// Pyroscope (URL and scheme)
	if c.EnablePyroscope {
		if c.PyroServer == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER required when ENABLE_PYROSCOPE=true"))
		} else if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL (got %q)", c.PyroServer))
		}
		if c.PyroTenantID == "" {
			errs = append(errs, fmt.Errorf("PYRO_TENANT required when ENABLE_PYROSCOPE=true"))
		}
	}

	// OTLP tracing (grpc exporter wants host:port, no scheme)
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Bundle generation
	if c.OutputDir == "" {
		errs = append(errs, fmt.Errorf("OUTPUT_DIR is required"))
	}
	if c.SourcesFile == "" {
		errs = append(errs, fmt.Errorf("SOURCES_FILE is required"))
	}
	if c.MaxFileBytes < 0 {
		errs = append(errs, fmt.Errorf("MAX_FILE_BYTES must be >= 0 (got %d)", c.MaxFileBytes))
	}
	if c.BundleInterval < time.Minute {
		errs = append(errs, fmt.Errorf("BUNDLE_INTERVAL must be at least 1m (got %s)", c.BundleInterval))
	}
	if c.Retention < 0 {
		errs = append(errs, fmt.Errorf("RETENTION must be >= 0 (got %d)", c.Retention))
	}
	if c.StaleAfter < 0 {
		errs = append(errs, fmt.Errorf("STALE_AFTER must be >= 0 (got %s)", c.StaleAfter))
	}

	// Rate limiting
	if c.RateLimitPerSec <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT must be > 0 (got %g)", c.RateLimitPerSec))
	}
	if c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST must be >= 1 (got %d)", c.RateLimitBurst))
	}

	// Upload config
	if c.EnableUpload {
		if c.UploadS3Bucket == "" {
			errs = append(errs, fmt.Errorf("UPLOAD_S3_BUCKET is required when ENABLE_UPLOAD=true"))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
