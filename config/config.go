// Package config defines the process-wide configuration surface, parsed
// from the command line and an optional config file with go-flags, mirroring
// the teacher daemon's cmd/lnd main entrypoint.
package config

import (
	"time"

	flags "github.com/jessevdk/go-flags"
)

// Config is the provideragentd configuration, resolved once at process
// startup. Durations are parsed from the flag strings into time.Duration by
// ParseDurations after Parse returns.
type Config struct {
	SessionID string `long:"session_id" description:"provider-scoped filter passed to event-polling RPCs" required:"true"`

	GetEventsTimeout       string `long:"get_events_timeout" description:"long-poll timeout on event RPCs" default:"50s"`
	GetEventsErrorTimeout  string `long:"get_events_error_timeout" description:"sleep after event-RPC failure" default:"5s"`
	InvoiceReissueInterval string `long:"invoice_reissue_interval" description:"sleep between invoice-issue retries" default:"5s"`
	InvoiceResendInterval  string `long:"invoice_resend_interval" description:"sleep between invoice/final-debit-note send retries" default:"50s"`
	OfferSweepInterval     string `long:"offer_sweep_interval" description:"interval between background offer/demand expiry sweeps; 0 disables" default:"30s"`

	GrpcDialTimeout string `long:"grpc_dial_timeout" description:"timeout for dialing upstream gRPC services" default:"10s"`

	ActivityAPIAddr string `long:"activity_api_addr" description:"address of the Activity API gRPC endpoint" required:"true"`
	PaymentAPIAddr  string `long:"payment_api_addr" description:"address of the Payment API gRPC endpoint" required:"true"`
	DiscoveryAddr   string `long:"discovery_addr" description:"address of the Discovery gRPC endpoint" required:"true"`

	GrpcListenAddr string `long:"grpc_listen_addr" description:"address this agent's own inbound gRPC server (control events, discovery) listens on" default:"127.0.0.1:9333"`

	BoltDBPath string `long:"bolt_db_path" description:"path to the offer/demand store's bbolt database; empty uses an in-memory store" default:""`
	BackupDir  string `long:"backup_dir" description:"directory hot-copy backups of the bbolt store are written to" default:"./backups"`

	MetricsListenAddr string `long:"metrics_listen_addr" description:"address to serve Prometheus metrics on" default:"127.0.0.1:9332"`

	LogLevel string `long:"log_level" description:"logging level for all subsystems (trace, debug, info, warn, error, critical, off)" default:"info"`

	LogFile          string `long:"log_file" description:"path to a rotating log file; empty logs to stdout only" default:""`
	LogFileMaxSizeKB int    `long:"log_file_max_size_kb" description:"log file size in KB before rotation" default:"10240"`
	LogFileMaxRolls  int    `long:"log_file_max_rolls" description:"number of rotated log files to retain" default:"3"`

	DiscoveryRateLimitPerSec float64 `long:"discovery_rate_limit_per_sec" description:"outbound broadcast calls allowed per second; 0 disables limiting" default:"20"`

	RetrieveOffersMaxBatch int `long:"retrieve_offers_max_batch" description:"parsed but not read by the daemon; RetrieveOffers responses are bounded only by the requesting peer's max_results" default:"256"`
}

// Durations holds the parsed form of Config's string duration fields.
type Durations struct {
	GetEventsTimeout       time.Duration
	GetEventsErrorTimeout  time.Duration
	InvoiceReissueInterval time.Duration
	InvoiceResendInterval  time.Duration
	GrpcDialTimeout        time.Duration
	OfferSweepInterval     time.Duration
}

// Parse parses args (typically os.Args[1:]) into a Config, applying
// defaults for any option not supplied.
func Parse(args []string) (*Config, error) {
	cfg := &Config{}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseDurations converts the config's string duration fields to
// time.Duration, failing fast on a malformed value rather than deferring the
// error to first use.
func (c *Config) ParseDurations() (Durations, error) {
	var d Durations
	var err error

	if d.GetEventsTimeout, err = time.ParseDuration(c.GetEventsTimeout); err != nil {
		return Durations{}, err
	}
	if d.GetEventsErrorTimeout, err = time.ParseDuration(c.GetEventsErrorTimeout); err != nil {
		return Durations{}, err
	}
	if d.InvoiceReissueInterval, err = time.ParseDuration(c.InvoiceReissueInterval); err != nil {
		return Durations{}, err
	}
	if d.InvoiceResendInterval, err = time.ParseDuration(c.InvoiceResendInterval); err != nil {
		return Durations{}, err
	}
	if d.GrpcDialTimeout, err = time.ParseDuration(c.GrpcDialTimeout); err != nil {
		return Durations{}, err
	}
	if d.OfferSweepInterval, err = time.ParseDuration(c.OfferSweepInterval); err != nil {
		return Durations{}, err
	}
	return d, nil
}
