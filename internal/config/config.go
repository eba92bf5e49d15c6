package config

import (
	"strings"
	"time"
	_ "time/tzdata" // report timezone on hosts without zoneinfo

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ErrMissingSetting is returned by Validate when required settings are absent
// or out of range.
var ErrMissingSetting = eris.New("config: invalid settings")

// Config holds the full application configuration.
type Config struct {
	Database   DatabaseConfig   `yaml:"database" mapstructure:"database"`
	Import     ImportConfig     `yaml:"import" mapstructure:"import"`
	Report     ReportConfig     `yaml:"report" mapstructure:"report"`
	Templates  TemplatesConfig  `yaml:"templates" mapstructure:"templates"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// DatabaseConfig configures the target database.
type DatabaseConfig struct {
	URL            string `yaml:"url" mapstructure:"url"`
	MaxConns       int32  `yaml:"max_conns" mapstructure:"max_conns"`
	ConnectRetries int    `yaml:"connect_retries" mapstructure:"connect_retries"`
}

// ImportConfig configures file discovery, extraction and sync.
type ImportConfig struct {
	Dir              string `yaml:"dir" mapstructure:"dir"`
	FailedDir        string `yaml:"failed_dir" mapstructure:"failed_dir"`
	UnknownDir       string `yaml:"unknown_dir" mapstructure:"unknown_dir"`
	BatchSize        int    `yaml:"batch_size" mapstructure:"batch_size"`
	HeaderOffset     int    `yaml:"header_offset" mapstructure:"header_offset"`
	RowTag           string `yaml:"row_tag" mapstructure:"row_tag"`
	StockDeleteScope string `yaml:"stock_delete_scope" mapstructure:"stock_delete_scope"`
	DeleteProcessed  bool   `yaml:"delete_processed" mapstructure:"delete_processed"`
	// Files maps an import domain to the file name it is read from.
	Files map[string]string `yaml:"files" mapstructure:"files"`
}

// ReportConfig configures the report history document.
type ReportConfig struct {
	Path           string `yaml:"path" mapstructure:"path"`
	RetentionHours int    `yaml:"retention_hours" mapstructure:"retention_hours"`
	Timezone       string `yaml:"timezone" mapstructure:"timezone"`
}

// Retention returns the history window.
func (c ReportConfig) Retention() time.Duration {
	return time.Duration(c.RetentionHours) * time.Hour
}

// Location resolves the timezone report timestamps are rendered in.
func (c ReportConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "config: load timezone %q", c.Timezone)
	}
	return loc, nil
}

// TemplatesConfig points at an optional SQL template override directory.
type TemplatesConfig struct {
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// ServerConfig configures the report API server.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// MonitoringConfig configures import health alerts. Alerts are only sent
// when WebhookURL is set.
type MonitoringConfig struct {
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	RowErrorThreshold    int     `yaml:"row_error_threshold" mapstructure:"row_error_threshold"`
}

// Enabled reports whether alerts have somewhere to go.
func (c MonitoringConfig) Enabled() bool { return c.WebhookURL != "" }

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("IMPORTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("database.url", "")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.connect_retries", 3)
	v.SetDefault("import.dir", "import")
	v.SetDefault("import.failed_dir", "reports/failed")
	v.SetDefault("import.unknown_dir", "reports/unknown")
	v.SetDefault("import.batch_size", 10000)
	v.SetDefault("import.header_offset", 5)
	v.SetDefault("import.row_tag", "line")
	v.SetDefault("import.stock_delete_scope", "product")
	v.SetDefault("import.delete_processed", true)
	v.SetDefault("import.files", map[string]string{
		"prod_dop":     "prod_dop.xml",
		"warehouses":   "warehouses.xml",
		"stock_prices": "stock_prices.xml",
	})
	v.SetDefault("report.path", "reports/report.json")
	v.SetDefault("report.retention_hours", 24)
	v.SetDefault("report.timezone", "Europe/Moscow")
	v.SetDefault("templates.dir", "")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("monitoring.webhook_url", "")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.10)
	v.SetDefault("monitoring.row_error_threshold", 1000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on. Modes: run, check,
// migrate, serve, reports.
func (c *Config) Validate(mode string) error {
	var problems []string
	require := func(ok bool, msg string) {
		if !ok {
			problems = append(problems, msg)
		}
	}

	needDB, needImport, needReport, needServer := false, false, false, false
	switch mode {
	case "run":
		needDB, needImport, needReport = true, true, true
	case "check":
		needImport, needReport = true, true
	case "migrate":
		needDB = true
	case "serve":
		needReport, needServer = true, true
	case "reports":
		needReport = true
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if needDB {
		require(c.Database.URL != "", "database.url is required")
		require(c.Database.MaxConns >= 0, "database.max_conns must be >= 0")
	}
	if needImport {
		require(c.Import.Dir != "", "import.dir is required")
		require(c.Import.FailedDir != "", "import.failed_dir is required")
		require(c.Import.UnknownDir != "", "import.unknown_dir is required")
		require(c.Import.BatchSize > 0, "import.batch_size must be > 0")
		require(c.Import.HeaderOffset > 0, "import.header_offset must be > 0")
		require(len(c.Import.Files) > 0, "import.files must map at least one domain")
		switch c.Import.StockDeleteScope {
		case "", "product", "file":
		default:
			problems = append(problems, "import.stock_delete_scope must be product or file")
		}
		seen := make(map[string]string, len(c.Import.Files))
		for domain, name := range c.Import.Files {
			if name == "" {
				problems = append(problems, "import.files."+domain+" is empty")
				continue
			}
			if other, dup := seen[strings.ToLower(name)]; dup {
				problems = append(problems, "import.files: "+name+" mapped to both "+other+" and "+domain)
			}
			seen[strings.ToLower(name)] = domain
		}
	}
	if needReport {
		require(c.Report.Path != "", "report.path is required")
		require(c.Report.RetentionHours > 0, "report.retention_hours must be > 0")
		if _, err := c.Report.Location(); err != nil {
			problems = append(problems, "report.timezone is invalid")
		}
	}
	if needServer {
		require(c.Server.Port > 0, "server.port must be > 0")
	}
	if (needImport || needServer) && c.Monitoring.Enabled() {
		require(c.Monitoring.LookbackWindowHours > 0, "monitoring.lookback_window_hours must be > 0")
		require(c.Monitoring.FailureRateThreshold >= 0 && c.Monitoring.FailureRateThreshold <= 1,
			"monitoring.failure_rate_threshold must be within [0, 1]")
	}

	if len(problems) > 0 {
		return eris.Wrapf(ErrMissingSetting, "config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
