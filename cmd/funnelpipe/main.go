package main

import (
	"flag"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BTreeMap/FunnelPipe/internal/api"
	"github.com/BTreeMap/FunnelPipe/internal/delivery"
	"github.com/BTreeMap/FunnelPipe/internal/flow"
	"github.com/BTreeMap/FunnelPipe/internal/lockfile"
	"github.com/BTreeMap/FunnelPipe/internal/store"
	"github.com/BTreeMap/FunnelPipe/internal/twiliowhatsapp"
	"github.com/BTreeMap/FunnelPipe/internal/util"
	"github.com/BTreeMap/FunnelPipe/internal/whatsapp"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for FunnelPipe state data
	DefaultStateDir = "/var/lib/funnelpipe"
	// DefaultAppDBFileName is the default SQLite database filename for funnel data
	DefaultAppDBFileName = "funnelpipe.db"
	// DefaultWhatsAppDBFileName is the default SQLite database filename for the whatsmeow session
	DefaultWhatsAppDBFileName = "whatsmeow.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags, err := parseCommandLineFlags(flag.CommandLine, os.Args[1:], config)
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	// Ensure required directories exist
	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	lock, err := lockfile.AcquireLock(*flags.stateDir)
	if err != nil {
		slog.Error("Failed to acquire state directory lock", "error", err, "state_dir", *flags.stateDir)
		os.Exit(1)
	}

	mods := api.Modules{
		WhatsApp: buildWhatsAppOptions(flags),
		Twilio:   buildTwilioOptions(flags),
		Store:    buildStoreOptions(flags),
		Delivery: buildDeliveryOptions(flags),
		Flow:     buildFlowOptions(flags),
		API:      buildAPIOptions(flags),
	}

	// Start the service
	slog.Info("Bootstrapping FunnelPipe with configured modules")
	slog.Debug("Module options counts", "whatsapp", len(mods.WhatsApp), "twilio", len(mods.Twilio), "store", len(mods.Store),
		"delivery", len(mods.Delivery), "flow", len(mods.Flow), "api", len(mods.API))
	slog.Debug("Final configuration", "state_dir", *flags.stateDir, "dsn_set", *flags.dbDSN != "", "api_addr", *flags.apiAddr, "transport", *flags.transport)
	runErr := api.Run(mods)
	if err := lock.Release(); err != nil {
		slog.Warn("Failed to release state directory lock", "error", err)
	}
	if runErr != nil {
		slog.Error("FunnelPipe failed to run", "error", runErr)
		os.Exit(1)
	}
	slog.Info("FunnelPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir         string
	ApplicationDBDSN string
	WhatsAppDBDSN    string
	Transport        string
	MediaDir         string
	MediaBaseURL     string
	APIAddr          string
	PruneCron        string
	LogRetention     int
	LanguageTimeout  time.Duration
	DemoTimeout      time.Duration
	DemoPromptDelay  time.Duration
	MessageDelay     time.Duration
}

// Flags holds command line flag values
type Flags struct {
	qrOutput        *string
	numeric         *bool
	stateDir        *string
	dbDSN           *string
	whatsappDSN     *string
	transport       *string
	mediaDir        *string
	mediaBaseURL    *string
	apiAddr         *string
	pruneCron       *string
	logRetention    *int
	languageTimeout *time.Duration
	demoTimeout     *time.Duration
	demoPromptDelay *time.Duration
	messageDelay    *time.Duration
}

// initializeLogger sets up structured logging, debug level unless FUNNELPIPE_LOG_LEVEL says otherwise
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(os.Getenv("FUNNELPIPE_LOG_LEVEL"))}))
	slog.SetDefault(logger)
}

func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if s == "" || level.UnmarshalText([]byte(strings.TrimSpace(s))) != nil {
		return slog.LevelDebug
	}
	return level
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:         os.Getenv("FUNNELPIPE_STATE_DIR"),
		ApplicationDBDSN: os.Getenv("DATABASE_URL"),
		WhatsAppDBDSN:    os.Getenv("WHATSAPP_DB_DSN"),
		Transport:        os.Getenv("FUNNELPIPE_TRANSPORT"),
		MediaDir:         os.Getenv("FUNNELPIPE_MEDIA_DIR"),
		MediaBaseURL:     os.Getenv("FUNNELPIPE_MEDIA_BASE_URL"),
		APIAddr:          os.Getenv("API_ADDR"),
		PruneCron:        os.Getenv("FUNNELPIPE_PRUNE_CRON"),
		LogRetention:     util.ParseIntEnv("FUNNELPIPE_LOG_RETENTION", api.DefaultLogRetention),
		LanguageTimeout:  util.ParseDurationEnv("FUNNELPIPE_LANGUAGE_TIMEOUT", flow.DefaultLanguageTimeout),
		DemoTimeout:      util.ParseDurationEnv("FUNNELPIPE_DEMO_TIMEOUT", flow.DefaultDemoTimeout),
		DemoPromptDelay:  util.ParseDurationEnv("FUNNELPIPE_DEMO_PROMPT_DELAY", flow.DefaultDemoPromptDelay),
		MessageDelay:     util.ParseDurationEnv("FUNNELPIPE_MESSAGE_DELAY", flow.DefaultMinInterval),
	}

	// Set default state directory if not specified
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No FUNNELPIPE_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	} else {
		slog.Debug("FUNNELPIPE_STATE_DIR found in environment", "state_dir", config.StateDir)
	}

	// Funnel data and the whatsmeow session live in separate SQLite files by default
	if config.ApplicationDBDSN == "" {
		config.ApplicationDBDSN = defaultAppDSN(config.StateDir)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.ApplicationDBDSN)
	}
	if config.WhatsAppDBDSN == "" {
		config.WhatsAppDBDSN = defaultWhatsAppDSN(config.StateDir)
		slog.Debug("No WHATSAPP_DB_DSN provided, defaulting to SQLite", "dsn", config.WhatsAppDBDSN)
	}
	if config.Transport == "" {
		config.Transport = string(api.TransportWhatsApp)
	}

	slog.Debug("environment variables loaded",
		"FUNNELPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", os.Getenv("DATABASE_URL") != "",
		"WHATSAPP_DB_DSN_SET", os.Getenv("WHATSAPP_DB_DSN") != "",
		"FUNNELPIPE_TRANSPORT", config.Transport,
		"FUNNELPIPE_MEDIA_DIR", config.MediaDir,
		"API_ADDR", config.APIAddr,
		"FUNNELPIPE_PRUNE_CRON", config.PruneCron,
		"FUNNELPIPE_LOG_RETENTION", config.LogRetention)

	return config
}

func defaultAppDSN(stateDir string) string {
	return filepath.Join(stateDir, DefaultAppDBFileName)
}

func defaultWhatsAppDSN(stateDir string) string {
	return "file:" + filepath.Join(stateDir, DefaultWhatsAppDBFileName) + "?_foreign_keys=on"
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(fs *flag.FlagSet, args []string, config Config) (Flags, error) {
	flags := Flags{
		qrOutput:        fs.String("qr-output", "", "path to write login QR code"),
		numeric:         fs.Bool("numeric-code", false, "use numeric login code instead of QR code"),
		stateDir:        fs.String("state-dir", config.StateDir, "state directory for FunnelPipe data (overrides $FUNNELPIPE_STATE_DIR)"),
		dbDSN:           fs.String("db-dsn", config.ApplicationDBDSN, "funnel database DSN (overrides $DATABASE_URL)"),
		whatsappDSN:     fs.String("whatsapp-db-dsn", config.WhatsAppDBDSN, "whatsmeow session database DSN (overrides $WHATSAPP_DB_DSN)"),
		transport:       fs.String("transport", config.Transport, "chat transport: whatsapp or twilio (overrides $FUNNELPIPE_TRANSPORT)"),
		mediaDir:        fs.String("media-dir", config.MediaDir, "directory relative media paths resolve against (overrides $FUNNELPIPE_MEDIA_DIR)"),
		mediaBaseURL:    fs.String("media-base-url", config.MediaBaseURL, "public URL serving the media directory, Twilio only (overrides $FUNNELPIPE_MEDIA_BASE_URL)"),
		apiAddr:         fs.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		pruneCron:       fs.String("prune-cron", config.PruneCron, "cron schedule for log pruning (overrides $FUNNELPIPE_PRUNE_CRON)"),
		logRetention:    fs.Int("log-retention", config.LogRetention, "log entries kept by the prune job (overrides $FUNNELPIPE_LOG_RETENTION)"),
		languageTimeout: fs.Duration("language-timeout", config.LanguageTimeout, "language question reminder delay (overrides $FUNNELPIPE_LANGUAGE_TIMEOUT)"),
		demoTimeout:     fs.Duration("demo-timeout", config.DemoTimeout, "demo question reminder delay (overrides $FUNNELPIPE_DEMO_TIMEOUT)"),
		demoPromptDelay: fs.Duration("demo-prompt-delay", config.DemoPromptDelay, "delay between content and demo question (overrides $FUNNELPIPE_DEMO_PROMPT_DELAY)"),
		messageDelay:    fs.Duration("message-delay", config.MessageDelay, "minimum gap between two processed messages of one contact (overrides $FUNNELPIPE_MESSAGE_DELAY)"),
	}

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}

	slog.Debug("flags parsed",
		"qrOutput", *flags.qrOutput,
		"numeric", *flags.numeric,
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"transport", *flags.transport,
		"apiAddr", *flags.apiAddr,
		"pruneCron", *flags.pruneCron)

	// Follow a state directory override when the DSNs still point at the old default
	if *flags.stateDir != config.StateDir {
		if *flags.dbDSN == defaultAppDSN(config.StateDir) {
			*flags.dbDSN = defaultAppDSN(*flags.stateDir)
			slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
		}
		if *flags.whatsappDSN == defaultWhatsAppDSN(config.StateDir) {
			*flags.whatsappDSN = defaultWhatsAppDSN(*flags.stateDir)
			slog.Debug("Updated whatsappDSN based on state directory", "new_state_dir", *flags.stateDir)
		}
	}

	return flags, nil
}

// ensureDirectoriesExist creates the state directory and the parent of every file-based database
func ensureDirectoriesExist(flags Flags) error {
	dirs := []string{*flags.stateDir}
	for _, dsn := range []string{*flags.dbDSN, *flags.whatsappDSN} {
		if dir := sqliteDir(dsn); dir != "" {
			dirs = append(dirs, dir)
		}
	}
	for _, dir := range dirs {
		slog.Debug("Creating directory for file-based storage", "dir", dir)
		if err := os.MkdirAll(dir, 0755); err != nil {
			slog.Error("Failed to create directory", "error", err, "dir", dir)
			return err
		}
	}
	return nil
}

// sqliteDir returns the parent directory of a SQLite DSN, or "" for other DSNs.
func sqliteDir(dsn string) string {
	if store.DetectDSNType(dsn) != store.DSNTypeSQLite {
		return ""
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return ""
	}
	return filepath.Dir(path)
}

// buildWhatsAppOptions constructs WhatsApp configuration options
func buildWhatsAppOptions(flags Flags) []whatsapp.Option {
	var waOpts []whatsapp.Option
	if *flags.qrOutput != "" {
		waOpts = append(waOpts, whatsapp.WithQRCodeOutput(*flags.qrOutput))
	}
	if *flags.numeric {
		waOpts = append(waOpts, whatsapp.WithNumericCode())
	}
	if *flags.whatsappDSN != "" {
		waOpts = append(waOpts, whatsapp.WithDBDSN(*flags.whatsappDSN))
	}
	return waOpts
}

// buildTwilioOptions constructs Twilio configuration options; credentials come from the environment
func buildTwilioOptions(flags Flags) []twiliowhatsapp.Option {
	var twOpts []twiliowhatsapp.Option
	if *flags.mediaBaseURL != "" {
		twOpts = append(twOpts, twiliowhatsapp.WithMediaBaseURL(*flags.mediaBaseURL, *flags.mediaDir))
	}
	return twOpts
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.dbDSN != "" {
		switch store.DetectDSNType(*flags.dbDSN) {
		case store.DSNTypePostgres:
			slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
			storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
		case store.DSNTypeSQLite:
			slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
			storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
		default:
			slog.Debug("Memory DSN provided, will use in-memory store")
		}
	} else {
		slog.Debug("No database DSN provided, will use in-memory store")
	}
	if *flags.logRetention > 0 {
		storeOpts = append(storeOpts, store.WithLogCap(*flags.logRetention))
	}
	return storeOpts
}

// buildDeliveryOptions constructs delivery pipeline options
func buildDeliveryOptions(flags Flags) []delivery.Option {
	var deliveryOpts []delivery.Option
	if *flags.mediaDir != "" {
		deliveryOpts = append(deliveryOpts, delivery.WithMediaDir(*flags.mediaDir))
	}
	return deliveryOpts
}

// buildFlowOptions constructs orchestrator timing options
func buildFlowOptions(flags Flags) []flow.Option {
	return []flow.Option{
		flow.WithLanguageTimeout(*flags.languageTimeout),
		flow.WithDemoTimeout(*flags.demoTimeout),
		flow.WithDemoPromptDelay(*flags.demoPromptDelay),
		flow.WithMinInterval(*flags.messageDelay),
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var apiOpts []api.Option
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.transport != "" {
		apiOpts = append(apiOpts, api.WithTransport(api.Transport(*flags.transport)))
	}
	if *flags.pruneCron != "" {
		apiOpts = append(apiOpts, api.WithPruneSchedule(*flags.pruneCron))
	}
	if *flags.logRetention > 0 {
		apiOpts = append(apiOpts, api.WithLogRetention(*flags.logRetention))
	}
	return apiOpts
}
