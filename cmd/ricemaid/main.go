// RiceMaid is a LINE-based agricultural assistant backend: it receives
// webhook deliveries, drives a per-user conversation state machine, and
// exposes HTTP endpoints for carbon-credit estimation, IoT sensor readings,
// and water-resources data.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ricemaid/ricemaid/internal/api"
	"github.com/ricemaid/ricemaid/internal/bot"
	"github.com/ricemaid/ricemaid/internal/fielddata"
	"github.com/ricemaid/ricemaid/internal/genai"
	"github.com/ricemaid/ricemaid/internal/hydro"
	"github.com/ricemaid/ricemaid/internal/linegw"
	"github.com/ricemaid/ricemaid/internal/search"
	"github.com/ricemaid/ricemaid/internal/session"
	"github.com/ricemaid/ricemaid/internal/store"
	"github.com/ricemaid/ricemaid/internal/util"
	"github.com/ricemaid/ricemaid/internal/vision"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for RiceMaid state data
	DefaultStateDir = "/var/lib/ricemaid"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "ricemaid.db"
)

func main() {
	// Initialize structured logger
	initializeLogger()

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags := parseCommandLineFlags(config)

	slog.Info("Bootstrapping RiceMaid with configured modules")
	if err := run(flags); err != nil {
		slog.Error("RiceMaid failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("RiceMaid exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL   string
	StateDir      string
	OpenAIKey     string
	LineSecret    string
	LineToken     string
	TavilyKey     string
	WstdKey       string
	VisionURL     string
	APIAddr       string
	SessionTTL    time.Duration
	TurnTimeout   time.Duration
	UseSensorData bool
}

// Flags holds command line flag values
type Flags struct {
	stateDir      *string
	dbDSN         *string
	openaiKey     *string
	lineSecret    *string
	lineToken     *string
	tavilyKey     *string
	wstdKey       *string
	visionURL     *string
	apiAddr       *string
	sessionTTL    *time.Duration
	turnTimeout   *time.Duration
	useSensorData *bool
}

// initializeLogger sets up structured logging with debug level
func initializeLogger() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		StateDir:      os.Getenv("RICEMAID_STATE_DIR"),
		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		LineSecret:    os.Getenv("LINE_CHANNEL_SECRET"),
		LineToken:     os.Getenv("LINE_CHANNEL_ACCESS_TOKEN"),
		TavilyKey:     os.Getenv("TAVILY_API_KEY"),
		WstdKey:       os.Getenv("WSTD_API_KEY"),
		VisionURL:     os.Getenv("VISION_ENDPOINT"),
		APIAddr:       os.Getenv("RICEMAID_ADDR"),
		SessionTTL:    util.ParseDurationEnv("SESSION_TTL", 0),
		TurnTimeout:   util.ParseDurationEnv("TURN_TIMEOUT", bot.DefaultTurnTimeout),
		UseSensorData: util.ParseBoolEnv("USE_SENSOR_DATA", true),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
		slog.Debug("No RICEMAID_STATE_DIR set, using default", "default_state_dir", config.StateDir)
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"RICEMAID_STATE_DIR", config.StateDir,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"LINE_CHANNEL_SECRET_SET", config.LineSecret != "",
		"LINE_CHANNEL_ACCESS_TOKEN_SET", config.LineToken != "",
		"TAVILY_API_KEY_SET", config.TavilyKey != "",
		"WSTD_API_KEY_SET", config.WstdKey != "",
		"VISION_ENDPOINT", config.VisionURL,
		"RICEMAID_ADDR", config.APIAddr,
		"SESSION_TTL", config.SessionTTL,
		"TURN_TIMEOUT", config.TurnTimeout,
		"USE_SENSOR_DATA", config.UseSensorData)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		stateDir:      flag.String("state-dir", config.StateDir, "state directory for RiceMaid data (overrides $RICEMAID_STATE_DIR)"),
		dbDSN:         flag.String("db-dsn", config.DatabaseURL, "database DSN: postgres:// URL or SQLite file path (overrides $DATABASE_URL)"),
		openaiKey:     flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		lineSecret:    flag.String("line-channel-secret", config.LineSecret, "LINE channel secret (overrides $LINE_CHANNEL_SECRET)"),
		lineToken:     flag.String("line-channel-token", config.LineToken, "LINE channel access token (overrides $LINE_CHANNEL_ACCESS_TOKEN)"),
		tavilyKey:     flag.String("tavily-api-key", config.TavilyKey, "Tavily search API key (overrides $TAVILY_API_KEY)"),
		wstdKey:       flag.String("wstd-api-key", config.WstdKey, "DWR water-resources API key (overrides $WSTD_API_KEY)"),
		visionURL:     flag.String("vision-endpoint", config.VisionURL, "rice growth-stage classifier endpoint (overrides $VISION_ENDPOINT)"),
		apiAddr:       flag.String("api-addr", config.APIAddr, "API server address (overrides $RICEMAID_ADDR)"),
		sessionTTL:    flag.Duration("session-ttl", config.SessionTTL, "idle session expiry; 0 disables eviction (overrides $SESSION_TTL)"),
		turnTimeout:   flag.Duration("turn-timeout", config.TurnTimeout, "per-turn collaborator timeout (overrides $TURN_TIMEOUT)"),
		useSensorData: flag.Bool("use-sensor-data", config.UseSensorData, "read field overview from stored sensor data instead of mock data (overrides $USE_SENSOR_DATA)"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"stateDir", *flags.stateDir,
		"dbDSN_set", *flags.dbDSN != "",
		"openaiKeySet", *flags.openaiKey != "",
		"lineSecretSet", *flags.lineSecret != "",
		"lineTokenSet", *flags.lineToken != "",
		"tavilyKeySet", *flags.tavilyKey != "",
		"wstdKeySet", *flags.wstdKey != "",
		"visionURL", *flags.visionURL,
		"apiAddr", *flags.apiAddr,
		"sessionTTL", *flags.sessionTTL,
		"turnTimeout", *flags.turnTimeout,
		"useSensorData", *flags.useSensorData)

	// Update database DSN if not explicitly set but state directory is provided
	if *flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", *flags.stateDir)
	}

	return flags
}

// run wires the modules together and serves until a shutdown signal arrives.
func run(flags Flags) error {
	// Ensure the state directory exists for file-based storage
	if !strings.HasPrefix(*flags.dbDSN, "postgres://") && !strings.HasPrefix(*flags.dbDSN, "postgresql://") {
		stateDir := filepath.Dir(*flags.dbDSN)
		if err := os.MkdirAll(stateDir, 0755); err != nil {
			slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
			return err
		}
	}

	st, err := store.FromDSN(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	chat, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		return err
	}

	gateway, err := linegw.New(buildLineOptions(flags)...)
	if err != nil {
		return err
	}

	searcher, err := search.NewClient(buildSearchOptions(flags)...)
	if err != nil {
		return err
	}

	water, err := hydro.NewClient(buildHydroOptions(flags)...)
	if err != nil {
		return err
	}

	classifier, err := vision.NewHTTPClassifier(buildVisionOptions(flags)...)
	if err != nil {
		return err
	}

	var field bot.FieldData
	if *flags.useSensorData {
		field = fielddata.NewStoreSource(st, fielddata.NewGenerator())
	} else {
		field = fielddata.NewGenerator()
	}

	sessions := session.NewStore(buildSessionOptions(flags)...)

	engine := bot.New(bot.Config{
		Sessions:    sessions,
		Messenger:   gateway,
		Chat:        chat,
		Search:      searcher,
		Hydro:       water,
		Classifier:  classifier,
		FieldData:   field,
		TurnTimeout: *flags.turnTimeout,
	})

	server, err := api.NewServer(st, gateway, engine, classifier, water, buildAPIOptions(flags)...)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	sessions.StartSweeper(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		slog.Info("Shutdown signal received, stopping server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var opts []genai.Option
	if *flags.openaiKey != "" {
		opts = append(opts, genai.WithAPIKey(*flags.openaiKey))
	}
	return opts
}

// buildLineOptions constructs messaging gateway configuration options
func buildLineOptions(flags Flags) []linegw.Option {
	var opts []linegw.Option
	if *flags.lineSecret != "" {
		opts = append(opts, linegw.WithChannelSecret(*flags.lineSecret))
	}
	if *flags.lineToken != "" {
		opts = append(opts, linegw.WithChannelToken(*flags.lineToken))
	}
	return opts
}

// buildSearchOptions constructs search client configuration options
func buildSearchOptions(flags Flags) []search.Option {
	var opts []search.Option
	if *flags.tavilyKey != "" {
		opts = append(opts, search.WithAPIKey(*flags.tavilyKey))
	}
	return opts
}

// buildHydroOptions constructs hydrology client configuration options
func buildHydroOptions(flags Flags) []hydro.Option {
	var opts []hydro.Option
	if *flags.wstdKey != "" {
		opts = append(opts, hydro.WithAPIKey(*flags.wstdKey))
	}
	return opts
}

// buildVisionOptions constructs image classifier configuration options
func buildVisionOptions(flags Flags) []vision.Option {
	var opts []vision.Option
	if *flags.visionURL != "" {
		opts = append(opts, vision.WithEndpoint(*flags.visionURL))
	}
	return opts
}

// buildSessionOptions constructs session store configuration options
func buildSessionOptions(flags Flags) []session.Option {
	var opts []session.Option
	if *flags.sessionTTL > 0 {
		opts = append(opts, session.WithTTL(*flags.sessionTTL))
	}
	return opts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags) []api.Option {
	var opts []api.Option
	if *flags.apiAddr != "" {
		opts = append(opts, api.WithAddr(*flags.apiAddr))
	}
	return opts
}
