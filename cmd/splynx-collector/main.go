package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ternarybob/arbor"

	"splynx-collector/internal/common"
	"splynx-collector/internal/handlers"
	"splynx-collector/internal/interfaces"
	"splynx-collector/internal/services"
)

const (
	serviceName    = "splynx-collector"
	serviceVersion = "1.0.0"
)

func main() {
	var (
		configPath     = flag.String("config", "", "Path to configuration file")
		mode           = flag.String("mode", "dev", "Environment mode: 'dev', 'development', 'prod', or 'production'")
		quiet          = flag.Bool("quiet", false, "Suppress banner output")
		version        = flag.Bool("version", false, "Show version information")
		help           = flag.Bool("help", false, "Show help message")
		validateConfig = flag.Bool("validate", false, "Validate configuration file and exit")
		mergeFile      = flag.Bool("merge", false, "Merge the workbook sheets and exit (no browser)")
		reorderFile    = flag.Bool("reorder", false, "Reorder merged columns against the template and exit (no browser)")
		workbookPath   = flag.String("workbook", "", "Workbook path override for -merge/-reorder")
	)
	flag.Parse()

	if *version {
		fmt.Printf("%s v%s (build: %s)\n", serviceName, common.GetVersion(), common.GetBuild())
		os.Exit(0)
	}

	if *help {
		showHelp()
		os.Exit(0)
	}

	environment := parseMode(*mode)

	cfg, err := common.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	cfg.Collector.Environment = environment

	if *validateConfig {
		fmt.Println("Configuration is valid")
		os.Exit(0)
	}

	if err := common.InitLogger(&cfg.Logging); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logger := common.GetLogger()

	logger.Info().
		Str("version", common.GetVersion()).
		Str("build", common.GetBuild()).
		Str("environment", environment).
		Msg("Starting Splynx Collector Service")

	workbook := cfg.Output.WorkbookPath
	if *workbookPath != "" {
		workbook = *workbookPath
	}

	// One-shot file operations that never touch the browser.
	if *mergeFile {
		runMerge(workbook, logger)
		return
	}
	if *reorderFile {
		runReorder(workbook, cfg.Output.TemplatePath, logger)
		return
	}

	if !*quiet {
		common.PrintBanner(serviceName, environment, "Server", common.GetLogFilePath())
	}

	logger.Info().Msg("Initializing services...")

	portalCfg, err := common.LoadPortalConfig(cfg.Collector.PortalConfig)
	if err != nil {
		logger.Error().Err(err).Str("path", cfg.Collector.PortalConfig).Msg("Failed to load portal configuration")
		os.Exit(1)
	}

	storage, err := services.NewStorage(&cfg.Storage)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize storage")
		os.Exit(1)
	}
	defer storage.Close()

	wsHub := handlers.NewWebSocketHub(logger)
	session := services.NewSession(portalCfg, &cfg.Output, storage, wsHub)

	logger.Info().Msg("Services initialized successfully")

	runServerMode(cfg, storage, session, wsHub, logger)

	logger.Info().Msg("Splynx Collector Service shutdown complete")
	if !*quiet {
		common.PrintShutdownBanner(serviceName)
	}
}

func runMerge(workbook string, logger arbor.ILogger) {
	result, err := services.NewMergeService().MergeFile(workbook)
	if err != nil {
		logger.Error().Err(err).Str("workbook", workbook).Msg("Merge failed")
		common.PrintError(fmt.Sprintf("Merge failed: %v", err))
		os.Exit(1)
	}
	common.PrintSuccess(fmt.Sprintf("Merge: %d tickets, %d joined, %d not found",
		result.TicketsTotal, result.Joined, result.NotFound))
}

func runReorder(workbook, template string, logger arbor.ILogger) {
	if template == "" {
		common.PrintError("No template configured: set output.template_path or pass -workbook")
		os.Exit(1)
	}
	result, err := services.NewReorderService().ReorderFile(workbook, services.ReorderOptions{
		TemplatePath: template,
		KeepExtras:   true,
	})
	if err != nil {
		logger.Error().Err(err).Str("workbook", workbook).Msg("Reorder failed")
		common.PrintError(fmt.Sprintf("Reorder failed: %v", err))
		os.Exit(1)
	}
	common.PrintSuccess(fmt.Sprintf("Reorder: %d rows copied across %d columns",
		result.RowsCopied, result.OutColumns))
}

func runServerMode(cfg *common.Config, storage interfaces.Storage, session interfaces.Session, wsHub *handlers.WebSocketHub, logger arbor.ILogger) {
	logger.Info().Msg("Starting in server mode")

	webServer, err := services.NewWebServer(cfg, storage, session, wsHub, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to create web server")
		return
	}

	ctx := context.Background()
	if err := webServer.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("Failed to start web server")
		return
	}

	logger.Info().
		Int("port", cfg.Collector.Port).
		Msg("Web server started successfully")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info().Msg("Server running - press Ctrl+C to stop")

	<-sigChan
	logger.Info().Msg("Shutdown signal received")

	if err := session.Close(); err != nil {
		logger.Error().Err(err).Msg("Error closing browser session")
	}

	if err := webServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping web server")
	}

	logger.Info().Msg("Server mode shutdown complete")
}

func parseMode(mode string) string {
	switch strings.ToLower(mode) {
	case "prod", "production":
		return "production"
	case "dev", "development":
		return "development"
	default:
		return "development"
	}
}

func showHelp() {
	fmt.Printf("%s v%s - Splynx Portal Data Collector\n\n", serviceName, serviceVersion)
	fmt.Println("Usage:")
	fmt.Printf("  %s [flags]\n\n", os.Args[0])
	fmt.Println("Flags:")
	fmt.Println("  -mode string        Environment mode: 'dev', 'development', 'prod', or 'production' (default \"dev\")")
	fmt.Println("  -config string      Configuration file path")
	fmt.Println("  -quiet              Suppress banner output")
	fmt.Println("  -version            Show version information")
	fmt.Println("  -help               Show help message")
	fmt.Println("  -validate           Validate configuration file and exit")
	fmt.Println("  -merge              Merge the workbook sheets and exit")
	fmt.Println("  -reorder            Reorder merged columns against the template and exit")
	fmt.Println("  -workbook string    Workbook path override for -merge/-reorder")
	fmt.Println("\nExamples:")
	fmt.Printf("  %s                                  # Run in server mode\n", os.Args[0])
	fmt.Printf("  %s -mode prod                       # Run server in production mode\n", os.Args[0])
	fmt.Printf("  %s -config /path/to/config.toml     # Use custom config file\n", os.Args[0])
	fmt.Printf("  %s -merge -workbook datos.xlsx      # Re-run the merge on an existing workbook\n", os.Args[0])
	fmt.Println("\nNote: Browser jobs are driven through the web API; the operator completes login/2FA manually.")
}
