package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zombor/expense-tracker/internal/expense"
	"github.com/zombor/expense-tracker/internal/logging"
	"github.com/zombor/expense-tracker/internal/review"
	"github.com/zombor/expense-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env is fine; real environment variables still apply
	_ = godotenv.Load()

	fs := ff.NewFlagSet("expense-tracker")
	var (
		port        = fs.IntLong("port", 3001, "HTTP server port")
		storeType   = fs.StringLong("store", "bolt", "Expense store: 'bolt' or 'postgres'")
		dbPath      = fs.StringLong("db", "expense-tracker.db", "BoltDB file path")
		databaseURL = fs.StringLong("database-url", "", "PostgreSQL connection string (or set DATABASE_URL env var)")
		ocrType     = fs.StringLong("ocr", "tesseract", "Text recognizer: 'tesseract', 'gemini' or 'ollama'")
		ocrLang     = fs.StringLong("ocr-lang", "eng", "OCR language hint")
		tessBinary  = fs.StringLong("tesseract-bin", "tesseract", "Path to the tesseract binary")
		tessdataDir = fs.StringLong("tessdata-dir", "", "Custom tesseract language data directory")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llava", "Ollama model name (e.g., llava, llava-phi3, qwen2-vl)")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		logLevel    = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		logJSON     = fs.BoolLong("log-json", "Write logs as JSON")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("EXPENSE_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	logging.Setup(logging.Config{Level: logging.ParseLevel(*logLevel), JSON: *logJSON})

	ctx := context.Background()

	// Initialize database
	var db expense.DB
	switch *storeType {
	case "bolt":
		slog.Info("Initializing database...", "store", "bolt", "path", *dbPath)
		boltDB, err := expense.NewBoltDB(*dbPath)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		db = boltDB
	case "postgres":
		dsn := *databaseURL
		if dsn == "" {
			dsn = os.Getenv("DATABASE_URL")
		}
		if dsn == "" {
			slog.Error("Database URL is required. Set --database-url flag or DATABASE_URL environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing database...", "store", "postgres")
		pgDB, err := expense.NewPostgresDB(ctx, dsn)
		if err != nil {
			slog.Error("Failed to initialize database", "error", err)
			os.Exit(1)
		}
		db = pgDB
	default:
		slog.Error("Invalid store type", "type", *storeType, "valid", "bolt or postgres")
		os.Exit(1)
	}
	defer db.Close()

	// Initialize recognizer based on type
	var recognizer scanning.Recognizer
	switch *ocrType {
	case "tesseract":
		slog.Info("Initializing tesseract recognizer...", "binary", *tessBinary, "lang", *ocrLang)
		recognizer = scanning.NewTesseract(*tessBinary, scanning.WithTessdataDir(*tessdataDir))
	case "gemini":
		apiKey := *geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		if apiKey == "" {
			slog.Error("Gemini API key is required. Set --gemini-key flag or GEMINI_API_KEY environment variable")
			os.Exit(1)
		}
		slog.Info("Initializing Gemini recognizer...", "model", *geminiModel)
		g, err := scanning.NewGemini(ctx, apiKey, *geminiModel)
		if err != nil {
			slog.Error("Failed to initialize Gemini", "error", err)
			os.Exit(1)
		}
		recognizer = g
	case "ollama":
		slog.Info("Initializing Ollama recognizer...", "url", *ollamaURL, "model", *ollamaModel)
		o, err := scanning.NewOllama(*ollamaURL, *ollamaModel)
		if err != nil {
			slog.Error("Failed to initialize Ollama", "error", err)
			os.Exit(1)
		}
		recognizer = o
	default:
		slog.Error("Invalid OCR type", "type", *ocrType, "valid", "tesseract, gemini or ollama")
		os.Exit(1)
	}
	defer recognizer.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	gate := review.NewGate(recognizer,
		review.WithLanguage(*ocrLang),
		review.WithLogger(slog.Default().With("component", "review")),
		review.WithMetrics(review.NewMetrics(registry)),
	)
	defer gate.Close()

	expenseService := expense.NewService(db)

	basicAuth := expense.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := expense.NewServer(expenseService, gate, basicAuth, registry)

	addr := fmt.Sprintf(":%d", *port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("Starting server", "address", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Error shutting down server", "error", err)
	}
}
