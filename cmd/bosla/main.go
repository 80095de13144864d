package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bosla-edu/desk/internal/api"
	"github.com/bosla-edu/desk/internal/dashboard"
	"github.com/bosla-edu/desk/internal/exam"
	"github.com/bosla-edu/desk/internal/grading"
	"github.com/bosla-edu/desk/internal/handler"
	appI18n "github.com/bosla-edu/desk/internal/i18n"
	"github.com/bosla-edu/desk/internal/llm"
	"github.com/bosla-edu/desk/internal/llm/prompts"
	"github.com/bosla-edu/desk/internal/model"
	"github.com/bosla-edu/desk/internal/store"
)

const defaultAPIURL = "https://api.bosla.app"

func main() {
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "bosla",
		Short:        "Exam authoring and grading desk for the Bosla platform",
		SilenceUsage: true,
	}

	p := root.PersistentFlags()
	p.String("api-url", "", "Bosla API base URL (default: the signed-in URL or "+defaultAPIURL+")")
	p.String("api-version", "v1", "API version path segment")
	p.String("db", "bosla.db", "SQLite database path for the local session and drafts")
	p.StringP("lang", "l", "", "UI language (en, ar); defaults to the saved preference")
	p.Float64("rate-limit", 10, "Maximum API requests per second (0 = unlimited)")
	p.Duration("resolve-delay", exam.DefaultResolveDelay, "Wait before re-fetching an exam to find a created question")
	p.String("log-level", "info", "Log level (debug, info, warn, error)")
	p.String("log-format", "text", "Log format (text, json)")

	serve := serveCmd()
	root.AddCommand(
		serve,
		loginCmd(),
		logoutCmd(),
		examCmd(),
		questionCmd(),
		optionCmd(),
		submissionsCmd(),
		gradeCmd(),
		exportCmd(),
		deadlineExceptionCmd(),
		dashboardCmd(),
	)
	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the desk JSON API",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("base-path", "", "URL prefix for sub-path deployments (e.g. /desk)")
	f.Duration("toast-dismiss", 3*time.Second, "How long the front end keeps a toast on screen")
	f.String("redis-addr", "", "Redis address or URL for the dashboard cache (empty disables caching)")
	f.Duration("cache-ttl", dashboard.DefaultTTL, "Dashboard cache lifetime")
	f.Bool("suggestions", false, "Offer LLM grading suggestions for essay answers")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for the LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.String("prompt-variant", "", "Grading prompt variant (strict, standard, lenient)")
	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("BOSLA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("bosla")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/bosla")
	v.AddConfigPath("/etc/bosla")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Debug("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// desk bundles what every command needs: config, the local store and the
// services talking to the API.
type desk struct {
	v       *viper.Viper
	store   *store.Store
	prefs   store.Prefs
	lang    string
	client  *api.Client
	exams   *exam.Service
	grading *grading.Service
}

func openDesk(cmd *cobra.Command) (*desk, error) {
	setupLogging(cmd)
	v := viperForCmd(cmd)
	ctx := cmd.Context()

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	prefs, err := db.GetPrefs(ctx)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("read preferences: %w", err)
	}

	lang := v.GetString("lang")
	if lang == "" {
		lang = prefs.Lang
	}
	if lang == "" {
		lang = "en"
	}
	if err := appI18n.Init(lang); err != nil {
		db.Close()
		return nil, fmt.Errorf("init i18n: %w", err)
	}
	if lang != prefs.Lang {
		prefs.Lang = lang
		if err := db.SetPrefs(ctx, prefs); err != nil {
			slog.Warn("save language preference failed", "error", err)
		}
	}

	apiURL := v.GetString("api-url")
	if apiURL == "" {
		if sess, err := db.Session(ctx); err == nil && sess != nil && sess.APIURL != "" {
			apiURL = sess.APIURL
		} else {
			apiURL = defaultAPIURL
		}
	}
	api.RegisterMetrics()
	client, err := api.New(apiURL, v.GetString("api-version"), db,
		api.WithRateLimit(v.GetFloat64("rate-limit"), 5))
	if err != nil {
		db.Close()
		return nil, err
	}

	d := &desk{
		v:       v,
		store:   db,
		prefs:   prefs,
		lang:    lang,
		client:  client,
		exams:   exam.NewService(client, exam.WithResolveDelay(v.GetDuration("resolve-delay"))),
		grading: grading.NewService(client, grading.WithDrafts(db)),
	}
	return d, nil
}

func (d *desk) Close() error { return d.store.Close() }

func runServe(cmd *cobra.Command, _ []string) error {
	v := viperForCmd(cmd)

	d, err := openDesk(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	suggestions := v.GetBool("suggestions")
	variant := prompts.PromptVariant(strings.ToLower(strings.TrimSpace(v.GetString("prompt-variant"))))
	if variant == "" {
		variant = prompts.PromptVariant(d.prefs.PromptVariant)
	}
	if !prompts.IsValidVariant(string(variant)) {
		if variant != "" {
			slog.Warn("invalid prompt-variant, using standard", "variant", variant)
		}
		variant = prompts.PromptStandard
	}
	if suggestions {
		llmClient := llm.New(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"), variant)
		d.grading = grading.NewService(d.client, grading.WithDrafts(d.store), grading.WithSuggester(llmClient, d.lang))
		if string(variant) != d.prefs.PromptVariant {
			d.prefs.PromptVariant = string(variant)
			if err := d.store.SetPrefs(cmd.Context(), d.prefs); err != nil {
				slog.Warn("save prompt variant failed", "error", err)
			}
		}
	}

	var dashOpts []dashboard.Option
	if addr := v.GetString("redis-addr"); addr != "" {
		rdb, err := dashboard.ConnectRedis(cmd.Context(), addr)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer rdb.Close()
		dashOpts = append(dashOpts, dashboard.WithCache(rdb, v.GetDuration("cache-ttl"), d.store))
	}

	basePath := strings.TrimRight(v.GetString("base-path"), "/")
	if basePath != "" && !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	cfg := model.DeskConfig{
		Lang:          d.lang,
		ToastDismiss:  v.GetDuration("toast-dismiss"),
		SuggestionsOn: suggestions,
	}
	h := handler.New(d.store, d.exams, d.grading, dashboard.New(d.client, dashOpts...), cfg)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if basePath != "" {
		r.Route(basePath, h.Routes)
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		h.Routes(r)
	}

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("starting desk",
		"addr", addr,
		"lang", d.lang,
		"base_path", basePath,
		"suggestions", suggestions,
		"prompt_variant", variant,
		"redis", v.GetString("redis-addr") != "",
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
