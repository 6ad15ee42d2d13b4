package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"sjsage522/marketcrawler/config"
	"sjsage522/marketcrawler/helpers"
	"sjsage522/marketcrawler/internal/crawler"
	"sjsage522/marketcrawler/internal/listing"
	"sjsage522/marketcrawler/internal/pacing"
	"sjsage522/marketcrawler/internal/render"
	"sjsage522/marketcrawler/internal/vehicles"
	"sjsage522/marketcrawler/logger"
	"sjsage522/marketcrawler/pkg/errors"
	"sjsage522/marketcrawler/services/cache"
	"sjsage522/marketcrawler/services/caption"
	"sjsage522/marketcrawler/services/enrich"
	"sjsage522/marketcrawler/services/images"
	"sjsage522/marketcrawler/services/mirror"
	"sjsage522/marketcrawler/services/publisher"
	"sjsage522/marketcrawler/services/worker"
)

// CLI is the command line of the crawler
type CLI struct {
	Scrape  ScrapeCmd  `cmd:"" default:"1" help:"Crawl every configured job and update the listing files (default)."`
	Enrich  EnrichCmd  `cmd:"" help:"Add description and attributes from each listing page to a CSV."`
	Caption CaptionCmd `cmd:"" help:"Ask a vision model about every listing image of a CSV."`
}

// appContext is bound into every command's Run
type appContext struct {
	ctx context.Context
	cfg *config.Config
	log *logger.Logger
}

func main() {
	// Load environment variables
	godotenv.Load()

	// Initialize logger first
	logger.Init()
	log := logger.Default

	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("marketcrawler"),
		kong.Description("Crawls marketplace collections into resumable CSV checkpoints."),
		kong.UsageOnError(),
	)

	// Load and validate configuration
	cfg := config.LoadConfig()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	// SIGINT/SIGTERM cancel the root context so deferred teardown still runs
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("environment", cfg.Environment).
		Str("command", kctx.Command()).
		Msg("Starting application")

	if err := kctx.Run(&appContext{ctx: ctx, cfg: cfg, log: log}); err != nil {
		if ctx.Err() != nil {
			log.Warn().Err(err).Msg("Interrupted")
			return
		}
		stop()
		log.Fatal().Err(err).Str("command", kctx.Command()).Msg("Command failed")
	}
	log.Info().Msg("Shutting down gracefully...")
}

// ScrapeCmd runs the category runner over the jobs file
type ScrapeCmd struct {
	Jobs           string `help:"Jobs file; overrides JOBS_PATH." type:"path"`
	Headed         bool   `help:"Start the browser with a window."`
	MaxPages       int    `help:"Page cap per job; overrides MAX_PAGES when positive."`
	ResetCooldowns bool   `help:"Clear the cooldown of every job and run it anyway."`
}

func (c *ScrapeCmd) Run(app *appContext) error {
	cfg := app.cfg
	if c.Jobs != "" {
		cfg.JobsPath = c.Jobs
	}
	if c.Headed {
		cfg.Headless = false
	}
	if c.MaxPages > 0 {
		cfg.MaxPages = c.MaxPages
	}

	catalog, err := config.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}
	jobs, err := config.LoadJobs(cfg.JobsPath)
	if err != nil {
		return err
	}

	services := initializeServices(app.ctx, cfg)
	defer services.Cleanup()

	walkers := worker.Walkers{
		config.KindVehicles: vehicles.NewWalker(helpers.FetchWithRandomHeaders, vehicles.DefaultSelectors(),
			pacing.New(cfg.PageDelay), vehicles.Config{
				MaxPages:  cfg.MaxPages,
				WarmupURL: cfg.VehiclesWarmupURL,
			}, time.Now, logger.ForFeed()),
	}

	// the browser is only started when a job needs it
	if needsBrowser(catalog, jobs) {
		browser, err := render.NewChromeClient(render.Options{
			Headless:  cfg.Headless,
			ExecPath:  cfg.ChromeBin,
			UserAgent: cfg.UserAgent,
			Markers:   cfg.ChallengeMarkers,
			Clearance: render.Clearance{
				Waits:   cfg.RecoveryWaits,
				Poll:    2 * time.Second,
				Confirm: render.StdinConfirmer(os.Stdin, os.Stderr),
			},
		}, logger.ForBrowser())
		if err != nil {
			return err
		}
		defer browser.Close()

		selectors := crawler.DefaultSelectors()
		extractor, err := crawler.NewCardExtractor(selectors, cfg.BaseURL, time.Now)
		if err != nil {
			return errors.NewConfiguration("card extractor", err)
		}
		walkers[config.KindCollection] = crawler.NewWalker(browser, extractor, selectors, pacing.New(cfg.PageDelay), crawler.WalkerConfig{
			WaitTimeout:  cfg.WaitTimeout,
			ScrollSettle: cfg.ScrollSettle,
			MaxScrolls:   cfg.MaxScrolls,
			MaxPages:     cfg.MaxPages,
		}, logger.ForWalker())
	}

	deps := worker.Deps{
		Publisher: services.Publisher,
		Mirror:    services.Mirror,
		Cooldown:  cache.NewCooldown(services.Cache, cfg.Cooldown, logger.ForCache()),
		Failures:  helpers.NewFailureLog(cfg.FailureLog),
	}
	if cfg.DownloadImages {
		deps.Images = images.NewDownloader(cfg.ImagesDir, pacing.New(cfg.PageDelay), logger.ForRunner())
	}

	runner := worker.NewRunner(catalog, walkers, worker.Options{
		OutputDir:      cfg.OutputDir,
		OutputPrefix:   cfg.OutputPrefix,
		JobDelay:       cfg.JobDelay,
		ClosePolicy:    listing.ClosePolicy{AfterAbsences: cfg.CloseAfterAbsences},
		ResetCooldowns: c.ResetCooldowns,
	}, deps, logger.ForRunner())

	app.log.Info().
		Int("jobs", len(jobs)).
		Int("categories", len(catalog)).
		Bool("headless", cfg.Headless).
		Msg("Starting scrape")

	summary := runner.Run(app.ctx, jobs)
	app.log.Info().Interface("summary", summary).Msg("Scrape finished")
	return nil
}

// needsBrowser reports whether any job targets a browser-rendered collection
func needsBrowser(catalog config.Catalog, jobs []config.Job) bool {
	for _, j := range jobs {
		if c, ok := catalog[j.CategoryKey]; ok && c.WalkerKind() == config.KindCollection {
			return true
		}
	}
	return false
}

// EnrichCmd adds detail-page data to a listing CSV
type EnrichCmd struct {
	In    string `help:"Listing CSV to read." required:"" type:"existingfile"`
	Out   string `help:"Enriched CSV to write; defaults to <in>_deep_dive.csv." type:"path"`
	Limit int    `help:"Maximum number of pages to fetch; 0 means all."`
}

func (c *EnrichCmd) Run(app *appContext) error {
	out := c.Out
	if out == "" {
		out = strings.TrimSuffix(c.In, ".csv") + "_deep_dive.csv"
	}

	e := enrich.NewEnricher(enrich.Options{Limit: c.Limit, Delay: app.cfg.EnrichDelay}, logger.ForEnricher())
	res, err := e.Run(app.ctx, c.In, out)
	if err != nil {
		return err
	}
	app.log.Info().Str("output", out).Interface("result", res).Msg("Enrichment done")
	return nil
}

// CaptionCmd captions listing images with a multimodal model
type CaptionCmd struct {
	In     string `help:"CSV with image_url, description and current_price columns." required:"" type:"existingfile"`
	Out    string `help:"Output CSV; defaults to captioned_<in>." type:"path"`
	Limit  int    `help:"Maximum number of completions; 0 means all."`
	Prompt string `help:"Prompt template file using {{.Description}} and {{.Price}}." type:"existingfile"`
}

func (c *CaptionCmd) Run(app *appContext) error {
	if app.cfg.OpenAIAPIKey == "" {
		return errors.NewConfiguration("OPENAI_API_KEY must be set", nil)
	}
	prompt, err := caption.LoadPrompt(c.Prompt)
	if err != nil {
		return err
	}
	out := c.Out
	if out == "" {
		out = caption.DefaultOutput(c.In)
	}

	client := caption.NewOpenAIClient(app.cfg.OpenAIAPIKey, app.cfg.OpenAIModel)
	res, err := caption.NewCaptioner(client, prompt, c.Limit, logger.ForCaptioner()).Run(app.ctx, c.In, out)
	if err != nil {
		return err
	}
	app.log.Info().Str("output", out).Interface("result", res).Msg("Captioning done")
	return nil
}

// Services holds the optional backing services of a scrape
type Services struct {
	Cache     cache.CacheService
	Publisher publisher.Publisher
	Mirror    mirror.Mirror
}

// Cleanup cleans up all services
func (s *Services) Cleanup() {
	if s.Publisher != nil {
		s.Publisher.Close()
	}
	if s.Mirror != nil {
		s.Mirror.Close()
	}
}

// initializeServices connects whatever is configured. An unreachable
// service is logged and left disabled; the crawl runs without it.
func initializeServices(ctx context.Context, cfg *config.Config) *Services {
	services := &Services{Publisher: publisher.Nop{}, Mirror: mirror.Nop{}}
	log := logger.Default

	if cfg.MemcacheAddr != "" {
		mc := cache.NewMemcacheService(cfg.MemcacheAddr)
		if err := mc.Ping(); err != nil {
			log.Warn().Err(err).Str("addr", cfg.MemcacheAddr).Msg("Memcache unreachable, cooldowns disabled")
		} else {
			services.Cache = mc
			logger.Info("Connected to Memcache at %s", cfg.MemcacheAddr)
		}
	}

	if cfg.RedisAddr != "" {
		rp := publisher.NewRedisPublisher(
			cfg.RedisAddr,
			cfg.RedisDB,
			cfg.RedisStream,
			cfg.RedisStreamCount,
			cfg.RedisStreamMaxLength,
		)
		if err := rp.Ping(ctx); err != nil {
			rp.Close()
			log.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unreachable, publishing disabled")
		} else {
			services.Publisher = rp
			logger.Info("Connected to Redis at %s (DB: %d, Stream: %s)",
				cfg.RedisAddr, cfg.RedisDB, cfg.RedisStream)
		}
	}

	if cfg.PostgresDSN != "" {
		pm, err := mirror.NewPostgresMirror(ctx, cfg.PostgresDSN, logger.ForStore())
		if err != nil {
			log.Warn().Err(err).Msg("Postgres unavailable, mirror disabled")
		} else {
			services.Mirror = pm
			logger.Info("Connected to Postgres mirror")
		}
	}

	return services
}
