package worker

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"sjsage522/marketcrawler/config"
	"sjsage522/marketcrawler/helpers"
	"sjsage522/marketcrawler/internal/crawler"
	"sjsage522/marketcrawler/internal/listing"
	"sjsage522/marketcrawler/internal/pacing"
	"sjsage522/marketcrawler/logger"
	"sjsage522/marketcrawler/pkg/errors"
	"sjsage522/marketcrawler/services/cache"
	"sjsage522/marketcrawler/services/mirror"
	"sjsage522/marketcrawler/services/publisher"
	"sjsage522/marketcrawler/services/store"
)

// Walker traverses the pages of one catalog entry
type Walker interface {
	Walk(ctx context.Context, collectionURL string, filters [][2]string, sink crawler.PageSink) (crawler.WalkResult, error)
}

// Walkers maps a catalog entry kind to the walker that traverses it
type Walkers map[string]Walker

// ImageSaver stores the images of newly seen listings
type ImageSaver interface {
	DownloadAll(ctx context.Context, records []listing.Record) (int, error)
}

// Options tunes a Runner
type Options struct {
	OutputDir    string
	OutputPrefix string
	JobDelay     time.Duration
	ClosePolicy  listing.ClosePolicy
	// ResetCooldowns clears the cooldown marker of every job instead of
	// honoring it
	ResetCooldowns bool
	Now            func() time.Time
}

// Deps are the optional collaborators of a Runner; nil members are disabled
type Deps struct {
	Publisher publisher.Publisher
	Mirror    mirror.Mirror
	Images    ImageSaver
	Cooldown  *cache.Cooldown
	Failures  helpers.FailureJournal
}

// Status is the outcome of one job
type Status string

const (
	StatusDone    Status = "done"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// JobResult describes one finished job
type JobResult struct {
	Category string
	Output   string
	Status   Status
	Pages    int
	Observed int
	New      int
	Closed   int
}

// Summary aggregates a run
type Summary struct {
	Jobs      int
	Succeeded int
	Failed    int
	Skipped   int
	Pages     int
	Observed  int
	New       int
	Closed    int
}

func (s *Summary) add(r JobResult) {
	s.Jobs++
	switch r.Status {
	case StatusDone:
		s.Succeeded++
	case StatusSkipped:
		s.Skipped++
	case StatusFailed:
		s.Failed++
	}
	s.Pages += r.Pages
	s.Observed += r.Observed
	s.New += r.New
	s.Closed += r.Closed
}

// Runner executes scrape jobs one after another
type Runner struct {
	catalog config.Catalog
	walkers Walkers
	opts    Options
	deps    Deps
	pacer   *pacing.Pacer
	log     *logger.Logger
}

// NewRunner creates a runner over the catalog. Jobs whose entry kind has no
// walker are skipped.
func NewRunner(catalog config.Catalog, walkers Walkers, opts Options, deps Deps, log *logger.Logger) *Runner {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.Publisher == nil {
		deps.Publisher = publisher.Nop{}
	}
	if deps.Mirror == nil {
		deps.Mirror = mirror.Nop{}
	}
	return &Runner{
		catalog: catalog,
		walkers: walkers,
		opts:    opts,
		deps:    deps,
		pacer:   pacing.New(opts.JobDelay),
		log:     log,
	}
}

// OutputPath names the checkpoint of a job: prefix, collection name and the
// applied filters, made safe for the file system
func OutputPath(dir, prefix, collectionURL string, filters [][2]string) string {
	var b strings.Builder
	b.WriteString(prefix + "_" + helpers.LastPathSegment(collectionURL))
	for _, f := range filters {
		b.WriteString("_" + f[0] + "_" + f[1])
	}
	return filepath.Join(dir, helpers.SanitizeFileName(b.String())+".csv")
}

func describe(job config.Job) string {
	parts := []string{job.CategoryKey}
	for _, f := range job.AppliedFilters() {
		parts = append(parts, f[0]+"="+f[1])
	}
	return strings.Join(parts, " ")
}

// Run executes jobs in order. A failing job is logged and recorded; it never
// stops the run. Only cancellation ends the run early.
func (r *Runner) Run(ctx context.Context, jobs []config.Job) Summary {
	var summary Summary

	for _, job := range jobs {
		if err := r.pacer.Wait(ctx); err != nil {
			break
		}
		res, err := r.RunJob(ctx, job)
		r.pacer.Done()

		// an interrupted job is neither failed nor done
		if err != nil && ctx.Err() == nil {
			res.Status = StatusFailed
			r.fail(job, err)
		}
		summary.add(res)

		if ctx.Err() != nil {
			r.log.Warn().Msg("Run interrupted")
			break
		}
	}

	if err := r.deps.Publisher.TrimStreams(context.WithoutCancel(ctx)); err != nil {
		r.log.Error().Err(err).Msg("Stream trimming failed")
	}

	r.log.Info().
		Int("jobs", summary.Jobs).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("skipped", summary.Skipped).
		Int("pages", summary.Pages).
		Int("new", summary.New).
		Int("closed", summary.Closed).
		Msg("Run finished")
	return summary
}

func (r *Runner) fail(job config.Job, err error) {
	log := r.log.WithError(err).WithField("job", describe(job))
	log.Error().Str("kind", string(errors.TypeOf(err))).Msg("Job failed")

	if r.deps.Failures != nil {
		if jerr := r.deps.Failures.Record(describe(job), err); jerr != nil {
			log.Warn().AnErr("journal_error", jerr).Msg("Could not record failed job")
		}
	}
	if errors.IsRetryable(err) {
		key := cache.CooldownKey(job.CategoryKey, job.AppliedFilters())
		if cerr := r.deps.Cooldown.Start(key); cerr != nil {
			log.Warn().AnErr("cache_error", cerr).Str("key", key).Msg("Could not set cooldown")
		}
	}
}

// RunJob walks one catalog entry and keeps its checkpoint current after
// every page. Pages saved before a failure stay saved.
func (r *Runner) RunJob(ctx context.Context, job config.Job) (JobResult, error) {
	res := JobResult{Category: job.CategoryKey}
	log := r.log.WithField("category", job.CategoryKey)

	coll, ok := r.catalog[job.CategoryKey]
	if !ok {
		log.Warn().Msg("Unknown category, skipping job")
		res.Status = StatusSkipped
		return res, nil
	}

	walker, ok := r.walkers[coll.WalkerKind()]
	if !ok {
		log.Warn().Str("kind", coll.WalkerKind()).Msg("No walker for category kind, skipping job")
		res.Status = StatusSkipped
		return res, nil
	}

	filters := job.AppliedFilters()
	key := cache.CooldownKey(job.CategoryKey, filters)
	if r.opts.ResetCooldowns {
		if err := r.deps.Cooldown.Clear(key); err != nil {
			log.Warn().Err(err).Str("key", key).Msg("Could not clear cooldown")
		}
	} else if r.deps.Cooldown.Active(key) {
		log.Info().Msg("Job is cooling down, skipping")
		res.Status = StatusSkipped
		return res, nil
	}

	res.Output = OutputPath(r.opts.OutputDir, r.opts.OutputPrefix, coll.URL, filters)
	cp, err := store.Open(res.Output, log)
	if err != nil {
		return res, err
	}
	log.Info().Str("output", res.Output).Int("resident", len(cp.Records())).Msg("Job started")

	sink := func(page int, records []listing.Record) error {
		added, err := cp.Apply(records)
		if err != nil {
			return err
		}
		res.New += len(added)
		log.Info().Int("page", page).Int("records", len(records)).Int("new", len(added)).Msg("Page saved")
		r.announce(ctx, job.CategoryKey, added, log)
		return nil
	}

	walk, err := walker.Walk(ctx, coll.URL, filters, sink)
	res.Pages = walk.Pages
	res.Observed = len(walk.Observed)
	if err != nil {
		return res, err
	}

	if walk.Completed() {
		closed, err := r.closeout(cp, walk.Observed, log)
		if err != nil {
			return res, err
		}
		res.Closed = closed
	}

	if err := r.deps.Mirror.Upsert(ctx, job.CategoryKey, cp.Records()); err != nil {
		log.Warn().Err(err).Msg("Mirror update failed")
	}

	if walk.Err != nil {
		return res, walk.Err
	}

	res.Status = StatusDone
	log.Info().
		Int("pages", res.Pages).
		Int("observed", res.Observed).
		Int("new", res.New).
		Int("closed", res.Closed).
		Str("stop", string(walk.Reason)).
		Msg("Job finished")
	return res, nil
}

// announce publishes and downloads images for newly seen listings. Failures
// here never fail the job.
func (r *Runner) announce(ctx context.Context, category string, added []listing.Record, log *logger.Logger) {
	if len(added) == 0 {
		return
	}
	if _, err := publisher.PublishListings(ctx, r.deps.Publisher, category, added); err != nil {
		log.Warn().Err(err).Msg("Publishing new listings failed")
	}
	if r.deps.Images != nil {
		if _, err := r.deps.Images.DownloadAll(ctx, added); err != nil {
			log.Warn().Err(err).Msg("Image download interrupted")
		}
	}
}

// closeout applies the close policy after a traversal that ran to its end.
// A traversal that observed nothing is not trusted to close anything.
func (r *Runner) closeout(cp *store.Checkpoint, observed listing.IDSet, log *logger.Logger) (int, error) {
	policy := r.opts.ClosePolicy
	if !policy.Enabled() || len(observed) == 0 {
		return 0, nil
	}

	path := store.StreaksPath(cp.Path())
	streaks, err := store.LoadStreaks(path)
	if err != nil {
		return 0, err
	}

	ids, next := policy.Decide(cp.OpenAtLoad(), observed, streaks)
	if err := cp.Close(ids, listing.Date(r.opts.Now())); err != nil {
		return 0, err
	}
	if err := store.SaveStreaks(path, next); err != nil {
		return len(ids), err
	}
	if len(next) > 0 {
		log.Debug().Int("absent", len(next)).Int("close_after", policy.AfterAbsences).Msg("Listings missing from traversal")
	}
	return len(ids), nil
}
