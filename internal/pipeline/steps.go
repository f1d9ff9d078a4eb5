package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"

	"crime-etl/internal/archive"
	"crime-etl/internal/boundary"
	"crime-etl/internal/dashboard"
	"crime-etl/internal/enrich"
	"crime-etl/internal/geo"
	"crime-etl/internal/ingest"
	"crime-etl/internal/logger"
	"crime-etl/internal/merge"
	"crime-etl/internal/migrate"
	"crime-etl/internal/record"
	"crime-etl/internal/store"
	"crime-etl/internal/utils"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Steps：全部步骤（按执行顺序）
func Steps() []Step {
	return []Step{
		{0, "Download Archive Data", "Downloads the latest historical crime archive from Police.uk", downloadArchive},
		{1, "Generate Archive Data", "Aggregates historical data from local archive files", generateArchive},
		{2, "Fetch API Data", "Fetches crime data from the UK Police API", fetchAPI},
		{3, "Process API Data", "Normalizes API data, filters by Leeds boundary, assigns LSOA codes", processAPI},
		{4, "Merge Datasets", "Combines archive and API data, removes duplicates", mergeDatasets},
		{5, "Enrich Data", "Adds Ward Names and Postcode Districts via geocoding", enrichData},
		{6, "Patch Enrichment", "Fills in missing Ward/Postcode data with wider search radius", patchEnrichment},
		{7, "Verify Locations", "Drops unverified records outside the Leeds boundary", verifyLocations},
		{8, "Assign LSOA", "Assigns LSOA codes to verified records", assignLSOA},
		{9, "Prepare Dashboard Data", "Aggregates records into the dashboard grid file", prepareDashboard},
		{10, "Export Postgres", "Replaces the crime_records table with the combined dataset", exportPostgres},
	}
}

func (e *Env) boundarySource() boundary.Source {
	b := e.Cfg.Boundary
	return boundary.Source{Client: e.HTTP, URL: b.URL, UserAgent: b.UserAgent, CachePath: b.CachePath}
}

func (e *Env) areaSource() boundary.Source {
	a := e.Cfg.Areas
	return boundary.Source{Client: e.HTTP, URL: a.URL, UserAgent: e.Cfg.Boundary.UserAgent, CachePath: e.Cfg.AreasCachePath(), Force: a.Force}
}

func (e *Env) loadAreas(ctx context.Context) (*geo.Classifier, error) {
	return boundary.LoadAreas(ctx, e.areaSource(), e.Cfg.Areas.CodeProp, e.Cfg.Areas.NameProp)
}

func downloadArchive(ctx context.Context, e *Env) error {
	a := e.Cfg.Archive
	d := &archive.Downloader{Client: logger.NewClient(0), BaseURL: a.BaseURL, Dir: e.Cfg.ArchiveDir(), Verify: a.Verify, Force: a.Force}
	month, err := d.Latest(ctx)
	if err != nil {
		return err
	}
	zipPath, err := d.Download(ctx, month)
	if err != nil {
		return err
	}
	n, err := archive.Extract(zipPath, e.Cfg.ArchiveDir(), ingest.ArchiveForce, a.Force)
	if err != nil {
		return err
	}
	logger.L().Info("archive_ready", "month", month, "extracted", n)
	return nil
}

func generateArchive(_ context.Context, e *Env) error {
	months, err := ingest.Months(e.Cfg.Archive.From, e.Cfg.Archive.To)
	if err != nil {
		return err
	}
	res, err := ingest.CombineArchive(e.Cfg.ArchiveDir(), e.Cfg.ProcessedDir(), months, e.grid())
	if err != nil {
		return err
	}
	if res.Street == 0 {
		logger.L().Warn("archive_street_empty", "months", res.Months, "missing_months", res.MissingMonths)
	}
	return nil
}

func fetchAPI(ctx context.Context, e *Env) error {
	p := e.Cfg.Police
	months, err := ingest.Months(p.From, p.To)
	if err != nil {
		return err
	}
	f := &ingest.Fetcher{
		Client:  logger.NewClient(p.Timeout),
		BaseURL: p.BaseURL,
		Grid:    e.grid(),
		Limiter: rate.NewLimiter(rate.Every(p.Interval), 1),
		Backoff: p.Backoff,
		OutDir:  e.Cfg.RawDir(),
	}
	res, err := f.FetchMonths(ctx, months)
	if err != nil {
		return err
	}
	fetched, skipped := 0, 0
	for _, r := range res {
		if r.Skipped {
			skipped++
			continue
		}
		fetched += r.Unique
	}
	logger.L().Info("police_fetch_done", "months", len(res), "skipped_months", skipped, "crimes", fetched)
	return nil
}

// processAPI：规范化 → 行政边界筛选 → 子区域归属；两类边界并行加载
func processAPI(ctx context.Context, e *Env) error {
	rs, err := ingest.LoadRawDir(e.Cfg.RawDir())
	if err != nil {
		return err
	}
	if len(rs) == 0 {
		logger.L().Warn("api_raw_empty", "dir", e.Cfg.RawDir())
		return nil
	}
	var city, areas *geo.Classifier
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := boundary.LoadBoundary(gctx, e.boundarySource())
		city = c
		return err
	})
	g.Go(func() error {
		c, err := e.loadAreas(gctx)
		areas = c
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	kept := boundary.Filter(rs, city, boundary.FilterOptions{}).Kept
	boundary.Assign(kept, areas, nil)
	return record.WriteFile(e.Cfg.APICleanPath(), kept)
}

func readOptional(path string) ([]record.Record, bool, error) {
	rs, err := record.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		logger.L().Warn("dataset_missing", "path", path)
		return nil, false, nil
	}
	return rs, err == nil, err
}

func mergeDatasets(_ context.Context, e *Env) error {
	arch, okA, err := readOptional(e.Cfg.ArchiveStreetPath())
	if err != nil {
		return err
	}
	api, okB, err := readOptional(e.Cfg.APICleanPath())
	if err != nil {
		return err
	}
	if !okA && !okB {
		return fmt.Errorf("no datasets to merge in %s", e.Cfg.ProcessedDir())
	}
	rs, st := merge.Merge(arch, api)
	merge.SortByMonth(rs)
	logger.L().Info("merge_done", "archive", len(arch), "api", len(api), "output", len(rs), "duplicates", st.Duplicates, "without_id", st.WithoutID)
	return record.WriteFile(e.Cfg.CombinedPath(), rs)
}

func (e *Env) enrichCombined(ctx context.Context, passes []enrich.Pass) error {
	path := e.Cfg.CombinedPath()
	rs, err := record.ReadFile(path)
	if err != nil {
		return err
	}
	if _, err := e.engine().Run(ctx, rs, passes); err != nil {
		return err
	}
	return record.WriteFile(path, rs)
}

func enrichData(ctx context.Context, e *Env) error {
	first, _ := e.passes()
	return e.enrichCombined(ctx, []enrich.Pass{first})
}

func patchEnrichment(ctx context.Context, e *Env) error {
	_, rest := e.passes()
	if len(rest) == 0 {
		logger.L().Info("enrich_patch_skipped", "reason", "no_extra_passes")
		return nil
	}
	return e.enrichCombined(ctx, rest)
}

func verifyLocations(ctx context.Context, e *Env) error {
	path := e.Cfg.CombinedPath()
	rs, err := record.ReadFile(path)
	if err != nil {
		return err
	}
	city, err := boundary.LoadBoundary(ctx, e.boundarySource())
	if err != nil {
		return err
	}
	res := boundary.Filter(rs, city, boundary.FilterOptions{
		Select:  func(r record.Record) bool { return r.Area.PendingVerification() },
		Relabel: true,
	})
	return record.WriteFile(path, res.Kept)
}

func assignLSOA(ctx context.Context, e *Env) error {
	path := e.Cfg.CombinedPath()
	rs, err := record.ReadFile(path)
	if err != nil {
		return err
	}
	areas, err := e.loadAreas(ctx)
	if err != nil {
		return err
	}
	res := boundary.Assign(rs, areas, func(r record.Record) bool { return r.Area.Status == record.AreaVerified })
	if res.Assigned == 0 {
		logger.L().Info("lsoa_assign_noop")
		return nil
	}
	return record.WriteFile(path, rs)
}

func prepareDashboard(_ context.Context, e *Env) error {
	rs, err := record.ReadFile(e.Cfg.CombinedPath())
	if err != nil {
		return err
	}
	return dashboard.Write(e.Cfg.DashboardPath(), dashboard.Build(rs, e.Cfg.DashboardGrid))
}

func exportPostgres(ctx context.Context, e *Env) error {
	if !e.Cfg.ExportPostgres {
		logger.L().Info("export_skipped", "reason", "disabled")
		return nil
	}
	rs, err := record.ReadFile(e.Cfg.CombinedPath())
	if err != nil {
		return err
	}
	db, err := utils.OpenPostgresFromEnv()
	if err != nil {
		return err
	}
	st := store.AttachDB(db)
	defer st.Close()
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if err := migrate.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	_, err = st.ReplaceAll(ctx, rs, e.RunID)
	return err
}
