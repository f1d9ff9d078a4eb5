// 包 config：流水线配置（内置默认值 < YAML 文件 < 环境变量）
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// DefaultFile：未设置 PIPELINE_CONFIG 时读取的配置文件（可不存在）
const DefaultFile = "pipeline.yaml"

type Pass struct {
	Name   string `yaml:"name"`
	Radius int    `yaml:"radius"`
}

type Grid struct {
	MinLat float64 `yaml:"min_lat"`
	MaxLat float64 `yaml:"max_lat"`
	MinLon float64 `yaml:"min_lon"`
	MaxLon float64 `yaml:"max_lon"`
	Step   float64 `yaml:"step"`
}

type Boundary struct {
	URL       string `yaml:"url"`
	UserAgent string `yaml:"user_agent"`
	CachePath string `yaml:"cache_path"`
}

type Areas struct {
	URL       string `yaml:"url"`
	CodeProp  string `yaml:"code_prop"`
	NameProp  string `yaml:"name_prop"`
	CachePath string `yaml:"cache_path"`
	Force     bool   `yaml:"force"`
}

type Geocode struct {
	Endpoint     string        `yaml:"endpoint"`
	BatchSize    int           `yaml:"batch_size"`
	Workers      int           `yaml:"workers"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
	Passes       []Pass        `yaml:"passes"`
	Cache        string        `yaml:"cache"`
	CacheSize    int           `yaml:"cache_size"`
	CacheTTL     time.Duration `yaml:"cache_ttl"`
}

type Police struct {
	BaseURL  string        `yaml:"base_url"`
	Interval time.Duration `yaml:"interval"`
	Backoff  time.Duration `yaml:"backoff"`
	Timeout  time.Duration `yaml:"timeout"`
	From     string        `yaml:"from"`
	To       string        `yaml:"to"`
	Grid     Grid          `yaml:"grid"`
}

type Archive struct {
	BaseURL string `yaml:"base_url"`
	From    string `yaml:"from"`
	To      string `yaml:"to"`
	Verify  bool   `yaml:"verify"`
	Force   bool   `yaml:"force"`
}

type Quality struct {
	MaxUnknownRate float64 `yaml:"max_unknown_rate"`
	MinInsideRate  float64 `yaml:"min_inside_rate"`
}

// 文档注释：流水线配置
// 约束：目录字段为相对或绝对路径；文件名由 *Path 方法统一派生，各步骤不自行拼接。
type Config struct {
	DataDir         string        `yaml:"data_dir"`
	FetchTimeout    time.Duration `yaml:"fetch_timeout"`
	Boundary        Boundary      `yaml:"boundary"`
	Areas           Areas         `yaml:"areas"`
	Geocode         Geocode       `yaml:"geocode"`
	Police          Police        `yaml:"police"`
	Archive         Archive       `yaml:"archive"`
	Quality         Quality       `yaml:"quality"`
	DashboardGrid   int           `yaml:"dashboard_grid"`
	DashboardOutput string        `yaml:"dashboard_output"`
	ExportPostgres  bool          `yaml:"export_postgres"`
	MetricsTextfile string        `yaml:"metrics_textfile"`
}

// Default 内置默认值
func Default() Config {
	return Config{
		DataDir:      "data",
		FetchTimeout: 30 * time.Second,
		Boundary: Boundary{
			URL:       "https://nominatim.openstreetmap.org/search?q=Leeds,+West+Yorkshire,+United+Kingdom&polygon_geojson=1&format=json",
			UserAgent: "LeedsCrimeAnalysis/1.0 (internal research tool)",
		},
		Areas: Areas{
			URL:      "https://services1.arcgis.com/ESMARspQHYMw9BZ9/arcgis/rest/services/LSOA_Dec_2011_Boundaries_Generalised_Clipped_BGC_EW_V3/FeatureServer/0/query?where=LSOA11NM%20like%20%27Leeds%25%27&outFields=*&f=geojson",
			CodeProp: "LSOA11CD",
			NameProp: "LSOA11NM",
		},
		Geocode: Geocode{
			Endpoint:     "https://api.postcodes.io/postcodes",
			BatchSize:    100,
			Workers:      10,
			BatchTimeout: 20 * time.Second,
			Passes:       []Pass{{Name: "initial", Radius: 200}, {Name: "patch", Radius: 2000}},
			Cache:        "memory",
			CacheSize:    200000,
		},
		Police: Police{
			BaseURL:  "https://data.police.uk/api",
			Interval: 100 * time.Millisecond,
			Backoff:  5 * time.Second,
			Timeout:  10 * time.Second,
			From:     "2022-11",
			To:       "2025-12",
			Grid:     Grid{MinLat: 53.69, MaxLat: 53.96, MinLon: -1.80, MaxLon: -1.29, Step: 0.02},
		},
		Archive: Archive{
			BaseURL: "https://data.police.uk/data/archive",
			From:    "2018-01",
			To:      "2022-10",
			Verify:  true,
		},
		Quality:         Quality{MaxUnknownRate: 0.05, MinInsideRate: 0.95},
		DashboardGrid:   80,
		DashboardOutput: filepath.Join("dashboard", "data", "crime_data.json"),
	}
}

// 文档注释：加载配置
// 背景：文件可选；文件中缺省的字段保留默认值；随后应用环境变量覆盖并校验。
// 约束：path 为空时取 PIPELINE_CONFIG，再为空取 DefaultFile；显式指定但不存在的文件返回错误。
func Load(path string) (Config, error) {
	cfg := Default()
	explicit := path != ""
	if path == "" {
		path = os.Getenv("PIPELINE_CONFIG")
		explicit = path != ""
	}
	if path == "" {
		path = DefaultFile
	}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read %s: %w", path, err)
	}
	applyEnv(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(c *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flag := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			*dst = strings.EqualFold(v, "true") || v == "1"
		}
	}
	str("DATA_DIR", &c.DataDir)
	str("BOUNDARY_URL", &c.Boundary.URL)
	str("BOUNDARY_USER_AGENT", &c.Boundary.UserAgent)
	str("LSOA_URL", &c.Areas.URL)
	str("POSTCODES_URL", &c.Geocode.Endpoint)
	num("GEOCODE_BATCH_SIZE", &c.Geocode.BatchSize)
	num("GEOCODE_WORKERS", &c.Geocode.Workers)
	str("GEOCODE_CACHE", &c.Geocode.Cache)
	str("POLICE_API_BASE", &c.Police.BaseURL)
	str("API_FROM", &c.Police.From)
	str("API_TO", &c.Police.To)
	str("ARCHIVE_BASE_URL", &c.Archive.BaseURL)
	str("ARCHIVE_FROM", &c.Archive.From)
	str("ARCHIVE_TO", &c.Archive.To)
	flag("EXPORT_POSTGRES", &c.ExportPostgres)
	str("METRICS_TEXTFILE", &c.MetricsTextfile)
	str("DASHBOARD_OUTPUT", &c.DashboardOutput)
}

// Validate 拒绝无法执行的配置
func (c Config) Validate() error {
	var errs []error
	if c.Geocode.BatchSize <= 0 || c.Geocode.BatchSize > 100 {
		errs = append(errs, fmt.Errorf("geocode.batch_size must be in 1..100, got %d", c.Geocode.BatchSize))
	}
	if c.Geocode.Workers <= 0 {
		errs = append(errs, fmt.Errorf("geocode.workers must be positive, got %d", c.Geocode.Workers))
	}
	if len(c.Geocode.Passes) == 0 {
		errs = append(errs, errors.New("geocode.passes must not be empty"))
	}
	for i, p := range c.Geocode.Passes {
		if p.Name == "" || p.Radius <= 0 {
			errs = append(errs, fmt.Errorf("geocode.passes[%d] needs a name and a positive radius", i))
		}
		if i > 0 && p.Radius <= c.Geocode.Passes[i-1].Radius {
			errs = append(errs, fmt.Errorf("geocode.passes[%d] radius %d must exceed previous %d", i, p.Radius, c.Geocode.Passes[i-1].Radius))
		}
	}
	switch c.Geocode.Cache {
	case "", "none", "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("geocode.cache must be none|memory|redis, got %q", c.Geocode.Cache))
	}
	for name, m := range map[string]string{
		"police.from": c.Police.From, "police.to": c.Police.To,
		"archive.from": c.Archive.From, "archive.to": c.Archive.To,
	} {
		if _, err := time.Parse("2006-01", m); err != nil {
			errs = append(errs, fmt.Errorf("%s: malformed month %q", name, m))
		}
	}
	g := c.Police.Grid
	if g.Step <= 0 || g.MaxLat <= g.MinLat || g.MaxLon <= g.MinLon {
		errs = append(errs, errors.New("police.grid must have positive step and non-empty extent"))
	}
	if c.DashboardGrid <= 0 {
		errs = append(errs, fmt.Errorf("dashboard_grid must be positive, got %d", c.DashboardGrid))
	}
	return errors.Join(errs...)
}

// PassByName 查找富化轮次
func (c Config) PassByName(name string) (Pass, bool) {
	for _, p := range c.Geocode.Passes {
		if p.Name == name {
			return p, true
		}
	}
	return Pass{}, false
}

func (c Config) RawDir() string       { return filepath.Join(c.DataDir, "raw") }
func (c Config) ArchiveDir() string   { return filepath.Join(c.DataDir, "archive") }
func (c Config) ProcessedDir() string { return filepath.Join(c.DataDir, "processed") }

func (c Config) APICleanPath() string {
	return filepath.Join(c.ProcessedDir(), "leeds_street_api_clean.csv")
}

func (c Config) CombinedPath() string {
	return filepath.Join(c.ProcessedDir(), "leeds_street_combined.csv")
}

func (c Config) ArchiveStreetPath() string {
	return filepath.Join(c.ProcessedDir(), "leeds_street_archive.csv")
}

func (c Config) DashboardPath() string { return c.DashboardOutput }

// AreasCachePath：子区域边界缓存文件
func (c Config) AreasCachePath() string {
	if c.Areas.CachePath != "" {
		return c.Areas.CachePath
	}
	return filepath.Join(c.RawDir(), "leeds_lsoa_2011.geojson")
}
