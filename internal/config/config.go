package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/viper"
)

type CacheType string

const (
	CacheTypeMemory CacheType = "memory"
	CacheTypeRedis  CacheType = "redis"
)

// FileManagement selects how collected files are laid out for the media server.
type FileManagement string

const (
	FileManagementSymlink FileManagement = "symlink"
	FileManagementPlex    FileManagement = "plex"
)

// UncachedHandling controls whether torrents that are not cached on the debrid side may be used.
type UncachedHandling string

const (
	UncachedHandlingNone   UncachedHandling = "none"
	UncachedHandlingHybrid UncachedHandling = "hybrid"
	UncachedHandlingFull   UncachedHandling = "full"
)

// SortOrder is the final size tie-break for equally scored results.
type SortOrder string

const (
	SortOrderLargeToSmall SortOrder = "large_to_small"
	SortOrderSmallToLarge SortOrder = "small_to_large"
)

// FolderComponent is one entry of the ordered symlink path prefix.
type FolderComponent string

const (
	FolderComponentType       FolderComponent = "type"
	FolderComponentVersion    FolderComponent = "version"
	FolderComponentResolution FolderComponent = "resolution"
)

// ResolutionComparison describes how a result resolution is compared against a profile's max resolution.
type ResolutionComparison string

const (
	ResolutionAtMost  ResolutionComparison = "<="
	ResolutionExactly ResolutionComparison = "=="
	ResolutionAtLeast ResolutionComparison = ">="
)

// Environment variables that override well known directories.
const (
	EnvUserConfig    = "USER_CONFIG"
	EnvUserLogs      = "USER_LOGS"
	EnvUserDBContent = "USER_DB_CONTENT"
)

// Config holds the configuration for the jellyfetch service and its collaborators.
type Config struct {
	// Listen is the address the status API listens on.
	Listen string `yaml:"listen" mapstructure:"listen"`
	// APIKey protects the status API. An empty key leaves the API open.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
	// Timezone is the IANA zone used to evaluate release dates.
	Timezone string `yaml:"timezone" mapstructure:"timezone"`
	// Database holds the database configuration.
	Database *DatabaseConfig `yaml:"database" mapstructure:"database"`
	// Paths holds the mount and library roots.
	Paths *PathsConfig `yaml:"paths" mapstructure:"paths"`
	// FileManagement selects symlink or plex style layouts.
	FileManagement FileManagement `yaml:"file_management" mapstructure:"file_management"`
	// SeparateAnimeFolders puts anime into "Anime Movies" and "Anime TV Shows".
	SeparateAnimeFolders bool `yaml:"separate_anime_folders" mapstructure:"separate_anime_folders"`
	// FolderOrder is the ordered prefix of every destination path.
	FolderOrder []FolderComponent `yaml:"folder_order" mapstructure:"folder_order"`
	// Templates are the per type path templates.
	Templates *TemplatesConfig `yaml:"templates" mapstructure:"templates"`
	// AnimeRenaming overrides episode numbering with data from the anime resolver.
	AnimeRenaming bool `yaml:"anime_renaming" mapstructure:"anime_renaming"`
	// Pipeline holds the state machine tunables.
	Pipeline *PipelineConfig `yaml:"pipeline" mapstructure:"pipeline"`
	// Schedule holds the tick periods of every queue and housekeeping job.
	Schedule *ScheduleConfig `yaml:"schedule" mapstructure:"schedule"`
	// Verification holds the verification worker settings.
	Verification *VerificationConfig `yaml:"verification" mapstructure:"verification"`
	// Versions maps a version name to its quality profile.
	Versions map[string]*VersionProfile `yaml:"versions" mapstructure:"versions"`
	// Scrapers holds the scraper adapter configuration.
	Scrapers *ScrapersConfig `yaml:"scrapers" mapstructure:"scrapers"`
	// Debrid holds the debrid provider configuration.
	Debrid *DebridConfig `yaml:"debrid" mapstructure:"debrid"`
	// Jellyfin holds the configuration for the Jellyfin server.
	Jellyfin *JellyfinConfig `yaml:"jellyfin" mapstructure:"jellyfin"`
	// TMDB holds the metadata resolver configuration.
	TMDB *TMDBConfig `yaml:"tmdb" mapstructure:"tmdb"`
	// Jellyseerr holds the configuration for the Jellyseerr content source.
	Jellyseerr *JellyseerrConfig `yaml:"jellyseerr" mapstructure:"jellyseerr"`
	// Cache holds the cache engine configuration.
	Cache *CacheConfig `yaml:"cache" mapstructure:"cache"`
	// Ntfy holds the ntfy notification configuration.
	Ntfy *NtfyConfig `yaml:"ntfy" mapstructure:"ntfy"`
	// Email holds the email notification configuration.
	Email *EmailConfig `yaml:"email" mapstructure:"email"`
}

// DatabaseConfig holds the database configuration.
type DatabaseConfig struct {
	// Path is the path to the database file.
	Path string `yaml:"path" mapstructure:"path"`
}

// PathsConfig holds the filesystem roots.
type PathsConfig struct {
	// OriginalFilesPath is the debrid mount root. Never written to.
	OriginalFilesPath string `yaml:"original_files_path" mapstructure:"original_files_path"`
	// SymlinkedFilesPath is the root of the library tree made of symlinks.
	SymlinkedFilesPath string `yaml:"symlinked_files_path" mapstructure:"symlinked_files_path"`
}

// TemplatesConfig holds the destination templates.
type TemplatesConfig struct {
	Movie   string `yaml:"movie" mapstructure:"movie"`
	Episode string `yaml:"episode" mapstructure:"episode"`
}

// PipelineConfig holds the state machine settings.
type PipelineConfig struct {
	// WakeLimit is the number of empty scrapes before an item is blacklisted.
	WakeLimit int `yaml:"wake_limit" mapstructure:"wake_limit"`
	// SleepBase is the base of the exponential sleeping backoff.
	SleepBase time.Duration `yaml:"sleep_base" mapstructure:"sleep_base"`
	// SleepCap caps the sleeping backoff.
	SleepCap time.Duration `yaml:"sleep_cap" mapstructure:"sleep_cap"`
	// CheckingQueuePeriod is how long an item may stay in Checking.
	CheckingQueuePeriod time.Duration `yaml:"checking_queue_period" mapstructure:"checking_queue_period"`
	// PendingUncachedPeriod is how long an item may stay in Pending Uncached.
	PendingUncachedPeriod time.Duration `yaml:"pending_uncached_period" mapstructure:"pending_uncached_period"`
	// UpgradeWindow is how long after release a collected item is still eligible for upgrades.
	UpgradeWindow time.Duration `yaml:"upgrade_window" mapstructure:"upgrade_window"`
	// MovieAirtimeOffsetHours shifts the movie release gate.
	MovieAirtimeOffsetHours float64 `yaml:"movie_airtime_offset_hours" mapstructure:"movie_airtime_offset_hours"`
	// EpisodeAirtimeOffsetHours shifts the episode release gate.
	EpisodeAirtimeOffsetHours float64 `yaml:"episode_airtime_offset_hours" mapstructure:"episode_airtime_offset_hours"`
	// DefaultShowAirtime is used when a show has no known airtime (HH:MM).
	DefaultShowAirtime string `yaml:"default_show_airtime" mapstructure:"default_show_airtime"`
	// UnresolvedIDLimit is the number of Wanted ticks an item may spend without an external id.
	UnresolvedIDLimit int `yaml:"unresolved_id_limit" mapstructure:"unresolved_id_limit"`
	// BatchSize is the number of items each queue processes per tick.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
	// UncachedContentHandling is one of none, hybrid or full.
	UncachedContentHandling UncachedHandling `yaml:"uncached_content_handling" mapstructure:"uncached_content_handling"`
	// UltimateSortOrder is the size tie-break.
	UltimateSortOrder SortOrder `yaml:"ultimate_sort_order" mapstructure:"ultimate_sort_order"`
}

// ScheduleConfig holds the tick period of every job.
type ScheduleConfig struct {
	Wanted              time.Duration `yaml:"wanted" mapstructure:"wanted"`
	Scraping            time.Duration `yaml:"scraping" mapstructure:"scraping"`
	Adding              time.Duration `yaml:"adding" mapstructure:"adding"`
	Checking            time.Duration `yaml:"checking" mapstructure:"checking"`
	Sleeping            time.Duration `yaml:"sleeping" mapstructure:"sleeping"`
	SymlinkVerification time.Duration `yaml:"symlink_verification" mapstructure:"symlink_verification"`
	RemovalVerification time.Duration `yaml:"removal_verification" mapstructure:"removal_verification"`
	ContentSources      time.Duration `yaml:"content_sources" mapstructure:"content_sources"`
	CacheCleanup        time.Duration `yaml:"cache_cleanup" mapstructure:"cache_cleanup"`
	Upgrades            time.Duration `yaml:"upgrades" mapstructure:"upgrades"`
	// TaskTimeout bounds a single tick.
	TaskTimeout time.Duration `yaml:"task_timeout" mapstructure:"task_timeout"`
}

// VerificationConfig holds the verification worker settings.
type VerificationConfig struct {
	// MaxAttempts is the number of media server lookups before a symlink verification fails permanently.
	MaxAttempts int `yaml:"max_attempts" mapstructure:"max_attempts"`
	// BatchSize is the number of rows processed per tick.
	BatchSize int `yaml:"batch_size" mapstructure:"batch_size"`
	// RemovalMaxAttempts is the retry cap of removal verifications.
	RemovalMaxAttempts int `yaml:"removal_max_attempts" mapstructure:"removal_max_attempts"`
	// GCDays is the age after which finished verification rows are deleted.
	GCDays int `yaml:"gc_days" mapstructure:"gc_days"`
	// RecentOnly restricts symlink verification to the media server's recent items.
	RecentOnly bool `yaml:"recent_only" mapstructure:"recent_only"`
}

// Weights are the scoring weights of a version profile.
type Weights struct {
	Resolution float64 `yaml:"resolution" mapstructure:"resolution"`
	HDR        float64 `yaml:"hdr" mapstructure:"hdr"`
	Similarity float64 `yaml:"similarity" mapstructure:"similarity"`
	Size       float64 `yaml:"size" mapstructure:"size"`
	Bitrate    float64 `yaml:"bitrate" mapstructure:"bitrate"`
}

// IsZero reports whether no weight was configured.
func (w Weights) IsZero() bool {
	return w == Weights{}
}

// VersionProfile is a named bundle of filter and scoring parameters.
type VersionProfile struct {
	MaxResolution    string               `yaml:"max_resolution" mapstructure:"max_resolution"`
	ResolutionWanted ResolutionComparison `yaml:"resolution_wanted" mapstructure:"resolution_wanted"`
	EnableHDR        bool                 `yaml:"enable_hdr" mapstructure:"enable_hdr"`
	FilterIn         []string             `yaml:"filter_in" mapstructure:"filter_in"`
	FilterOut        []string             `yaml:"filter_out" mapstructure:"filter_out"`
	PreferredIn      []string             `yaml:"preferred_in" mapstructure:"preferred_in"`
	PreferredOut     []string             `yaml:"preferred_out" mapstructure:"preferred_out"`
	MinSizeGB        float64              `yaml:"min_size_gb" mapstructure:"min_size_gb"`
	MaxSizeGB        float64              `yaml:"max_size_gb" mapstructure:"max_size_gb"`
	// SoftMaxSizeGB admits the smallest result when nothing passes the size filter.
	SoftMaxSizeGB float64 `yaml:"soft_max_size_gb" mapstructure:"soft_max_size_gb"`
	// AllowUpgrades lets collected items be re-scraped inside the upgrade window.
	AllowUpgrades bool    `yaml:"allow_upgrades" mapstructure:"allow_upgrades"`
	Weights       Weights `yaml:"weights" mapstructure:"weights"`
}

// DefaultWeights are used when a profile does not configure any weight.
var DefaultWeights = Weights{
	Resolution: 3,
	HDR:        1,
	Similarity: 2,
	Size:       1,
	Bitrate:    1,
}

// EffectiveWeights returns the configured weights or the defaults.
func (p *VersionProfile) EffectiveWeights() Weights {
	if p == nil || p.Weights.IsZero() {
		return DefaultWeights
	}
	return p.Weights
}

// ScrapersConfig holds the scraper adapters.
type ScrapersConfig struct {
	// Timeout bounds each adapter call.
	Timeout   time.Duration    `yaml:"timeout" mapstructure:"timeout"`
	Torznab   []*TorznabConfig `yaml:"torznab" mapstructure:"torznab"`
	Torrentio *TorrentioConfig `yaml:"torrentio" mapstructure:"torrentio"`
}

// TorznabConfig configures one Jackett/Prowlarr style torznab endpoint.
type TorznabConfig struct {
	Name    string `yaml:"name" mapstructure:"name"`
	URL     string `yaml:"url" mapstructure:"url"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
}

// TorrentioConfig configures the torrentio addon.
type TorrentioConfig struct {
	URL     string `yaml:"url" mapstructure:"url"`
	Options string `yaml:"options" mapstructure:"options"`
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
}

// DebridConfig holds the debrid provider settings.
type DebridConfig struct {
	TorBox *TorBoxConfig `yaml:"torbox" mapstructure:"torbox"`
	// PollInterval is the sleep between status polls.
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval"`
	// PollTimeout bounds the commit protocol polling.
	PollTimeout time.Duration `yaml:"poll_timeout" mapstructure:"poll_timeout"`
	// InteractiveCacheChecks is the number of results checked in interactive flows.
	InteractiveCacheChecks int `yaml:"interactive_cache_checks" mapstructure:"interactive_cache_checks"`
}

// TorBoxConfig holds the TorBox credentials.
type TorBoxConfig struct {
	URL    string `yaml:"url" mapstructure:"url"`
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
}

// JellyfinConfig holds the configuration for the Jellyfin server.
type JellyfinConfig struct {
	// URL is the base URL of the Jellyfin server.
	URL string `yaml:"url" mapstructure:"url"`
	// APIKey is the API key for the Jellyfin server.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
}

// TMDBConfig holds the TMDB credentials.
type TMDBConfig struct {
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
	// RequestsPerSecond throttles outgoing requests.
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// JellyseerrConfig holds the configuration for the Jellyseerr server.
type JellyseerrConfig struct {
	// URL is the base URL of the Jellyseerr server.
	URL string `yaml:"url" mapstructure:"url"`
	// APIKey is the API key for the Jellyseerr server.
	APIKey string `yaml:"api_key" mapstructure:"api_key"`
	// Version is the version profile assigned to items from Jellyseerr.
	Version string `yaml:"version" mapstructure:"version"`
}

// CacheConfig holds the configuration for the cache engine.
type CacheConfig struct {
	// Type is the type of cache engine to use (e.g., "memory", "redis").
	Type CacheType `yaml:"type" mapstructure:"type"`
	// RedisURL is the URL for the Redis cache if using Redis.
	RedisURL string `yaml:"redis_url" mapstructure:"redis_url"`
	// MetadataTTL is the TTL of cached movie metadata.
	MetadataTTL time.Duration `yaml:"metadata_ttl" mapstructure:"metadata_ttl"`
}

// NtfyConfig holds the ntfy notification configuration.
type NtfyConfig struct {
	// Enabled indicates whether ntfy notifications are enabled.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// ServerURL is the URL of the ntfy server.
	ServerURL string `yaml:"server_url" mapstructure:"server_url"`
	// Topic is the ntfy topic to publish notifications to.
	Topic string `yaml:"topic" mapstructure:"topic"`
	// Username is the ntfy username for authentication.
	Username string `yaml:"username" mapstructure:"username"`
	// Password is the ntfy password for authentication.
	Password string `yaml:"password" mapstructure:"password"`
	// Token is the ntfy token for authentication.
	Token string `yaml:"token" mapstructure:"token"`
}

// EmailConfig holds the email notification configuration.
type EmailConfig struct {
	// Enabled indicates whether email notifications are enabled.
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// SMTPHost is the SMTP server host.
	SMTPHost string `yaml:"smtp_host" mapstructure:"smtp_host"`
	// SMTPPort is the SMTP server port.
	SMTPPort int `yaml:"smtp_port" mapstructure:"smtp_port"`
	// Username is the SMTP username.
	Username string `yaml:"username" mapstructure:"username"`
	// Password is the SMTP password.
	Password string `yaml:"password" mapstructure:"password"`
	// FromEmail is the email address from which notifications are sent.
	FromEmail string `yaml:"from_email" mapstructure:"from_email"`
	// FromName is the name from which notifications are sent.
	FromName string `yaml:"from_name" mapstructure:"from_name"`
	// To is the recipient of failure digests.
	To string `yaml:"to" mapstructure:"to"`
	// UseTLS indicates whether to use TLS for the SMTP connection.
	UseTLS bool `yaml:"use_tls" mapstructure:"use_tls"`
	// UseSSL indicates whether to use SSL for the SMTP connection.
	UseSSL bool `yaml:"use_ssl" mapstructure:"use_ssl"`
	// InsecureSkipVerify indicates whether to skip TLS certificate verification.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify" mapstructure:"insecure_skip_verify"`
}

// Load reads the configuration from the specified path and returns a Config struct.
// If path is empty, it will use default search paths for config files.
func Load(path string) (*Config, error) {
	v := viper.New()

	// bind some weirdly unsupported nested env vars
	bindNestedEnv(v)

	// Set default values
	setDefaults(v)

	// Configure Viper
	v.SetConfigType("yaml")
	v.SetEnvPrefix("JELLYFETCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var configFileFound bool
	if path != "" {
		// Use specific config file
		v.SetConfigFile(path)
	} else {
		// Search for config in common locations
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if dir := os.Getenv(EnvUserConfig); dir != "" {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath("$HOME/.jellyfetch")
		v.AddConfigPath("/etc/jellyfetch")
	}

	// Read the config file
	if err := v.ReadInConfig(); err != nil {
		// If no config file is found, use defaults
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		configFileFound = true
	}

	if configFileFound {
		log.Debug("Using config file", "file", v.ConfigFileUsed())
		log.Debug("Some environment variables can be set with the JELLYFETCH_ prefix to override config file values")
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Sanitize config values
	sanitizeConfig(&c)

	// Validate required configs
	if err := validateConfig(&c); err != nil {
		return nil, err
	}

	return &c, nil
}

// setDefaults sets default values for the configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", "0.0.0.0:3003")
	v.SetDefault("api_key", "")
	v.SetDefault("timezone", "Local")
	v.SetDefault("file_management", FileManagementSymlink)
	v.SetDefault("separate_anime_folders", false)
	v.SetDefault("folder_order", []string{string(FolderComponentType)})
	v.SetDefault("anime_renaming", false)

	// Database defaults
	dbDir := "./data"
	if dir := os.Getenv(EnvUserDBContent); dir != "" {
		dbDir = dir
	}
	v.SetDefault("database.path", filepath.Join(dbDir, "jellyfetch.db"))

	// Path defaults
	v.SetDefault("paths.original_files_path", "")
	v.SetDefault("paths.symlinked_files_path", "")

	// Template defaults
	v.SetDefault("templates.movie", "{title} ({year})/{title} ({year}) - {imdb_id} - {version} - ({original_filename})")
	v.SetDefault("templates.episode", "{title} ({year})/Season {season_number:02d}/{title} ({year}) - S{season_number:02d}E{episode_number:02d} - {episode_title} - {imdb_id} - {version} - ({original_filename})")

	// Pipeline defaults
	v.SetDefault("pipeline.wake_limit", 24)
	v.SetDefault("pipeline.sleep_base", 30*time.Minute)
	v.SetDefault("pipeline.sleep_cap", 24*time.Hour)
	v.SetDefault("pipeline.checking_queue_period", 60*time.Minute)
	v.SetDefault("pipeline.pending_uncached_period", 24*time.Hour)
	v.SetDefault("pipeline.upgrade_window", 7*24*time.Hour)
	v.SetDefault("pipeline.movie_airtime_offset_hours", 0)
	v.SetDefault("pipeline.episode_airtime_offset_hours", 0)
	v.SetDefault("pipeline.default_show_airtime", "19:00")
	v.SetDefault("pipeline.unresolved_id_limit", 10)
	v.SetDefault("pipeline.batch_size", 25)
	v.SetDefault("pipeline.uncached_content_handling", UncachedHandlingNone)
	v.SetDefault("pipeline.ultimate_sort_order", SortOrderLargeToSmall)

	// Schedule defaults
	v.SetDefault("schedule.wanted", 60*time.Second)
	v.SetDefault("schedule.scraping", 30*time.Second)
	v.SetDefault("schedule.adding", 10*time.Second)
	v.SetDefault("schedule.checking", 120*time.Second)
	v.SetDefault("schedule.sleeping", 60*time.Second)
	v.SetDefault("schedule.symlink_verification", 300*time.Second)
	v.SetDefault("schedule.removal_verification", 300*time.Second)
	v.SetDefault("schedule.content_sources", 15*time.Minute)
	v.SetDefault("schedule.cache_cleanup", 24*time.Hour)
	v.SetDefault("schedule.upgrades", 6*time.Hour)
	v.SetDefault("schedule.task_timeout", 10*time.Minute)

	// Verification defaults
	v.SetDefault("verification.max_attempts", 10)
	v.SetDefault("verification.batch_size", 50)
	v.SetDefault("verification.removal_max_attempts", 5)
	v.SetDefault("verification.gc_days", 7)
	v.SetDefault("verification.recent_only", true)

	// Scraper defaults
	v.SetDefault("scrapers.timeout", 30*time.Second)

	// Debrid defaults
	v.SetDefault("debrid.poll_interval", 2*time.Second)
	v.SetDefault("debrid.poll_timeout", 30*time.Second)
	v.SetDefault("debrid.interactive_cache_checks", 5)

	// TMDB defaults
	v.SetDefault("tmdb.requests_per_second", 20)

	// Cache defaults
	v.SetDefault("cache.type", CacheTypeMemory) // Default to in-memory
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.metadata_ttl", 7*24*time.Hour)

	// Ntfy defaults
	v.SetDefault("ntfy.enabled", false)
	v.SetDefault("ntfy.server_url", "https://ntfy.sh")
	v.SetDefault("ntfy.topic", "jellyfetch")
	v.SetDefault("ntfy.username", "")
	v.SetDefault("ntfy.password", "")
	v.SetDefault("ntfy.token", "")

	// Email defaults
	v.SetDefault("email.enabled", false)
	v.SetDefault("email.smtp_host", "")
	v.SetDefault("email.smtp_port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from_name", "Jellyfetch")
	v.SetDefault("email.use_tls", true)
	v.SetDefault("email.use_ssl", false)
	v.SetDefault("email.insecure_skip_verify", false)
}

// the auto env function from viper only works for nested structs, if the struct to which a value binds isn't nil.
// If we explicitly don't want a default value (e.g. because a struct value should be nil on purpose)
// we have to bind the env var manually.
func bindNestedEnv(v *viper.Viper) {
	// Jellyfin
	v.MustBindEnv("jellyfin.url", "JELLYFETCH_JELLYFIN_URL")
	v.MustBindEnv("jellyfin.api_key", "JELLYFETCH_JELLYFIN_API_KEY")

	// Jellyseerr
	v.MustBindEnv("jellyseerr.url", "JELLYFETCH_JELLYSEERR_URL")
	v.MustBindEnv("jellyseerr.api_key", "JELLYFETCH_JELLYSEERR_API_KEY")
	v.MustBindEnv("jellyseerr.version", "JELLYFETCH_JELLYSEERR_VERSION")

	// TorBox
	v.MustBindEnv("debrid.torbox.url", "JELLYFETCH_DEBRID_TORBOX_URL")
	v.MustBindEnv("debrid.torbox.api_key", "JELLYFETCH_DEBRID_TORBOX_API_KEY")

	// Torrentio
	v.MustBindEnv("scrapers.torrentio.url", "JELLYFETCH_SCRAPERS_TORRENTIO_URL")
	v.MustBindEnv("scrapers.torrentio.enabled", "JELLYFETCH_SCRAPERS_TORRENTIO_ENABLED")
}

// validateConfig validates the configuration.
func validateConfig(c *Config) error {
	if c == nil {
		return fmt.Errorf("missing jellyfetch config")
	}

	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
	}

	if c.Paths == nil {
		return fmt.Errorf("missing paths config")
	}
	if c.Paths.OriginalFilesPath == "" {
		return fmt.Errorf("original files path is required")
	}
	if c.Paths.SymlinkedFilesPath == "" {
		return fmt.Errorf("symlinked files path is required")
	}
	if c.Paths.OriginalFilesPath == c.Paths.SymlinkedFilesPath {
		return fmt.Errorf("original files path and symlinked files path must differ")
	}

	switch c.FileManagement {
	case FileManagementSymlink, FileManagementPlex:
	default:
		return fmt.Errorf("unknown file management %q", c.FileManagement)
	}

	seen := make(map[FolderComponent]bool)
	for _, fc := range c.FolderOrder {
		switch fc {
		case FolderComponentType, FolderComponentVersion, FolderComponentResolution:
		default:
			return fmt.Errorf("unknown folder order component %q", fc)
		}
		if seen[fc] {
			return fmt.Errorf("folder order component %q is listed twice", fc)
		}
		seen[fc] = true
	}

	if c.Templates == nil || c.Templates.Movie == "" || c.Templates.Episode == "" {
		return fmt.Errorf("movie and episode templates are required")
	}

	if c.Pipeline == nil {
		return fmt.Errorf("missing pipeline config")
	}
	if c.Pipeline.WakeLimit < 0 {
		return fmt.Errorf("wake limit must not be negative")
	}
	if c.Pipeline.SleepBase <= 0 || c.Pipeline.SleepCap < c.Pipeline.SleepBase {
		return fmt.Errorf("sleep base must be positive and not exceed sleep cap")
	}
	if c.Pipeline.BatchSize <= 0 {
		return fmt.Errorf("batch size must be greater than 0")
	}
	if _, err := time.Parse("15:04", c.Pipeline.DefaultShowAirtime); err != nil {
		return fmt.Errorf("default show airtime must be HH:MM: %w", err)
	}
	switch c.Pipeline.UncachedContentHandling {
	case UncachedHandlingNone, UncachedHandlingHybrid, UncachedHandlingFull:
	default:
		return fmt.Errorf("unknown uncached content handling %q", c.Pipeline.UncachedContentHandling)
	}
	switch c.Pipeline.UltimateSortOrder {
	case SortOrderLargeToSmall, SortOrderSmallToLarge:
	default:
		return fmt.Errorf("unknown ultimate sort order %q", c.Pipeline.UltimateSortOrder)
	}

	if c.Schedule == nil {
		return fmt.Errorf("missing schedule config")
	}

	if c.Verification == nil {
		return fmt.Errorf("missing verification config")
	}
	if c.Verification.MaxAttempts <= 0 {
		return fmt.Errorf("verification max attempts must be greater than 0")
	}

	if len(c.Versions) == 0 {
		return fmt.Errorf("at least one version profile must be configured")
	}
	for name, profile := range c.Versions {
		if profile == nil {
			return fmt.Errorf("version %q is empty", name)
		}
		if err := validateVersion(name, profile); err != nil {
			return err
		}
	}

	if c.Scrapers == nil || (len(c.Scrapers.Torznab) == 0 && (c.Scrapers.Torrentio == nil || !c.Scrapers.Torrentio.Enabled)) {
		return fmt.Errorf("at least one scraper must be configured")
	}
	for _, tz := range c.Scrapers.Torznab {
		if tz == nil || tz.URL == "" {
			return fmt.Errorf("torznab scrapers require a URL")
		}
	}

	if c.Debrid == nil || c.Debrid.TorBox == nil || c.Debrid.TorBox.APIKey == "" {
		return fmt.Errorf("torbox API key is required")
	}

	if c.TMDB == nil || c.TMDB.APIKey == "" {
		return fmt.Errorf("tmdb API key is required")
	}

	if c.Cache != nil {
		if c.Cache.Type == "" {
			return fmt.Errorf("cache type is required when cache is enabled")
		}
		if c.Cache.Type == CacheTypeRedis && c.Cache.RedisURL == "" {
			return fmt.Errorf("Redis URL is required when Redis cache is enabled") //nolint:staticcheck
		}
	} else {
		c.Cache = &CacheConfig{
			Type:        CacheTypeMemory,
			MetadataTTL: 7 * 24 * time.Hour,
		}
	}

	if c.Jellyfin != nil {
		if c.Jellyfin.URL == "" {
			return fmt.Errorf("jellyfin URL is required when jellyfin is configured")
		}
		if c.Jellyfin.APIKey == "" {
			return fmt.Errorf("jellyfin API key is required when jellyfin is configured")
		}
	}

	if c.Jellyseerr != nil {
		if c.Jellyseerr.URL == "" {
			return fmt.Errorf("jellyseerr URL is required")
		}
		if c.Jellyseerr.APIKey == "" {
			return fmt.Errorf("jellyseerr API key is required")
		}
		if c.Jellyseerr.Version != "" && c.Versions[c.Jellyseerr.Version] == nil {
			return fmt.Errorf("jellyseerr version %q is not configured", c.Jellyseerr.Version)
		}
	}

	if c.Email != nil && c.Email.Enabled && c.Email.To == "" {
		return fmt.Errorf("email recipient is required when email is enabled")
	}

	return nil
}

func validateVersion(name string, p *VersionProfile) error {
	if !slices.Contains([]string{"2160p", "1080p", "720p", "480p", "SD"}, p.MaxResolution) {
		return fmt.Errorf("version %q: unknown max resolution %q", name, p.MaxResolution)
	}
	switch p.ResolutionWanted {
	case ResolutionAtMost, ResolutionExactly, ResolutionAtLeast:
	case "":
		p.ResolutionWanted = ResolutionAtMost
	default:
		return fmt.Errorf("version %q: unknown resolution comparison %q", name, p.ResolutionWanted)
	}
	if p.MinSizeGB < 0 || p.MaxSizeGB < 0 || p.SoftMaxSizeGB < 0 {
		return fmt.Errorf("version %q: sizes must not be negative", name)
	}
	if p.MaxSizeGB > 0 && p.MinSizeGB > p.MaxSizeGB {
		return fmt.Errorf("version %q: min size exceeds max size", name)
	}
	return nil
}

// sanitizeConfig sanitizes the configuration values.
func sanitizeConfig(c *Config) {
	if c == nil {
		return
	}

	c.Listen = urlSanitize(c.Listen)

	if c.Paths != nil {
		c.Paths.OriginalFilesPath = filepath.Clean(strings.TrimSpace(c.Paths.OriginalFilesPath))
		c.Paths.SymlinkedFilesPath = filepath.Clean(strings.TrimSpace(c.Paths.SymlinkedFilesPath))
		if c.Paths.OriginalFilesPath == "." {
			c.Paths.OriginalFilesPath = ""
		}
		if c.Paths.SymlinkedFilesPath == "." {
			c.Paths.SymlinkedFilesPath = ""
		}
	}

	if c.Jellyfin != nil {
		c.Jellyfin.URL = urlSanitize(c.Jellyfin.URL)
	}

	if c.Jellyseerr != nil {
		c.Jellyseerr.URL = urlSanitize(c.Jellyseerr.URL)
	}

	if c.Scrapers != nil {
		for _, tz := range c.Scrapers.Torznab {
			if tz != nil {
				tz.URL = urlSanitize(tz.URL)
			}
		}
		if c.Scrapers.Torrentio != nil {
			c.Scrapers.Torrentio.URL = urlSanitize(c.Scrapers.Torrentio.URL)
		}
	}

	if c.Debrid != nil && c.Debrid.TorBox != nil {
		c.Debrid.TorBox.URL = urlSanitize(c.Debrid.TorBox.URL)
	}

	for i, fc := range c.FolderOrder {
		c.FolderOrder[i] = FolderComponent(strings.ToLower(strings.TrimSpace(string(fc))))
	}
}

func urlSanitize(url string) string {
	return strings.TrimSuffix(strings.TrimSpace(url), "/")
}

// Location returns the configured timezone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// GetVersion returns the version profile with the given name.
// Viper lowercases map keys, so the lookup is case-insensitive.
func (c *Config) GetVersion(name string) *VersionProfile {
	if c.Versions == nil {
		return nil
	}
	if p, ok := c.Versions[name]; ok {
		return p
	}
	nameLower := strings.ToLower(name)
	for key, profile := range c.Versions {
		if strings.ToLower(key) == nameLower {
			return profile
		}
	}
	return nil
}

// LogDir returns the directory for log files if USER_LOGS is set.
func LogDir() string {
	return os.Getenv(EnvUserLogs)
}
