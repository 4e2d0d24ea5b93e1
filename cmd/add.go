package cmd

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/jon4hz/jellyfetch/internal/cache"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/jon4hz/jellyfetch/internal/metadata"
	"github.com/jon4hz/jellyfetch/internal/metadata/tmdb"
	"github.com/jon4hz/jellyfetch/internal/source"
	"github.com/spf13/cobra"
)

var addCmdFlags struct {
	ImdbID  string
	TmdbID  int32
	Type    string
	Seasons []int
	Version string
	Magnet  string
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a movie or show to the wanted queue",
	Long: `Resolve a movie or the seasons of a show and insert the resulting items as Wanted.
With --magnet the torrent is assigned directly and scraping is skipped.`,
	Example: `jellyfetch add --imdb tt0094625 --type movie
jellyfetch add --tmdb 1396 --type show --season 1 --season 2 --version 2160p
jellyfetch add --imdb tt0094625 --type movie --magnet "magnet:?xt=urn:btih:..."`,
	RunE: addItems,
}

func init() {
	addCmd.Flags().StringVar(&addCmdFlags.ImdbID, "imdb", "", "IMDb id of the title")
	addCmd.Flags().Int32Var(&addCmdFlags.TmdbID, "tmdb", 0, "TMDB id of the title")
	addCmd.Flags().StringVarP(&addCmdFlags.Type, "type", "t", "movie", "Media type (movie, show)")
	addCmd.Flags().IntSliceVarP(&addCmdFlags.Seasons, "season", "s", nil, "Seasons to add (default: all)")
	addCmd.Flags().StringVar(&addCmdFlags.Version, "version", "", "Version profile (default: first configured version)")
	addCmd.Flags().StringVar(&addCmdFlags.Magnet, "magnet", "", "Magnet link to assign instead of scraping")

	rootCmd.AddCommand(addCmd)
}

func addItems(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	kind, err := source.ParseKind(addCmdFlags.Type)
	if err != nil {
		return err
	}
	if addCmdFlags.Version != "" && cfg.GetVersion(addCmdFlags.Version) == nil {
		return fmt.Errorf("unknown version %q", addCmdFlags.Version)
	}

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close() //nolint: errcheck

	resolver := metadata.NewCached(tmdb.New(cfg.TMDB, nil), cache.NewManager(cfg.Cache), cfg.Cache.MetadataTTL)

	items, err := source.NewExpander(resolver, cfg).Add(cmd.Context(), db, source.Request{
		ImdbID:  addCmdFlags.ImdbID,
		TmdbID:  addCmdFlags.TmdbID,
		Kind:    kind,
		Seasons: addCmdFlags.Seasons,
		Version: addCmdFlags.Version,
		Magnet:  addCmdFlags.Magnet,
	}, database.SourceManual)
	if err != nil {
		return err
	}

	if len(items) == 0 {
		log.Info("Nothing to add, every item already exists")
		return nil
	}
	for _, item := range items {
		log.Info("Added item", "id", item.ID, "item", item.String(), "version", item.Version, "source", item.Source)
	}
	return nil
}
