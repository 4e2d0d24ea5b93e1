package cmd

import (
	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var sweepOrphansCmd = &cobra.Command{
	Use:   "sweep-orphans",
	Short: "Remove debrid torrents that no item references",
	Long:  `Remove every torrent on the debrid account that is not held by an item in the database.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cfg)
		if err != nil {
			return err
		}
		defer a.Close() //nolint:errcheck

		n, err := a.engine.SweepOrphans(cmd.Context())
		if err != nil {
			return err
		}
		log.Info("Orphan sweep finished", "removed", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sweepOrphansCmd)
}
