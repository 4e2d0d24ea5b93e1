package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jon4hz/jellyfetch/internal/database"
	"github.com/mergestat/timediff"
	"github.com/spf13/cobra"
)

var dbStatsCmd = &cobra.Command{
	Use:   "db-stats",
	Short: "Show database statistics",
	Long:  `Display the size of every pipeline queue and of both verification queues.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := database.New(cfg.Database.Path)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer db.Close() //nolint: errcheck

		ctx := cmd.Context()
		counts, err := db.CountByState(ctx)
		if err != nil {
			return fmt.Errorf("failed to get database stats: %w", err)
		}

		fmt.Println("Queues:")
		var total int64
		for _, state := range database.States {
			n := counts[state]
			total += n
			line := fmt.Sprintf("  %-17s %s", state, humanize.Comma(n))
			// the oldest entry shows how long the queue has been stuck
			if n > 0 {
				if oldest, err := db.GetByState(ctx, state, 1, 0); err == nil && len(oldest) == 1 {
					line += fmt.Sprintf("  (oldest updated %s)", timediff.TimeDiff(oldest[0].LastUpdated))
				}
			}
			fmt.Println(line)
		}
		fmt.Printf("  %-17s %s\n", "Total", humanize.Comma(total))

		v, err := db.GetVerificationCounts(ctx)
		if err != nil {
			return fmt.Errorf("failed to get verification stats: %w", err)
		}
		fmt.Println("\nVerifications:")
		fmt.Printf("  Symlinks: %d pending, %d verified, %d failed\n", v.SymlinkPending, v.SymlinkVerified, v.SymlinkFailed)
		fmt.Printf("  Removals: %d pending, %d verified, %d failed\n", v.RemovalPending, v.RemovalVerified, v.RemovalFailed)

		return nil
	},
}

func init() {
	rootCmd.AddCommand(dbStatsCmd)
}
