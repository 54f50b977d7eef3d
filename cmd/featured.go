package cmd

import (
	"github.com/cs3org/sweettooth/internal/featured"
	"github.com/spf13/cobra"
)

var featuredCmd = &cobra.Command{
	Use:   "featured",
	Short: "Manage the featured extensions",
}

var featuredSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync the featured extensions with the configured repository",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		repo, err := openRepository()
		if err != nil {
			return err
		}
		defer repo.Close()

		syncer, err := featured.New(&config.Sweettooth.Featured, repo)
		if err != nil {
			return err
		}
		uuids, err := syncer.Sync(log.WithContext(cmd.Context()))
		if err != nil {
			return err
		}
		cmd.Printf("%d featured extensions\n", len(uuids))
		return nil
	},
}

func init() {
	featuredCmd.AddCommand(featuredSyncCmd)
	rootCmd.AddCommand(featuredCmd)
}
