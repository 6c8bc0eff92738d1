package chatscmder

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/NurRobin/ollama-chat/cmd/ollama-chat/appenv"
	"github.com/NurRobin/ollama-chat/cmd/ollama-chat/dbpath"
	"github.com/NurRobin/ollama-chat/pkg/storage"
	"github.com/NurRobin/ollama-chat/pkg/storage/sqlite"
)

const mergeLongDesc string = `Merge one or more source chat databases into a target.

Chats are keyed by id. A chat missing from the target is added; when
both have it, the copy updated most recently wins.

Examples:
  ollama-chat chats merge laptop.db desktop.db
  ollama-chat chats merge --db /tmp/merged.db ~/alice/chats.db ~/bob/chats.db`

const mergeShortDesc string = "Merge chat databases"

func NewMergeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "merge [sources...]",
		Short: mergeShortDesc,
		Long:  mergeLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMerge(cmd.Context(), cmd, args)
		},
	}

	return cmd
}

func runMerge(ctx context.Context, cmd *cobra.Command, sources []string) error {
	env, err := appenv.Load(cmd)
	if err != nil {
		return err
	}
	defer env.Close()

	dbFlag, _ := cmd.Flags().GetString(appenv.FlagDB)
	targetPath, err := dbpath.Resolve(dbFlag, env.Config)
	if err != nil {
		return fmt.Errorf("could not resolve target database: %w", err)
	}

	target, err := sqlite.NewDriver(ctx, targetPath)
	if err != nil {
		return fmt.Errorf("could not open target database %s: %w", targetPath, err)
	}
	defer target.Close()

	var total storage.MergeCounts

	for _, srcPath := range sources {
		counts, err := mergeSource(ctx, target, srcPath)
		if err != nil {
			return err
		}

		total.Added += counts.Added
		total.Updated += counts.Updated
		total.Kept += counts.Kept

		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d added, %d updated, %d kept\n",
			srcPath, counts.Added, counts.Updated, counts.Kept)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Merged %d sources into %s: %d added, %d updated, %d kept\n",
		len(sources), targetPath, total.Added, total.Updated, total.Kept)

	return nil
}

func mergeSource(ctx context.Context, target storage.Driver, srcPath string) (storage.MergeCounts, error) {
	source, err := sqlite.NewDriver(ctx, srcPath)
	if err != nil {
		return storage.MergeCounts{}, fmt.Errorf("could not open source database %s: %w", srcPath, err)
	}
	defer source.Close()

	chats, err := source.List(ctx)
	if err != nil {
		return storage.MergeCounts{}, fmt.Errorf("could not list chats from %s: %w", srcPath, err)
	}

	return storage.MergeAll(ctx, target, chats)
}
