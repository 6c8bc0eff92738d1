package configcmder

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/NurRobin/ollama-chat/cmd/ollama-chat/appenv"
	"github.com/NurRobin/ollama-chat/pkg/config"
)

const configShortDesc string = "Inspect and create the config file"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
	}

	cmd.AddCommand(
		newInitCmd(),
		newShowCmd(),
		newPathCmd(),
	)

	return cmd
}

func newInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config file with the default settings",
		Long: `Write a config file with the default settings.

Flags given with init, such as --model and --host, are written into the
new file. An existing file is kept unless --force is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := appenv.Load(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			_, err = os.Stat(env.ConfigPath)
			switch {
			case err == nil && !force:
				return fmt.Errorf("%s already exists, use --force to overwrite", env.ConfigPath)
			case err != nil && !errors.Is(err, fs.ErrNotExist):
				return err
			}

			cfg := config.Default()
			cfg.Host = env.Config.Host
			cfg.Model = env.Config.Model

			if err := config.Save(env.ConfigPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", env.ConfigPath)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing config file")

	return cmd
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long:  "Print the configuration after defaults, the config file, .env files, environment and flags are applied.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := appenv.Load(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			return toml.NewEncoder(cmd.OutOrStdout()).Encode(env.Config)
		},
	}
}

func newPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := appenv.Load(cmd)
			if err != nil {
				return err
			}
			defer env.Close()

			fmt.Fprintln(cmd.OutOrStdout(), env.ConfigPath)
			return nil
		},
	}
}
