package main

import (
	"fmt"
	"os"

	"github.com/BadgerOps/rollcall/internal/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configInitForce bool

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage rollcall configuration. Subcommands allow viewing, creating and
modifying configuration settings.`,
		Example: `  rollcall config show
  rollcall config init --config /etc/rollcall/rollcall.yaml
  rollcall config set schedule.retention 14`,
	}

	cmd.AddCommand(
		newConfigShowCmd(),
		newConfigInitCmd(),
		newConfigSetCmd(),
	)

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display current configuration",
		Long: `Display the current configuration in YAML format. If a config file
is loaded, shows the loaded configuration with any command-line overrides
applied.`,
		RunE: configShowRun,
	}
}

func configShowRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	data, err := yaml.Marshal(globalCfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	fmt.Println("Current Configuration:")
	fmt.Println("======================")
	fmt.Println(string(data))

	return nil
}

func newConfigInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long: `Write the default configuration to --config (default: ./rollcall.yaml).
An existing file is left alone unless --force is given.`,
		RunE: configInitRun,
	}
	cmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config file")
	return cmd
}

func configInitRun(cmd *cobra.Command, args []string) error {
	path := configTargetPath()
	if _, err := os.Stat(path); err == nil && !configInitForce {
		return fmt.Errorf("config file %s already exists (use --force to overwrite)", path)
	}

	cfg := config.DefaultConfig()
	if dataDir != "" {
		cfg.Server.DataDir = dataDir
	}
	if err := cfg.Save(path); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", path)
	return nil
}

func newConfigSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Set a configuration value",
		Long: `Set a configuration value using dot-notation for nested keys.
Changes are written back to the config file.

Examples:
  server.listen 127.0.0.1:9000
  server.data_dir /var/lib/rollcall
  backup.compression xz
  schedule.retention 14`,
		Args: cobra.ExactArgs(2),
		RunE: configSetRun,
	}
}

func configSetRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	key, value := args[0], args[1]
	if err := globalCfg.Set(key, value); err != nil {
		return err
	}

	path := configTargetPath()
	if err := globalCfg.Save(path); err != nil {
		return err
	}
	logger.Info("configuration updated", "key", key, "value", value, "path", path)
	fmt.Printf("Set %s = %s in %s\n", key, value, path)
	return nil
}

// configTargetPath is the file config init and set write to.
func configTargetPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return "rollcall.yaml"
}
