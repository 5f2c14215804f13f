package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ppiankov/veritas/internal/model"
)

const configHierarchy = `Configuration hierarchy (highest to lowest priority):
  1. CLI flags
  2. Environment variables (VERITAS_*, e.g. VERITAS_TRAINING_EPOCHS)
  3. Config file (~/.veritas/config.yaml)
  4. Defaults`

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Veritas configuration",
	Long:  "Manage Veritas configuration files and settings.\n\n" + configHierarchy,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Display the effective configuration after merging defaults, config file, environment variables and flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		if configFile := viper.ConfigFileUsed(); configFile != "" {
			fmt.Fprintf(os.Stderr, "Configuration file: %s\n\n", configFile)
		} else {
			fmt.Fprintf(os.Stderr, "No configuration file found (using defaults)\n\n")
		}

		yamlData, err := yaml.Marshal(cfg)
		if err != nil {
			return fmt.Errorf("error marshaling config: %w", err)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "═══════════════════════════════════════════════════════════")
		fmt.Fprintln(out, "  Current Configuration")
		fmt.Fprintln(out, "═══════════════════════════════════════════════════════════")
		fmt.Fprintln(out)
		fmt.Fprintln(out, string(yamlData))
		fmt.Fprintln(out, "═══════════════════════════════════════════════════════════")
		fmt.Fprintln(out)
		fmt.Fprintln(out, configHierarchy)
		fmt.Fprintln(out)
		return nil
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize default configuration file",
	Long:  `Create a default configuration file at ~/.veritas/config.yaml with every available option.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := configDir()
		if err != nil {
			return fmt.Errorf("error finding home directory: %w", err)
		}
		configPath := filepath.Join(dir, "config.yaml")

		// Check if config already exists
		if _, err := os.Stat(configPath); err == nil {
			return fmt.Errorf("config file already exists: %s\nUse 'veritas config show' to view it, or delete it first to recreate", configPath)
		}

		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("error creating config directory: %w", err)
		}
		if err := writeDefaultConfig(configPath); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "✓ Created default configuration: %s\n", configPath)
		fmt.Fprintf(out, "\nTo view the configuration:\n")
		fmt.Fprintf(out, "  veritas config show\n")
		fmt.Fprintf(out, "\nTo customize, edit the file with your preferred editor:\n")
		fmt.Fprintf(out, "  $EDITOR %s\n\n", configPath)
		return nil
	},
}

func writeDefaultConfig(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("error creating config file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close config file: %w", closeErr)
		}
	}()

	yamlData, err := yaml.Marshal(model.DefaultConfig())
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	header := "# Veritas Configuration File\n#\n"
	for _, line := range strings.Split(configHierarchy, "\n") {
		header += "# " + line + "\n"
	}
	header += "#\n# embedding.source is a word2vec file (binary or text, optionally .gz);\n"
	header += "# it is read once into embedding.cache_dir.\n\n"

	if _, err := f.WriteString(header); err != nil {
		return fmt.Errorf("error writing config: %w", err)
	}
	if _, err := f.Write(yamlData); err != nil {
		return fmt.Errorf("error writing config: %w", err)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
}
