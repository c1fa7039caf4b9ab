package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	outputDir string
	logLevel  string
	logJSON   bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "batchmint",
	Short: "Batch uploader and lister for marketplace asset metadata",
	Long: `batchmint processes a metadata file of digital assets and drives an
external marketplace driver to create, list or delete an entry for each
record. Runs are resumable: every record's outcome is durably recorded, a
re-run skips completed work, and a set can be split across parallel shards.`,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.batchmint/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&outputDir, "output-dir", "out", "directory for ledger, logs and derived result files")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "write logs as JSON")
}

// initConfig reads in config file and environment variables if set
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			os.Exit(1)
		}
		viper.AddConfigPath(filepath.Join(home, ".batchmint"))
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("BATCHMINT")
	viper.AutomaticEnv()
	viper.BindEnv("driver_url", "BATCHMINT_DRIVER_URL")
	viper.BindEnv("driver_api_key", "BATCHMINT_DRIVER_API_KEY")

	if err := viper.ReadInConfig(); err == nil {
		if v := viper.GetString("output_dir"); v != "" && !rootCmd.PersistentFlags().Changed("output-dir") {
			outputDir = v
		}
		if v := viper.GetString("log_level"); v != "" && !rootCmd.PersistentFlags().Changed("log-level") {
			logLevel = v
		}
	}
}

// GetOutputDir returns the output directory, created on demand
func GetOutputDir() (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", outputDir, err)
	}
	return outputDir, nil
}
