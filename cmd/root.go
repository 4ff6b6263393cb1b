package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"imageocr/internal/config"
	"imageocr/internal/logger"
)

var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:   "imageocr",
	Short: "ImageOCR - extract text from images, scans, videos and office documents",
	Long: `ImageOCR extracts plain text from images, videos, PDFs, DOCX, Excel and
CSV/TXT files.

Images are upscaled, quality-checked and enhanced before a primary OCR engine
reads them line by line. Low-confidence lines are re-read by a secondary engine
and the better reading wins. Results are cached by content hash.

Configuration comes from the environment (a .env file is loaded on start) and
optionally from a YAML file given with --config or IMAGEOCR_CONFIG.`,
	Version: version,
	Run: func(cmd *cobra.Command, args []string) {
		log := logger.WithComponent("root")
		log.Info().
			Str("version", version).
			Msg("ImageOCR CLI executed")

		fmt.Println("Welcome to ImageOCR!")
		fmt.Println("Use --help to see available commands and options.")
	},
}

func Execute() {
	log := logger.WithComponent("cmd")

	if err := rootCmd.Execute(); err != nil {
		log.Error().
			Err(err).
			Msg("Command execution failed")
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "YAML configuration file (overrides "+config.ConfigFileEnv+")")
}

// loadConfig reads the configuration for a subcommand and reapplies the
// logger settings, which may differ from the ones used at startup.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if err := logger.Setup(cfg.GetLoggerConfig()); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, nil
}
