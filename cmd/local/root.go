package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"gem-concierge/internal/app"
	"gem-concierge/internal/catalog"
	"gem-concierge/internal/integrations/openai"
	"gem-concierge/internal/repository/memory"
	"gem-concierge/internal/usecase"
)

const localPrefix = "/local"

var (
	catalogPath string
	verbose     bool

	logger  *slog.Logger
	service *usecase.ConsultService
)

var rootCmd = &cobra.Command{
	Use:   "concierge-local",
	Short: "Run the jewelry concierge against a local catalog",
	Long: `concierge-local runs the consultation pipeline on this machine.
Sessions live in memory and the catalog is read from a YAML file.
The OpenAI key and model come from OPENAI_API_KEY and OPENAI_MODEL,
optionally loaded from a .env file.`,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&catalogPath, "catalog", "internal/catalog/testdata/catalog.yaml", "path to the YAML product catalog")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")
	rootCmd.AddCommand(serveCmd, chatCmd)
}

func setup(_ *cobra.Command, _ []string) error {
	if err := godotenv.Load(); err != nil {
		fmt.Fprintln(os.Stderr, "No .env file found, using environment variables")
	}

	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	params, err := paramsFromEnv(localPrefix, os.Getenv)
	if err != nil {
		return err
	}
	var opts []openai.Option
	if base := os.Getenv("OPENAI_BASE_URL"); base != "" {
		opts = append(opts, openai.WithBaseURL(base))
	}
	model, err := openai.NewClient(params, localPrefix, opts...)
	if err != nil {
		return err
	}

	index, err := catalog.NewLazyIndex(catalog.FileLoader(catalogPath))
	if err != nil {
		return err
	}

	service, err = app.NewConsultService(model, index, memory.New(), app.LoadSettings(os.Getenv), logger)
	if err != nil {
		return fmt.Errorf("build consult service: %w", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var ucErr *usecase.Error
		if errors.As(err, &ucErr) {
			fmt.Fprintf(os.Stderr, "%s: %s\n", ucErr.Code, ucErr.Reason)
		}
		os.Exit(1)
	}
}
