package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fletchdb/fletch/pkg/api"
	"github.com/fletchdb/fletch/pkg/metadata"
	"github.com/fletchdb/fletch/pkg/metrics"
	"github.com/fletchdb/fletch/pkg/store"
	"github.com/fletchdb/fletch/pkg/vectortypes"
)

var (
	cfgFile   string
	indexKind string
	dataDir   string
	metric    string
	logLevel  string

	version = "0.1.0" // Set during build
)

const (
	exitOK       = 0
	exitUserErr  = 1
	exitInternal = 2
)

func main() {
	cobra.OnInitialize(initConfig)

	rootCmd := &cobra.Command{
		Use:   "fletch",
		Short: "Fletch - embeddable vector database",
		Long: `Fletch is an embeddable vector database: float32 vectors keyed by
string IDs with metadata, searched exactly or through an HNSW graph,
persisted with a write-ahead log and snapshots.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.fletch.yaml)")
	rootCmd.PersistentFlags().StringVar(&indexKind, "index", "flat", "index type (flat, hnsw)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "data directory; enables persistence when set")
	rootCmd.PersistentFlags().StringVar(&metric, "metric", "euclidean", "distance metric (euclidean, cosine, dot)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(insertCmd())
	rootCmd.AddCommand(searchCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}

// initConfig reads in config file and FLETCH_* environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.SetConfigName(".fletch")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("FLETCH")

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}

	if viper.IsSet("data_dir") {
		dataDir = viper.GetString("data_dir")
	}
	if viper.IsSet("index") {
		indexKind = viper.GetString("index")
	}
	if viper.IsSet("metric") {
		metric = viper.GetString("metric")
	}
	if viper.IsSet("log_level") {
		logLevel = viper.GetString("log_level")
	}
}

// exitCode maps an error to the process exit code: user mistakes exit 1,
// engine failures exit 2.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrDimensionMismatch),
		errors.Is(err, store.ErrInvalidVector),
		errors.Is(err, store.ErrInvalidFilter),
		errors.Is(err, store.ErrInvalidParameter),
		errors.Is(err, errUsage):
		return exitUserErr
	default:
		return exitInternal
	}
}

var errUsage = errors.New("usage error")

func sonicUnmarshal(s string, v any) error {
	return sonic.Unmarshal([]byte(s), v)
}

func newLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(logLevel)
	if err != nil {
		level = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	return cfg.Build()
}

func openStore(log *zap.Logger, stats *metrics.Collector) (*store.Store, error) {
	distType, err := vectortypes.ParseDistanceType(metric)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errUsage, err)
	}

	opts := store.DefaultOptions()
	opts.Metric = distType
	opts.DataDir = dataDir
	opts.Logger = log
	opts.Metrics = stats

	switch indexKind {
	case "flat":
		opts.Index = store.IndexFlat
	case "hnsw":
		opts.Index = store.IndexHNSW
	default:
		return nil, fmt.Errorf("%w: unknown index type %q", errUsage, indexKind)
	}

	return store.New(opts)
}

func insertCmd() *cobra.Command {
	var vectorStr string
	var metadataStr string

	cmd := &cobra.Command{
		Use:   "insert ID",
		Short: "Insert a vector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			vector, err := vectortypes.ParseF32(vectorStr)
			if err != nil {
				return fmt.Errorf("%w: %v", errUsage, err)
			}

			var meta metadata.Document
			if metadataStr != "" {
				if err := sonicUnmarshal(metadataStr, &meta); err != nil {
					return fmt.Errorf("%w: invalid metadata: %v", errUsage, err)
				}
			}

			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			s, err := openStore(log, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Insert(args[0], vector, meta); err != nil {
				return err
			}
			fmt.Printf("Inserted vector with ID: %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&vectorStr, "vector", "v", "", "vector as comma-separated values (e.g. \"1.0,2.0,3.0\")")
	cmd.Flags().StringVarP(&metadataStr, "metadata", "m", "", "metadata as a JSON object")
	cmd.MarkFlagRequired("vector")
	return cmd
}

func searchCmd() *cobra.Command {
	var k int
	var filterStr string

	cmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Search for similar vectors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := vectortypes.ParseF32(args[0])
			if err != nil {
				return fmt.Errorf("%w: %v", errUsage, err)
			}

			var filter *metadata.Filter
			if filterStr != "" {
				filter = &metadata.Filter{}
				if err := sonicUnmarshal(filterStr, filter); err != nil {
					return fmt.Errorf("%w: invalid filter: %v", errUsage, err)
				}
			}

			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			s, err := openStore(log, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			results, err := s.Search(query, k, filter)
			if err != nil {
				return err
			}

			if len(results) == 0 {
				fmt.Println("No results found")
				return nil
			}

			fmt.Printf("Top %d results:\n", len(results))
			for i, r := range results {
				fmt.Printf("%d. %s (distance: %.4f)\n", i+1, r.ID, r.Distance)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "k", "k", 5, "number of results to return")
	cmd.Flags().StringVarP(&filterStr, "filter", "f", "", "metadata filter as a JSON expression")
	return cmd
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a vector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			s, err := openStore(log, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.Delete(args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted vector with ID: %s\n", args[0])
			return nil
		},
	}
}

func listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all vector IDs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			s, err := openStore(log, nil)
			if err != nil {
				return err
			}
			defer s.Close()

			ids := s.List()
			if len(ids) == 0 {
				fmt.Println("No vectors in store")
				return nil
			}

			fmt.Printf("Vector IDs (%d total):\n", len(ids))
			for _, id := range ids {
				fmt.Printf("  - %s\n", id)
			}
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr string
	var rateLimit int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := newLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			stats := metrics.NewCollector()

			s, err := openStore(log, stats)
			if err != nil {
				return err
			}
			defer s.Close()

			opts := api.DefaultServerOptions()
			opts.Addr = addr
			opts.RateLimit = rateLimit
			server := api.NewServer(s, stats, log, opts)

			// Serve until interrupted, then drain connections.
			errCh := make(chan error, 1)
			go func() { errCh <- server.Listen() }()

			quit := make(chan os.Signal, 1)
			signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case <-quit:
				log.Info("shutting down")
				return server.Shutdown()
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":3000", "address to bind to")
	cmd.Flags().IntVar(&rateLimit, "rate-limit", 0, "requests per second per client (0 disables)")
	return cmd
}
