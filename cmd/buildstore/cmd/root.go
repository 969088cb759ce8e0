package cmd

import (
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/aweris/buildstore"
)

var rootCmd = &cobra.Command{
	Use:          "buildstore",
	Short:        "Content-addressed build artifact store",
	Long:         "CLI for storing build outputs by content identity and managing named refs.",
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file (default: ~/.config/buildstore/config.yaml)")
	flags.String("root", "", "store root (default: ~/.local/share/buildstore)")
	flags.String("algorithm", "", "hash algorithm for new objects (sha256, blake3)")
	flags.Int("concurrency", 0, "files hashed in parallel")
	flags.String("log-level", "", "log level (debug, info, warn, error)")

	viper.BindPFlag("root", flags.Lookup("root"))
	viper.BindPFlag("algorithm", flags.Lookup("algorithm"))
	viper.BindPFlag("concurrency", flags.Lookup("concurrency"))
	viper.BindPFlag("log_level", flags.Lookup("log-level"))
}

func initConfig() {
	if cfg := rootCmd.PersistentFlags().Lookup("config").Value.String(); cfg != "" {
		viper.SetConfigFile(cfg)
	} else {
		viper.AddConfigPath(configDir())
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("BUILDSTORE")
	viper.AutomaticEnv()
	viper.SetDefault("root", buildstore.DefaultRoot())
	viper.SetDefault("algorithm", string(buildstore.SHA256))
	viper.SetDefault("concurrency", 4)
	viper.SetDefault("temp_grace", "24h")
	viper.SetDefault("cache_size", buildstore.DefaultCacheSize)
	viper.SetDefault("compression_level", 2)
	viper.SetDefault("log_level", "warn")

	viper.ReadInConfig()
}

func configDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "buildstore")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".config", "buildstore")
	}
	return ".buildstore"
}

func logger(cmd *cobra.Command) logrus.FieldLogger {
	log := logrus.New()
	log.SetOutput(cmd.ErrOrStderr())
	level, err := logrus.ParseLevel(viper.GetString("log_level"))
	if err != nil {
		log.WithError(err).Warn("unknown log level, using warn")
		level = logrus.WarnLevel
	}
	log.SetLevel(level)
	return log
}

// openStore opens the configured store. The caller closes it.
func openStore(cmd *cobra.Command) (*buildstore.Store, error) {
	algo, err := buildstore.ParseAlgorithm(viper.GetString("algorithm"))
	if err != nil {
		return nil, err
	}
	return buildstore.Open(viper.GetString("root"),
		buildstore.WithAlgorithm(algo),
		buildstore.WithConcurrency(viper.GetInt("concurrency")),
		buildstore.WithTempGrace(viper.GetDuration("temp_grace")),
		buildstore.WithCacheSize(viper.GetInt("cache_size")),
		buildstore.WithCompressionLevel(viper.GetInt("compression_level")),
		buildstore.WithLogger(logger(cmd)),
	)
}

// resolve accepts either an identity or a ref name.
func resolve(s *buildstore.Store, arg string) (buildstore.Identity, error) {
	if id, err := buildstore.ParseIdentity(arg); err == nil {
		return id, nil
	}
	return s.RefGet(arg)
}
