package cmd

import (
	"fmt"
	"os"

	log "github.com/sirupsen/logrus" // Import logrus for config loading messages
	"github.com/spf13/cobra"

	"github.com/coolmanlume/aubrowser/internal/config"
	"github.com/coolmanlume/aubrowser/internal/models"
)

// cfgFile holds the path to the config file specified by the user
var cfgFile string

// dbPathFlag holds the value of the --db flag
var dbPathFlag string

// previewPathFlag holds the value of the --preview-path flag
var previewPathFlag string

// pluginDirFlags holds the values of repeated --plugin-dir flags
var pluginDirFlags []string

// verboseFlag enables debug logging
var verboseFlag bool

// globalConfig holds the loaded configuration
var globalConfig models.Config

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "aubrowser",
	Short: "Browse installed components and capture editor previews",
	Long: `aubrowser enumerates installed audio components, captures a JPEG
preview of each component's editor surface in an isolated worker process,
and maintains a durable local catalog of components, capture attempts and
preview artifacts.`,
	PersistentPreRunE: loadGlobalConfig, // Load config before any command runs
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing command: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "config.toml", "Configuration file path")
	rootCmd.PersistentFlags().StringVar(&dbPathFlag, "db", "", "Database path (overrides config)")
	rootCmd.PersistentFlags().StringVar(&previewPathFlag, "preview-path", "", "Directory for preview JPEGs (overrides config)")
	rootCmd.PersistentFlags().StringArrayVar(&pluginDirFlags, "plugin-dir", nil, "Plugin directory to enumerate (repeatable, overrides config)")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable debug logging")
}

// loadGlobalConfig attempts to load the configuration and applies flag
// overrides. A missing config file is not fatal; commands run on defaults and
// flags alone.
func loadGlobalConfig(cmd *cobra.Command, args []string) error {
	if verboseFlag {
		log.SetLevel(log.DebugLevel)
	}

	var err error
	globalConfig, err = config.LoadConfig(cfgFile)
	if err != nil {
		log.WithError(err).Debugf("Failed to load configuration from %s, using defaults", cfgFile)
		globalConfig = models.Config{}
		config.ApplyDefaults(&globalConfig)
	}

	if cmd.Flags().Changed("db") && dbPathFlag != "" {
		globalConfig.DatabasePath = dbPathFlag
		log.Debugf("Overriding DatabasePath based on --db flag: %s", dbPathFlag)
	}
	if cmd.Flags().Changed("preview-path") && previewPathFlag != "" {
		globalConfig.PreviewPath = previewPathFlag
		log.Debugf("Overriding PreviewPath based on --preview-path flag: %s", previewPathFlag)
	}
	if len(pluginDirFlags) > 0 {
		globalConfig.PluginDirs = pluginDirFlags
		log.Debugf("Overriding PluginDirs based on --plugin-dir flags: %v", pluginDirFlags)
	}

	return nil
}
