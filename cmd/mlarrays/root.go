// Command mlarrays works with Arrow files of machine learning extension
// types: encoded images, image URIs, fixed shape tensors and bfloat16
// vectors.
package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mvanberg/mlarrays/types"
)

// Version information
const (
	Version = "0.1.0"
	Name    = "mlarrays"
)

var (
	cfgFile string
	verbose bool
	log     zerolog.Logger
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "mlarrays",
	Short: "Work with Arrow ML extension arrays",
	Long: `Work with Arrow ML extension arrays:
  mlarrays convert img1.png img2.jpg --out tensors.arrow
  mlarrays inspect tensors.arrow
  mlarrays serve --addr :7341
  mlarrays publish --file tensors.arrow --dataset train
  `,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := types.RegisterAll(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.mlarrays.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	if err := viper.BindEnv("config", "MLARRAYS_CONFIG"); err != nil {
		panic(err)
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	viper.SetEnvPrefix("MLARRAYS")
	viper.AutomaticEnv()

	if cfgFile == "" {
		cfgFile = viper.GetString("config")
	}
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			return
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".mlarrays")
	}

	if err := viper.ReadInConfig(); err == nil {
		log.Debug().Str("file", viper.ConfigFileUsed()).Msg("using config file")
	}
}

// parseShape parses a "HxWxC" flag value, for example "224x224x3".
func parseShape(s string) (types.ImageShape, error) {
	parts := strings.Split(strings.ToLower(s), "x")
	if len(parts) != 3 {
		return types.ImageShape{}, fmt.Errorf("invalid shape %q, want HxWxC", s)
	}

	dims := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return types.ImageShape{}, fmt.Errorf("invalid shape %q: %w", s, err)
		}
		dims[i] = n
	}

	shape := types.ImageShape{Height: dims[0], Width: dims[1], Channels: dims[2]}
	if err := shape.Validate(); err != nil {
		return types.ImageShape{}, err
	}
	return shape, nil
}
