// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"log/slog"
	"net"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/edgeo/drivers/goose/goose"
)

const version = "1.0.0"

var (
	cfgFile   string
	outputFmt string
	verbose   bool
	srcFilter []string
	maxAPDU   int

	metrics *goose.Metrics
	logger  *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "edgeo-goose",
	Short: "An IEC 61850 GOOSE frame codec and capture tool",
	Long: `edgeo-goose encodes and decodes IEC 61850-8-1 GOOSE frames.

It decodes frames given as hex or read from pcap/pcapng captures (optionally
zstd or lz4 compressed), builds frames from YAML message descriptions, lists
the publishers seen in a capture and supervises their stNum/sqNum sequences.

Examples:
  # Decode a frame given as hex
  edgeo-goose decode 010ccd0101ff00112233445588b80000...

  # Build a frame and its retransmissions into a capture
  edgeo-goose encode -f message.yaml -w out.pcap --repeat 5

  # List publishers in a capture
  edgeo-goose scan -r substation.pcapng

  # Follow sequence numbers as a capture grows
  edgeo-goose watch -r live.pcap --follow`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		outputFmt = viper.GetString("output")
		verbose = viper.GetBool("verbose")
		srcFilter = viper.GetStringSlice("src")
		maxAPDU = viper.GetInt("max-apdu")

		if _, err := parseOutputFormat(outputFmt); err != nil {
			return err
		}

		logLevel := slog.LevelInfo
		if verbose {
			logLevel = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
			Level: logLevel,
		}))
		metrics = goose.NewMetrics()
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.edgeo-goose.yaml)")
	rootCmd.PersistentFlags().StringVarP(&outputFmt, "output", "o", "table", "Output format (table, json, csv, yaml, cbor, raw)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().StringSliceVar(&srcFilter, "src", nil, "Only accept frames from these source MACs")
	rootCmd.PersistentFlags().IntVar(&maxAPDU, "max-apdu", goose.MaxAPDULength, "Largest APDU accepted, in bytes")

	viper.BindPFlag("output", rootCmd.PersistentFlags().Lookup("output"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
	viper.BindPFlag("src", rootCmd.PersistentFlags().Lookup("src"))
	viper.BindPFlag("max-apdu", rootCmd.PersistentFlags().Lookup("max-apdu"))

	rootCmd.AddCommand(decodeCmd)
	rootCmd.AddCommand(encodeCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(interactiveCmd)
	rootCmd.AddCommand(versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".edgeo-goose")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("GOOSE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// createCodec creates a codec with the current configuration
func createCodec() (*goose.Codec, error) {
	opts := []goose.Option{
		goose.WithLogger(logger),
		goose.WithMetrics(metrics),
		goose.WithMaxAPDULength(maxAPDU),
	}

	for _, s := range srcFilter {
		mac, err := net.ParseMAC(s)
		if err != nil {
			return nil, fmt.Errorf("invalid --src %q: %w", s, err)
		}
		opts = append(opts, goose.WithSubscriptions(mac))
	}

	return goose.NewCodec(opts...), nil
}

// newFormatter returns a formatter writing to the command's output
func newFormatter(cmd *cobra.Command) *Formatter {
	f := NewFormatter(outputFmt)
	f.SetWriter(cmd.OutOrStdout())
	return f
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "edgeo-goose version %s\n", version)
	},
}
