package cmd

import (
	"flag"
	"log/slog"
	"os"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rtcall",
	Short: "Negotiate a peer-to-peer media call over a websocket signaling channel.",
	Long: `rtcall negotiates a WebRTC call between two peers. One peer runs
"rtcall call --offer", the other "rtcall call", both pointed at the same
room of an "rtcall relay".`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging(viper.GetBool("verbose"))
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	defer glog.Flush()
	if err := rootCmd.Execute(); err != nil {
		glog.Errorf("Failed to execute root command: %v", err)
		glog.Flush()
		os.Exit(1)
	}
}

// Root returns the root command, for embedding and tests.
func Root() *cobra.Command {
	return rootCmd
}

func init() {
	cobra.OnInitialize(initConfig)
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	pf.Bool("verbose", false, "verbose logging")
	viper.BindPFlag("verbose", pf.Lookup("verbose"))
	// glog flags (-logtostderr, -v, ...)
	pf.AddGoFlagSet(flag.CommandLine)

	rootCmd.AddCommand(relayCmd, callCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	// glog refuses to log before the go flag set has been parsed.
	if !flag.Parsed() {
		flag.CommandLine.Parse(nil)
	}

	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("RTCALL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv() // read in environment variables that match

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		glog.Infof("Using config file: %s", viper.ConfigFileUsed())
	}
}

// bindFlags binds every flag in fs to the viper key section.<flag_name>, so
// "--max-msg-size" on the relay command is "relay.max_msg_size" in the config
// file and RTCALL_RELAY_MAX_MSG_SIZE in the environment.
func bindFlags(fs *pflag.FlagSet, section string) {
	fs.VisitAll(func(f *pflag.Flag) {
		key := section + "." + strings.ReplaceAll(f.Name, "-", "_")
		if err := viper.BindPFlag(key, f); err != nil {
			glog.Fatalf("Failed to bind flag %s: %v", f.Name, err)
		}
	})
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// normalizeTokens accepts tokens given as repeated flags, comma separated
// lists or both, and drops blanks.
func normalizeTokens(in []string) []string {
	out := []string{}
	for _, s := range in {
		for _, t := range strings.Split(s, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}
