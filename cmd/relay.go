package cmd

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rtcall/server"
)

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the signaling relay.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return server.Run(ctx, relayConfig())
	},
}

func init() {
	f := relayCmd.Flags()
	f.String("listen", ":8090", "listen address for the relay")
	f.StringSlice("tokens", nil, "allowed bearer tokens (comma separated or repeated)")
	f.Int64("max-msg-size", 1<<20, "max websocket message size (bytes)")

	bindFlags(f, "relay")
}

func relayConfig() server.Config {
	return server.Config{
		Listen:     viper.GetString("relay.listen"),
		Tokens:     normalizeTokens(viper.GetStringSlice("relay.tokens")),
		MaxMsgSize: viper.GetInt64("relay.max_msg_size"),
	}
}
