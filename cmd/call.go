package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rtcall/gateway"
	"rtcall/media"
	"rtcall/negotiation"
	"rtcall/rtc"
)

// CallConfig configures one call endpoint.
type CallConfig struct {
	SigAddr  string
	Room     string
	Token    string
	Offer    bool
	Polite   bool
	STUN     []string
	UDPPort  uint16
	Audio    bool
	Video    bool
	Loopback bool
	Timeout  time.Duration
}

func (c CallConfig) Validate() error {
	if c.SigAddr == "" {
		return fmt.Errorf("signaling server address is required")
	}
	u, err := url.Parse(c.SigAddr)
	if err != nil {
		return fmt.Errorf("invalid signaling server address: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("signaling server address must be ws:// or wss://, got: %s", c.SigAddr)
	}
	if !c.Audio && !c.Video {
		return fmt.Errorf("at least one of audio or video is required")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	return nil
}

// RoomURL is SigAddr with the room query set.
func (c CallConfig) RoomURL() (string, error) {
	u, err := url.Parse(c.SigAddr)
	if err != nil {
		return "", err
	}
	if c.Room != "" {
		q := u.Query()
		q.Set("room", c.Room)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

func (c CallConfig) ICEServers() []webrtc.ICEServer {
	if len(c.STUN) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: c.STUN}}
}

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Join a room and negotiate a call with the other peer.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := callConfig()
		if err := cfg.Validate(); err != nil {
			return err
		}
		ctx, stop := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runCall(ctx, cfg)
	},
}

func init() {
	f := callCmd.Flags()
	f.StringP("signaling-address", "s", "ws://localhost:8090/ws", "relay address (ws/wss URL)")
	f.StringP("room", "r", "default", "relay room to join")
	f.StringP("token", "k", "", "bearer token if required by the relay")
	f.Bool("offer", false, "start the call instead of waiting for an offer")
	f.Bool("polite", false, "give way when both peers offer at once")
	f.StringSliceP("stun-addresses", "t", []string{"stun:stun.l.google.com:19302"}, "STUN server addresses")
	f.Uint16("udp-port", 0, "multiplex ICE over this UDP port (0 for ephemeral ports)")
	f.Bool("audio", true, "send an audio track")
	f.Bool("video", true, "send a video track")
	f.Bool("loopback", false, "gather loopback candidates")
	f.Duration("timeout", 30*time.Second, "give up if not connected within this time")

	bindFlags(f, "call")
}

func callConfig() CallConfig {
	return CallConfig{
		SigAddr:  viper.GetString("call.signaling_address"),
		Room:     viper.GetString("call.room"),
		Token:    viper.GetString("call.token"),
		Offer:    viper.GetBool("call.offer"),
		Polite:   viper.GetBool("call.polite"),
		STUN:     viper.GetStringSlice("call.stun_addresses"),
		UDPPort:  uint16(viper.GetUint("call.udp_port")),
		Audio:    viper.GetBool("call.audio"),
		Video:    viper.GetBool("call.video"),
		Loopback: viper.GetBool("call.loopback"),
		Timeout:  viper.GetDuration("call.timeout"),
	}
}

func runCall(ctx context.Context, cfg CallConfig) error {
	factory, err := rtc.NewFactory(rtc.Config{
		UDPPort:         cfg.UDPPort,
		IncludeLoopback: cfg.Loopback,
		LoggerFactory:   &rtc.SlogLoggerFactory{Logger: slog.Default()},
	})
	if err != nil {
		return err
	}
	defer factory.Close()

	addr, err := cfg.RoomURL()
	if err != nil {
		return err
	}
	ws, err := gateway.Dial(ctx, gateway.Config{Addr: addr, Token: cfg.Token, MaxMessageSize: 1 << 20})
	if err != nil {
		return err
	}

	src := &media.Source{
		StreamID: "rtcall",
		Audio:    cfg.Audio,
		Video:    cfg.Video,
		OnRemote: func(t negotiation.RemoteTrack) {
			slog.Info("remote track", "id", t.ID(), "kind", t.Kind())
		},
	}

	states := make(chan negotiation.State, 16)
	sess, err := negotiation.NewSession(negotiation.Config{
		Transport:  factory,
		Media:      src,
		Sender:     ws,
		ICEServers: cfg.ICEServers(),
		Polite:     cfg.Polite,
		Logger:     slog.Default(),
		OnStateChange: func(st negotiation.State, _ negotiation.Role) {
			select {
			case states <- st:
			default:
			}
		},
		OnError: func(err error) {
			slog.Warn("session error", "err", err)
		},
	})
	if err != nil {
		ws.Close()
		return err
	}
	defer sess.Close()

	serveErr := make(chan error, 1)
	go func() { serveErr <- ws.Serve(ctx, sess) }()

	if cfg.Offer {
		slog.Info("starting call")
		if err := sess.StartCall(ctx); err != nil {
			return fmt.Errorf("start call: %w", err)
		}
	} else {
		slog.Info("waiting for offer")
	}

	timeout := time.NewTimer(cfg.Timeout)
	defer timeout.Stop()
	for {
		select {
		case st := <-states:
			switch st {
			case negotiation.StateConnected:
				slog.Info("call connected", "role", sess.Role())
				timeout.Stop()
			case negotiation.StateFailed:
				return fmt.Errorf("call failed")
			}
		case err := <-serveErr:
			if err != nil {
				return err
			}
			slog.Info("signaling channel closed")
			return nil
		case <-timeout.C:
			if sess.State() != negotiation.StateConnected {
				return fmt.Errorf("not connected after %s", cfg.Timeout)
			}
		case <-ctx.Done():
			return nil
		}
	}
}
