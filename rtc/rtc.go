// Package rtc provides the pion/webrtc implementation of the transport a
// negotiation.Session drives.
package rtc

import (
	"fmt"
	"log/slog"

	"github.com/pion/ice/v4"
	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/webrtc/v4"

	"rtcall/negotiation"
)

type Config struct {
	// UDPPort, when set, multiplexes all ICE UDP traffic on one local port.
	UDPPort uint16
	// IncludeLoopback gathers 127.0.0.1 host candidates. Useful for tests.
	IncludeLoopback bool
	// LoggerFactory defaults to a slog bridge over slog.Default().
	LoggerFactory logging.LoggerFactory
}

// Factory builds peer connections sharing one media engine, interceptor
// registry and setting engine.
type Factory struct {
	api *webrtc.API
	mux ice.UDPMux
}

var _ negotiation.TransportFactory = (*Factory)(nil)

func NewFactory(cfg Config) (*Factory, error) {
	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("register codecs: %w", err)
	}
	i := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, i); err != nil {
		return nil, fmt.Errorf("register interceptors: %w", err)
	}

	se := webrtc.SettingEngine{}
	se.LoggerFactory = cfg.LoggerFactory
	if se.LoggerFactory == nil {
		se.LoggerFactory = &SlogLoggerFactory{}
	}
	se.SetIncludeLoopbackCandidate(cfg.IncludeLoopback)

	f := &Factory{}
	if cfg.UDPPort != 0 {
		mux, err := ice.NewMultiUDPMuxFromPort(int(cfg.UDPPort))
		if err != nil {
			return nil, fmt.Errorf("udp mux on port %d: %w", cfg.UDPPort, err)
		}
		se.SetICEUDPMux(mux)
		f.mux = mux
		slog.Info("ice udp mux listening", "port", cfg.UDPPort)
	}

	f.api = webrtc.NewAPI(
		webrtc.WithMediaEngine(m),
		webrtc.WithInterceptorRegistry(i),
		webrtc.WithSettingEngine(se),
	)
	return f, nil
}

// NewTransport creates a PeerConnection using iceServers and wires its
// callbacks to events.
func (f *Factory) NewTransport(iceServers []webrtc.ICEServer, events negotiation.TransportEvents) (negotiation.Transport, error) {
	pc, err := f.api.NewPeerConnection(webrtc.Configuration{ICEServers: iceServers})
	if err != nil {
		return nil, err
	}
	slog.Debug("peer connection created", "ice_servers", len(iceServers))
	return newPeerConnection(pc, events), nil
}

// Close releases the shared UDP mux, if any.
func (f *Factory) Close() error {
	if f.mux != nil {
		return f.mux.Close()
	}
	return nil
}
