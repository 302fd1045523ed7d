// Package media implements the media capability of a call: it hands out
// local tracks, optionally behind a permission prompt, and collects the
// tracks received from the peer.
package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pion/webrtc/v4"

	"rtcall/negotiation"
)

var (
	ErrNoDevice         = errors.New("media: no capture device")
	ErrPermissionDenied = errors.New("media: permission denied")
)

// Source creates one audio and/or one video sample track per acquisition.
type Source struct {
	StreamID string
	Audio    bool
	Video    bool

	// Permission, if set, is awaited before tracks are created.
	Permission func(ctx context.Context) error

	// OnRemote, if set, is called for every remote track.
	OnRemote func(negotiation.RemoteTrack)

	mu     sync.Mutex
	remote []negotiation.RemoteTrack
}

var _ negotiation.Media = (*Source)(nil)

func (s *Source) AcquireLocalTracks(ctx context.Context) ([]webrtc.TrackLocal, error) {
	if !s.Audio && !s.Video {
		return nil, ErrNoDevice
	}
	if s.Permission != nil {
		if err := s.Permission(ctx); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	streamID := s.StreamID
	if streamID == "" {
		streamID = "rtcall"
	}

	var tracks []webrtc.TrackLocal
	if s.Audio {
		t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
		if err != nil {
			return nil, fmt.Errorf("audio track: %w", err)
		}
		tracks = append(tracks, t)
	}
	if s.Video {
		t, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
		if err != nil {
			return nil, fmt.Errorf("video track: %w", err)
		}
		tracks = append(tracks, t)
	}
	slog.Debug("local tracks acquired", "stream", streamID, "count", len(tracks))
	return tracks, nil
}

func (s *Source) OnRemoteTrack(t negotiation.RemoteTrack) {
	s.mu.Lock()
	s.remote = append(s.remote, t)
	s.mu.Unlock()

	if s.OnRemote != nil {
		s.OnRemote(t)
	}
}

// RemoteTracks returns the tracks received so far.
func (s *Source) RemoteTracks() []negotiation.RemoteTrack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]negotiation.RemoteTrack(nil), s.remote...)
}
