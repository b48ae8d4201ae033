// Package media adapts pion/webrtc to the call engine's peer and track
// interfaces.
package media

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/pion/webrtc/v4"

	"chat-client/internal/call"
	"chat-client/internal/models"
)

// PeerFactory builds pion peer connections sharing one ICE configuration.
type PeerFactory struct {
	config webrtc.Configuration
}

// NewPeerFactory configures ICE with the given STUN/TURN urls.
func NewPeerFactory(iceURLs []string) *PeerFactory {
	var servers []webrtc.ICEServer
	for _, u := range iceURLs {
		if u = strings.TrimSpace(u); u != "" {
			servers = append(servers, webrtc.ICEServer{URLs: []string{u}})
		}
	}
	return &PeerFactory{
		config: webrtc.Configuration{ICEServers: servers},
	}
}

func (f *PeerFactory) NewPeerConnection() (call.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(f.config)
	if err != nil {
		return nil, err
	}
	return &peerConnection{pc: pc}, nil
}

type peerConnection struct {
	pc *webrtc.PeerConnection
}

func (p *peerConnection) AddTrack(track call.LocalTrack) error {
	local, ok := track.(*Track)
	if !ok {
		return fmt.Errorf("track %s is not a webrtc track", track.ID())
	}
	_, err := p.pc.AddTrack(local.track)
	return err
}

func (p *peerConnection) CreateOffer(ctx context.Context) (models.SessionDescription, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return models.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return models.SessionDescription{}, err
	}
	return models.SessionDescription{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (p *peerConnection) CreateAnswer(ctx context.Context) (models.SessionDescription, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return models.SessionDescription{}, err
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return models.SessionDescription{}, err
	}
	return models.SessionDescription{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (p *peerConnection) SetRemoteDescription(sd models.SessionDescription) error {
	sdpType := webrtc.NewSDPType(sd.Type)
	if sdpType == webrtc.SDPTypeUnknown {
		return fmt.Errorf("unknown sdp type %q", sd.Type)
	}
	return p.pc.SetRemoteDescription(webrtc.SessionDescription{Type: sdpType, SDP: sd.SDP})
}

func (p *peerConnection) AddICECandidate(c models.Candidate) error {
	return p.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFragment,
	})
}

// OnICECandidate forwards gathered candidates. The end-of-gathering signal is
// not forwarded.
func (p *peerConnection) OnICECandidate(fn func(models.Candidate)) {
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		fn(models.Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})
}

func (p *peerConnection) OnConnectionStateChange(fn func(call.ConnectionState)) {
	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		fn(call.ConnectionState(state.String()))
	})
}

func (p *peerConnection) OnRemoteTrack(fn func()) {
	p.pc.OnTrack(func(*webrtc.TrackRemote, *webrtc.RTPReceiver) {
		fn()
	})
}

func (p *peerConnection) Close() error {
	return p.pc.Close()
}

// Track is a local sample track.
type Track struct {
	track *webrtc.TrackLocalStaticSample

	mu      sync.Mutex
	stopped bool
}

func (t *Track) ID() string   { return t.track.ID() }
func (t *Track) Kind() string { return t.track.Kind().String() }

// Stop marks the track as ended.
func (t *Track) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
	return nil
}

// Stopped reports whether Stop was called.
func (t *Track) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

// SampleSource provides an opus audio track, plus a VP8 video track when Video
// is set. A capture pipeline writes encoded samples into the returned tracks.
type SampleSource struct {
	StreamID string
	Video    bool
}

func (s SampleSource) Acquire(ctx context.Context) ([]call.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	streamID := s.StreamID
	if streamID == "" {
		streamID = "chat-client"
	}

	audio, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", streamID)
	if err != nil {
		return nil, fmt.Errorf("audio track: %w", err)
	}
	tracks := []call.LocalTrack{&Track{track: audio}}

	if s.Video {
		video, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", streamID)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("video track: %w", err), tracks[0].Stop())
		}
		tracks = append(tracks, &Track{track: video})
	}
	return tracks, nil
}
