//go:build linux && cgo

package call

import (
	"errors"
	"log"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	_ "github.com/pion/mediadevices/pkg/driver/camera"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/frame"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
)

// deviceTrack wraps a mediadevices track behind the Track seam. Enable
// toggles are a local flag only; the capture keeps running so unmute is
// instant and needs no renegotiation.
type deviceTrack struct {
	t        mediadevices.Track
	disabled bool
}

func (d *deviceTrack) Kind() string {
	if d.t.Kind() == webrtc.RTPCodecTypeVideo {
		return "video"
	}
	return "audio"
}

func (d *deviceTrack) SetEnabled(on bool) { d.disabled = !on }
func (d *deviceTrack) Enabled() bool      { return !d.disabled }

func (d *deviceTrack) Stop() {
	if err := d.t.Close(); err != nil {
		log.Printf("CALL: close %s track: %v", d.Kind(), err)
	}
}

func (d *deviceTrack) Unwrap() webrtc.TrackLocal { return d.t }

type deviceStream struct {
	tracks []Track
}

func (s *deviceStream) Tracks() []Track { return s.tracks }

// deviceProvider captures camera/mic via pion/mediadevices (V4L2 + malgo).
type deviceProvider struct {
	selector *mediadevices.CodecSelector
}

// GetUserMedia fails as a unit if either requested track can't be opened.
// For video calls, fall back to audio-only before giving up so a missing or
// busy camera does not prevent the call entirely.
func (p *deviceProvider) GetUserMedia(audio, video bool) (Stream, error) {
	type attempt struct {
		video bool
		label string
	}
	attempts := []attempt{{video, "requested"}}
	if video {
		attempts = append(attempts, attempt{false, "audio-only"})
	}

	var lastErr error
	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{Codec: p.selector}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// Exclude MJPEG — some cameras expose an MJPEG node that
				// produces malformed frames and poisons the VP8 encoder.
				c.FrameFormat = prop.FrameFormatOneOf{
					frame.FormatYUYV,
					frame.FormatI420,
					frame.FormatI444,
					frame.FormatRGBA,
				}
				c.Width = prop.IntRanged{Max: 640}
				c.Height = prop.IntRanged{Max: 480}
			}
		}
		if audio {
			constraints.Audio = func(_ *mediadevices.MediaTrackConstraints) {}
		}

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Printf("CALL: GetUserMedia (%s) failed: %v", a.label, err)
			lastErr = err
			continue
		}

		raw := stream.GetTracks()
		out := &deviceStream{}
		for _, t := range raw {
			t.OnEnded(func(err error) {
				if err != nil {
					log.Printf("CALL: local track ended: %v", err)
				}
			})
			out.tracks = append(out.tracks, &deviceTrack{t: t})
		}
		log.Printf("CALL: local media captured (%s), %d tracks", a.label, len(raw))
		return out, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no media devices available")
	}
	return nil, lastErr
}

// NewStack builds the platform media provider and negotiator factory with a
// shared codec configuration: the encoders mediadevices captures with must
// be the codecs the peer connection negotiates.
func NewStack(stunServers []string) (Provider, NegotiatorFactory, error) {
	vpxParams, err := vpx.NewVP8Params()
	if err != nil {
		return nil, nil, err
	}
	vpxParams.BitRate = 1_500_000 // 1.5 Mbps

	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, nil, err
	}

	selector := mediadevices.NewCodecSelector(
		mediadevices.WithVideoEncoders(&vpxParams),
		mediadevices.WithAudioEncoders(&opusParams),
	)

	devices := mediadevices.EnumerateDevices()
	if len(devices) == 0 {
		log.Printf("CALL: no media devices found by pion/mediadevices")
	} else {
		for _, d := range devices {
			log.Printf("CALL: media device kind=%v label=%q", d.Kind, d.Label)
		}
	}

	factory := func() (Negotiator, error) {
		mediaEngine := &webrtc.MediaEngine{}
		selector.Populate(mediaEngine)

		registry := &interceptor.Registry{}
		if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
			return nil, err
		}

		// Generous ICE timeouts so a brief relay/NAT hiccup does not
		// immediately terminate the call. The default disconnectedTimeout
		// of 5s is far too short for relay paths.
		se := webrtc.SettingEngine{}
		se.SetICETimeouts(30*time.Second, 120*time.Second, 2*time.Second)

		api := webrtc.NewAPI(
			webrtc.WithMediaEngine(mediaEngine),
			webrtc.WithInterceptorRegistry(registry),
			webrtc.WithSettingEngine(se),
		)
		pc, err := api.NewPeerConnection(webrtc.Configuration{
			ICEServers: []webrtc.ICEServer{{URLs: stunServers}},
		})
		if err != nil {
			return nil, err
		}
		return newPionNegotiator(pc), nil
	}

	return &deviceProvider{selector: selector}, factory, nil
}
