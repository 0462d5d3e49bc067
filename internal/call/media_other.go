//go:build !linux || !cgo

package call

import (
	"errors"
	"log"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// noCaptureProvider fails every acquisition. Camera/mic capture via
// pion/mediadevices needs platform drivers (V4L2/malgo on Linux); on other
// platforms calls cannot be placed or accepted without local media.
type noCaptureProvider struct{}

func (noCaptureProvider) GetUserMedia(audio, video bool) (Stream, error) {
	return nil, errors.New("media capture is not supported on this platform")
}

// NewStack builds the non-Linux stack: negotiation works with default
// codecs, capture is unavailable.
func NewStack(stunServers []string) (Provider, NegotiatorFactory, error) {
	log.Printf("CALL: no media capture drivers on this platform")

	factory := func() (Negotiator, error) {
		mediaEngine := &webrtc.MediaEngine{}
		if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
			return nil, err
		}

		registry := &interceptor.Registry{}
		if err := webrtc.RegisterDefaultInterceptors(mediaEngine, registry); err != nil {
			return nil, err
		}

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

	return noCaptureProvider{}, factory, nil
}
