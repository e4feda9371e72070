//go:build linux

package call

import (
	"log"

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

// openMedia builds the API for a session. With capture requested the codec
// set comes from the mediadevices encoders; otherwise pion's defaults.
func openMedia(id string, want Capture, level string) (*webrtc.API, attachFunc, error) {
	me := &webrtc.MediaEngine{}
	var selector *mediadevices.CodecSelector

	if want == CaptureNone {
		if err := me.RegisterDefaultCodecs(); err != nil {
			return nil, nil, err
		}
	} else {
		vpxParams, err := vpx.NewVP8Params()
		if err != nil {
			return nil, nil, err
		}
		vpxParams.BitRate = 1_000_000

		opusParams, err := opus.NewParams()
		if err != nil {
			return nil, nil, err
		}
		selector = mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(&vpxParams),
			mediadevices.WithAudioEncoders(&opusParams),
		)
		selector.Populate(me)
	}

	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(me, ir); err != nil {
		return nil, nil, err
	}
	api := webrtc.NewAPI(
		webrtc.WithMediaEngine(me),
		webrtc.WithInterceptorRegistry(ir),
		webrtc.WithSettingEngine(settingEngine(level)),
	)

	if want == CaptureNone {
		return api, receiveOnly(id, ""), nil
	}
	return api, func(pc *webrtc.PeerConnection) (func(), string) {
		return captureLocal(id, pc, selector, want == CaptureAudioVideo)
	}, nil
}

// captureLocal tries audio+video, then audio only. Whatever could not be
// opened is received only.
func captureLocal(id string, pc *webrtc.PeerConnection, selector *mediadevices.CodecSelector, video bool) (func(), string) {
	type attempt struct {
		video bool
		label string
	}
	attempts := []attempt{{false, "audio-only"}}
	if video {
		attempts = append([]attempt{{true, "audio+video"}}, attempts...)
	}

	for _, a := range attempts {
		constraints := mediadevices.MediaStreamConstraints{
			Codec: selector,
			Audio: func(_ *mediadevices.MediaTrackConstraints) {},
		}
		if a.video {
			constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
				// MJPEG nodes on some cameras hand the encoder malformed frames.
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

		stream, err := mediadevices.GetUserMedia(constraints)
		if err != nil {
			log.Printf("CALL [%s]: GetUserMedia (%s) failed: %v", id, a.label, err)
			continue
		}

		tracks := stream.GetTracks()
		for _, track := range tracks {
			track.OnEnded(func(err error) {
				if err != nil {
					log.Printf("CALL [%s]: local track ended: %v", id, err)
				}
			})
			if _, err := pc.AddTrack(track); err != nil {
				log.Printf("CALL [%s]: AddTrack error: %v", id, err)
			}
		}
		log.Printf("CALL [%s]: local media captured (%s), %d tracks", id, a.label, len(tracks))

		notice := ""
		if video && !a.video {
			notice = "camera unavailable, continuing with audio only"
			addRecvOnlyTransceivers(id, pc, webrtc.RTPCodecTypeVideo)
		}
		release := func() {
			for _, t := range tracks {
				t.Close()
			}
		}
		return release, notice
	}

	log.Printf("CALL [%s]: all capture attempts failed, receive-only", id)
	addRecvOnlyTransceivers(id, pc)
	return nil, "no microphone or camera available, you can listen but not be heard"
}
