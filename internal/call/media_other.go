//go:build !linux

package call

import (
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"
)

// openMedia on platforms without a mediadevices driver set always receives
// only. A capture request surfaces that as a notice.
func openMedia(id string, want Capture, level string) (*webrtc.API, attachFunc, error) {
	me := &webrtc.MediaEngine{}
	if err := me.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
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

	notice := ""
	if want != CaptureNone {
		notice = "local capture is not supported on this platform, receive-only"
	}
	return api, receiveOnly(id, notice), nil
}
