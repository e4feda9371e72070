package call

import (
	"log"
	"time"

	"github.com/pion/webrtc/v4"
)

// attachFunc adds local media to a fresh connection. It returns a release
// func for the capture devices (may be nil) and a user-facing notice when
// capture fell short of what was requested.
type attachFunc func(pc *webrtc.PeerConnection) (release func(), notice string)

// settingEngine keeps brief path outages from ending the call before the
// supervisor gets a chance to restart ICE.
func settingEngine(level string) webrtc.SettingEngine {
	se := webrtc.SettingEngine{}
	se.SetICETimeouts(10*time.Second, 30*time.Second, 2*time.Second)
	se.LoggerFactory = NewLoggerFactory(level)
	return se
}

// addRecvOnlyTransceivers keeps both m-lines in the SDP so a side without
// devices can still receive.
func addRecvOnlyTransceivers(id string, pc *webrtc.PeerConnection, kinds ...webrtc.RTPCodecType) {
	if len(kinds) == 0 {
		kinds = []webrtc.RTPCodecType{webrtc.RTPCodecTypeAudio, webrtc.RTPCodecTypeVideo}
	}
	for _, k := range kinds {
		if _, err := pc.AddTransceiverFromKind(k, webrtc.RTPTransceiverInit{
			Direction: webrtc.RTPTransceiverDirectionRecvonly,
		}); err != nil {
			log.Printf("CALL [%s]: AddTransceiver(%s) error: %v", id, k, err)
		}
	}
}

func iceServers(urls []string) []webrtc.ICEServer {
	if len(urls) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: urls}}
}

// receiveOnly is the attach step when no capture is wanted or possible.
func receiveOnly(id string, notice string) attachFunc {
	return func(pc *webrtc.PeerConnection) (func(), string) {
		addRecvOnlyTransceivers(id, pc)
		return nil, notice
	}
}
