package calllog

import (
	"encoding/json"

	"github.com/petervdpas/parley/internal/proto"
)

type nopOut struct{}

func (nopOut) Deliver(proto.Message) bool { return true }

func inviteMsg(target string) proto.Message {
	return proto.Message{
		Type:     proto.TypeInvite,
		TargetID: target,
		Offer:    json.RawMessage(`{"type":"offer","sdp":"v=0"}`),
		Name:     "A",
		FromLang: "en",
		ToLang:   "de",
	}
}
