package bridge

import "strings"

// The embedded browser emits a steady stream of diagnostics that have
// nothing to do with the control surface: GPU and renderer process chatter,
// media pipeline warnings, blocked trackers. Those must never surface as
// operation failures. Session loss, on the other hand, is terminal and must
// propagate.

var noiseMarkers = []string{
	"gpu process",
	"gpu_",
	"swiftshader",
	"skia",
	"media_session",
	"mediasession",
	"audio renderer",
	"autoplay",
	"err_blocked_by_client",
	"favicon",
	"deprecation",
	"third-party cookie",
}

var lostMarkers = []string{
	"target closed",
	"target crashed",
	"session closed",
	"page closed",
	"browser has been closed",
	"context canceled",
	"websocket: close",
	"use of closed network connection",
}

// transientNoise reports whether err is platform chatter safe to suppress.
func transientNoise(err error) bool {
	return matchesAny(err, noiseMarkers)
}

// sessionLost reports whether err means the surface is gone for good.
func sessionLost(err error) bool {
	return matchesAny(err, lostMarkers)
}

func matchesAny(err error, markers []string) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, m := range markers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
