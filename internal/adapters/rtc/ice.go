// Package rtc holds the WebRTC settings handed to browsers. Media never
// passes through this server; peers connect to each other directly.
package rtc

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

func DefaultICEServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{
		{
			URLs: []string{"stun:stun.l.google.com:19302"},
		},
	}
}

func DefaultWebRTCConfig() webrtc.Configuration {
	return webrtc.Configuration{ICEServers: DefaultICEServers()}
}

// Configuration builds the client configuration for servers, falling back to
// the defaults when the list is empty.
func Configuration(servers []webrtc.ICEServer) webrtc.Configuration {
	if len(servers) == 0 {
		return DefaultWebRTCConfig()
	}
	return webrtc.Configuration{ICEServers: servers}
}

// Validate checks that every ICE server URL parses by letting pion build a
// throwaway peer connection with the configuration.
func Validate(cfg webrtc.Configuration) error {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return fmt.Errorf("ice servers: %w", err)
	}
	if err := pc.Close(); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Msg("close validation peer connection")
	}
	return nil
}

// ClientConfig is the JSON body served at /api/rtc/config and mirrors
// RTCConfiguration in the browser.
type ClientConfig struct {
	ICEServers         []webrtc.ICEServer `json:"iceServers"`
	ICETransportPolicy string             `json:"iceTransportPolicy"`
}

func NewClientConfig(cfg webrtc.Configuration) ClientConfig {
	policy := "all"
	if cfg.ICETransportPolicy == webrtc.ICETransportPolicyRelay {
		policy = "relay"
	}
	return ClientConfig{ICEServers: cfg.ICEServers, ICETransportPolicy: policy}
}
