package main

import (
	"strconv"
	"strings"
	"unicode"

	"marantzbridge/internal/protocol"
)

// Push channel names, as seen by WebSocket clients.
const (
	channelStateInit            = "state_init"
	channelInputNames           = "input_names_update"
	channelReceiverConnected    = "receiver_connected"
	channelReceiverDisconnected = "receiver_disconnected"
	channelUnrecognized         = "unrecognized_line"
	channelIPUpdateSuccess      = "ip_update_success"
	channelIPUpdateError        = "ip_update_error"
)

// channelOverrides holds the kinds whose channel names existing web
// clients already listen on and which the generic rule would not produce.
var channelOverrides = map[protocol.EventKind]string{
	protocol.PowerState:           "power_update",
	protocol.MuteState:            "mute_update",
	protocol.ChannelLevelListEnd:  "channel_level_list_end",
	protocol.SubwooferLevel:       "sub_level_adjust_update",
	protocol.NowPlayingSampleRate: "now_playing_samplerate_update",
	protocol.Zone2Input:           "zone2_input_source_update",
	protocol.DigitalInput:         "digital_control_update",
	protocol.SignalDetect:         "sound_detail_update",

	protocol.ReceiverConnected:    channelReceiverConnected,
	protocol.ReceiverDisconnected: channelReceiverDisconnected,
	protocol.Unrecognized:         channelUnrecognized,
}

var channelNames = buildChannelNames()

func buildChannelNames() map[protocol.EventKind]string {
	m := make(map[protocol.EventKind]string)
	for _, k := range protocol.Kinds() {
		if name, ok := channelOverrides[k]; ok {
			m[k] = name
			continue
		}
		m[k] = snakeCase(k.String()) + "_update"
	}
	return m
}

// channelName maps an event kind to its push channel, e.g. Volume ->
// "volume_update", ChannelLevel -> "channel_level_update".
func channelName(k protocol.EventKind) string {
	if name, ok := channelNames[k]; ok {
		return name
	}
	return snakeCase(k.String()) + "_update"
}

// eventChannel is channelName refined by payload: each trigger output has
// its own channel (trigger_1_update, trigger_2_update, ...).
func eventChannel(ev protocol.Event) string {
	if p, ok := ev.Payload.(protocol.TriggerPayload); ok && ev.Kind == protocol.Trigger {
		return "trigger_" + strconv.Itoa(p.Trigger) + "_update"
	}
	return channelName(ev.Kind)
}

// snakeCase turns "CinemaEQ" into "cinema_eq" and "Zone2Power" into
// "zone2_power". A run of capitals stays one word.
func snakeCase(s string) string {
	r := []rune(s)
	var b strings.Builder
	for i, c := range r {
		if unicode.IsUpper(c) && i > 0 {
			prev := r[i-1]
			nextLower := i+1 < len(r) && unicode.IsLower(r[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(c))
	}
	return b.String()
}
