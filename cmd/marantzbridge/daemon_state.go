package main

import (
	"maps"
	"time"

	"marantzbridge/internal/protocol"
)

// ReceiverState is the daemon's last-known view of the receiver, built
// only from what the receiver reported. It is owned by the state tracker
// goroutine; everyone else gets a Clone.
type ReceiverState struct {
	Connected   bool      `json:"connected"`
	ConnectedAt time.Time `json:"connected_at,omitzero"`

	Power     string `json:"power,omitempty"`
	MainZone  string `json:"main_zone,omitempty"`
	Muted     *bool  `json:"muted,omitempty"`
	Input     string `json:"input,omitempty"`
	SoundMode string `json:"sound_mode,omitempty"`

	Volume    *protocol.VolumePayload `json:"volume,omitempty"`
	MaxVolume *protocol.VolumePayload `json:"max_volume,omitempty"`

	// ChannelLevels is keyed by channel code (FL, C, SW, ...), in dB.
	ChannelLevels map[string]float64 `json:"channel_levels,omitempty"`

	Zone2      Zone2State      `json:"zone2"`
	Tuner      TunerState      `json:"tuner"`
	NowPlaying NowPlayingState `json:"now_playing"`

	// Settings holds the latest payload of every other reported kind, keyed
	// by push channel name (dialog_level_update, mdax_update, ...).
	Settings map[string]protocol.Payload `json:"settings,omitempty"`

	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

type Zone2State struct {
	Power  string                  `json:"power,omitempty"`
	Muted  *bool                   `json:"muted,omitempty"`
	Input  string                  `json:"input,omitempty"`
	Volume *protocol.VolumePayload `json:"volume,omitempty"`
}

type TunerState struct {
	Band      string `json:"band,omitempty"`
	Mode      string `json:"mode,omitempty"`
	Frequency string `json:"frequency,omitempty"`
	Name      string `json:"name,omitempty"`
	Preset    string `json:"preset,omitempty"`
}

type NowPlayingState struct {
	Title      string `json:"title,omitempty"`
	Artist     string `json:"artist,omitempty"`
	Album      string `json:"album,omitempty"`
	SampleRate string `json:"sample_rate,omitempty"`
	Station    string `json:"station,omitempty"`
	PlayState  string `json:"play_state,omitempty"`
	Time       string `json:"time,omitempty"`
	Percent    *int   `json:"percent,omitempty"`
}

// Clone returns a deep copy that shares nothing mutable with s.
func (s ReceiverState) Clone() ReceiverState {
	out := s
	out.Muted = clonePtr(s.Muted)
	out.Volume = clonePtr(s.Volume)
	out.MaxVolume = clonePtr(s.MaxVolume)
	out.ChannelLevels = maps.Clone(s.ChannelLevels)
	out.Settings = maps.Clone(s.Settings)
	out.Zone2.Muted = clonePtr(s.Zone2.Muted)
	out.Zone2.Volume = clonePtr(s.Zone2.Volume)
	out.NowPlaying.Percent = clonePtr(s.NowPlaying.Percent)
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
