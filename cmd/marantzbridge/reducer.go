package main

import (
	"time"

	"marantzbridge/internal/protocol"
)

// Reduce folds one event into the receiver state. It performs no I/O and
// reports whether the event changed what the daemon knows. Only the state
// tracker goroutine may call it.
func Reduce(s *ReceiverState, ev protocol.Event, now time.Time) bool {
	if s == nil {
		return false
	}

	switch p := ev.Payload.(type) {
	case protocol.StatePayload:
		switch ev.Kind {
		case protocol.PowerState:
			s.Power = p.State
		case protocol.MainZonePower:
			s.MainZone = p.State
		case protocol.MuteState:
			s.Muted = boolPtr(p.State == "on")
		case protocol.Zone2Power:
			s.Zone2.Power = p.State
		case protocol.Zone2Mute:
			s.Zone2.Muted = boolPtr(p.State == "on")
		case protocol.PlayState:
			s.NowPlaying.PlayState = p.State
		default:
			s.setSetting(ev, p)
		}

	case protocol.VolumePayload:
		v := p
		switch ev.Kind {
		case protocol.Volume:
			s.Volume = &v
		case protocol.MaxVolume:
			s.MaxVolume = &v
		case protocol.Zone2Volume:
			s.Zone2.Volume = &v
		default:
			return false
		}

	case protocol.SourcePayload:
		switch ev.Kind {
		case protocol.InputSource:
			s.Input = p.Source
		case protocol.Zone2Input:
			s.Zone2.Input = p.Source
		default:
			s.setSetting(ev, p)
		}

	case protocol.ModePayload:
		s.SoundMode = p.Mode

	case protocol.ChannelLevelPayload:
		if s.ChannelLevels == nil {
			s.ChannelLevels = make(map[string]float64)
		}
		s.ChannelLevels[p.Channel] = p.DB

	case protocol.TunerModePayload:
		s.Tuner.Band = p.Band
		s.Tuner.Mode = p.Mode
	case protocol.FrequencyPayload:
		s.Tuner.Frequency = p.Frequency
	case protocol.NamePayload:
		s.Tuner.Name = p.Name
	case protocol.PresetPayload:
		s.Tuner.Preset = p.Preset

	case protocol.TextPayload:
		switch ev.Kind {
		case protocol.NowPlayingTitle:
			s.NowPlaying.Title = p.Text
		case protocol.NowPlayingArtist:
			s.NowPlaying.Artist = p.Text
		case protocol.NowPlayingAlbum:
			s.NowPlaying.Album = p.Text
		case protocol.NowPlayingSampleRate:
			s.NowPlaying.SampleRate = p.Text
		case protocol.StationInfo:
			s.NowPlaying.Station = p.Text
		default:
			// On-screen text is transient; it is pushed but not kept.
			return false
		}

	case protocol.PlayProgressPayload:
		if p.Time != "" {
			s.NowPlaying.Time = p.Time
		}
		if p.Percent != nil {
			s.NowPlaying.Percent = clonePtr(p.Percent)
		}

	case protocol.ConnectivityPayload:
		switch ev.Kind {
		case protocol.ReceiverConnected:
			s.Connected = true
			s.ConnectedAt = now
		case protocol.ReceiverDisconnected:
			s.Connected = false
		default:
			return false
		}

	case protocol.RawPayload, protocol.EmptyPayload, protocol.MenuItemPayload, nil:
		return false

	default:
		s.setSetting(ev, p)
	}

	s.UpdatedAt = now
	return true
}

func (s *ReceiverState) setSetting(ev protocol.Event, p protocol.Payload) {
	if s.Settings == nil {
		s.Settings = make(map[string]protocol.Payload)
	}
	s.Settings[eventChannel(ev)] = p
}

func boolPtr(b bool) *bool { return &b }
