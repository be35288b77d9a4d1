package command

import "fmt"

func action(name, code, desc string) Spec {
	return Spec{Name: name, Template: code, Kind: Action, Description: desc}
}

func query(name, code, desc string) Spec {
	return Spec{Name: name, Template: code, Kind: Query, Description: desc}
}

func setter(name, template string, enc Encoder, desc string) Spec {
	return Spec{Name: name, Template: template, Kind: Setter, Encode: enc, Description: desc}
}

func catalog() [][]Spec {
	return [][]Spec{
		powerCommands(),
		volumeCommands(),
		inputCommands(),
		soundCommands(),
		zone2Commands(),
		systemCommands(),
		navigationCommands(),
		tunerCommands(),
		audioCommands(),
		channelLevelCommands(),
		videoCommands(),
		groupCommands(),
	}
}

// ============================================================================
// Main zone
// ============================================================================

func powerCommands() []Spec {
	return []Spec{
		action("POWER_ON", "PWON", "Turns the receiver on."),
		action("POWER_STANDBY", "PWSTANDBY", "Puts the receiver in standby."),
		query("POWER_QUERY", "PW?", "Queries the power status."),
		action("MAIN_ZONE_ON", "ZMON", "Turns the main zone on."),
		action("MAIN_ZONE_OFF", "ZMOFF", "Turns the main zone off."),
		query("MAIN_ZONE_QUERY", "ZM?", "Queries the main zone power status."),
	}
}

func volumeCommands() []Spec {
	return []Spec{
		setter("VOLUME_SET", "MV{value}", halfStep(0, 98), "Sets main volume (0-98, 0.5 steps)."),
		action("VOLUME_UP", "MVUP", "Raises main volume one step."),
		action("VOLUME_DOWN", "MVDOWN", "Lowers main volume one step."),
		query("VOLUME_QUERY", "MV?", "Queries main and maximum volume."),
		action("MUTE_ON", "MUON", "Mutes the main zone."),
		action("MUTE_OFF", "MUOFF", "Unmutes the main zone."),
		query("MUTE_QUERY", "MU?", "Queries the main zone mute status."),
	}
}

func inputCommands() []Spec {
	inputs := []struct{ name, code string }{
		{"PHONO", "PHONO"},
		{"CD", "CD"},
		{"TUNER", "TUNER"},
		{"DVD", "DVD"},
		{"BD", "BD"},
		{"TV", "TV"},
		{"SAT_CBL", "SAT/CBL"},
		{"GAME", "GAME"},
		{"MPLAY", "MPLAY"},
		{"USB_IPOD", "USB/IPOD"},
		{"BT", "BT"},
		{"IRADIO", "IRADIO"},
		{"NET", "NET"},
		{"PANDORA", "PANDORA"},
		{"FAVORITES", "FAVORITES"},
		{"AUX1", "AUX1"},
		{"AUX2", "AUX2"},
	}
	out := make([]Spec, 0, len(inputs)+1)
	for _, in := range inputs {
		out = append(out, action("INPUT_"+in.name, "SI"+in.code, fmt.Sprintf("Selects the %s input.", in.code)))
	}
	return append(out, query("INPUT_QUERY", "SI?", "Queries the current input source."))
}

func soundCommands() []Spec {
	out := []Spec{
		action("SOUND_MODE_MOVIE", "MSMOVIE", "Selects or cycles the MOVIE sound modes."),
		action("SOUND_MODE_MUSIC", "MSMUSIC", "Selects or cycles the MUSIC sound modes."),
		action("SOUND_MODE_GAME", "MSGAME", "Selects or cycles the GAME sound modes."),
		action("SOUND_MODE_DOLBY", "MSDOLBY DIGITAL", "Selects DOLBY DIGITAL."),
		action("SOUND_MODE_DTS", "MSDTS SURROUND", "Selects DTS SURROUND."),
		action("SOUND_MODE_MCH_STEREO", "MSMCH STEREO", "Selects MCH STEREO."),
		action("SOUND_MODE_VIRTUAL", "MSVIRTUAL", "Selects VIRTUAL."),
		action("SOUND_MODE_DIRECT", "MSDIRECT", "Selects DIRECT."),
		action("SOUND_MODE_PURE_DIRECT", "MSPURE DIRECT", "Selects PURE DIRECT."),
		action("SOUND_MODE_STEREO", "MSSTEREO", "Selects STEREO."),
		action("SOUND_MODE_AUTO", "MSAUTO", "Selects AUTO."),
		query("SOUND_MODE_QUERY", "MS?", "Queries the current sound mode."),
	}
	for i := 1; i <= 4; i++ {
		out = append(out, action(fmt.Sprintf("SMART_SELECT_%d", i), fmt.Sprintf("MSSMART%d", i), fmt.Sprintf("Recalls Smart Select %d.", i)))
	}
	return out
}

// ============================================================================
// Zone 2
// ============================================================================

func zone2Commands() []Spec {
	return []Spec{
		action("ZONE2_ON", "Z2ON", "Turns Zone 2 on."),
		action("ZONE2_OFF", "Z2OFF", "Turns Zone 2 off."),
		setter("ZONE2_VOLUME_SET", "Z2{value}", integer(0, 98, "%02d"), "Sets Zone 2 volume (0-98)."),
		action("ZONE2_VOLUME_UP", "Z2UP", "Raises Zone 2 volume one step."),
		action("ZONE2_VOLUME_DOWN", "Z2DOWN", "Lowers Zone 2 volume one step."),
		action("ZONE2_MUTE_ON", "Z2MUON", "Mutes Zone 2."),
		action("ZONE2_MUTE_OFF", "Z2MUOFF", "Unmutes Zone 2."),
		action("ZONE2_SOURCE_CD", "Z2CD", "Sets the Zone 2 source to CD."),
		action("ZONE2_SOURCE_DVD", "Z2DVD", "Sets the Zone 2 source to DVD."),
		action("ZONE2_SOURCE_BLUETOOTH", "Z2BT", "Sets the Zone 2 source to Bluetooth."),
		action("ZONE2_SOURCE_TUNER", "Z2TUNER", "Sets the Zone 2 source to Tuner."),
		action("ZONE2_SOURCE_FAVORITES", "Z2FVP", "Sets the Zone 2 source to Favorites."),
		action("ZONE2_SOURCE_MAIN", "Z2SOURCE", "Makes Zone 2 follow the main zone source."),
		query("ZONE2_QUERY", "Z2?", "Queries Zone 2 power, source and volume."),
		query("ZONE2_MUTE_QUERY", "Z2MU?", "Queries the Zone 2 mute status."),
	}
}

// ============================================================================
// System
// ============================================================================

func systemCommands() []Spec {
	return []Spec{
		setter("SLEEP_SET", "SLP{value}", integer(1, 120, "%03d"), "Sets the sleep timer in minutes (1-120)."),
		action("SLEEP_OFF", "SLPOFF", "Turns the sleep timer off."),
		query("SLEEP_QUERY", "SLP?", "Queries the sleep timer."),

		action("SYSTEM_REMOTE_LOCK_ON", "SYREMOTE LOCK ON", "Locks the remote."),
		action("SYSTEM_REMOTE_LOCK_OFF", "SYREMOTE LOCK OFF", "Unlocks the remote."),
		query("SYSTEM_REMOTE_LOCK_QUERY", "SYREMOTE LOCK?", "Queries the remote lock."),
		action("SYSTEM_PANEL_LOCK_ON", "SYPANEL LOCK ON", "Locks the front panel."),
		action("SYSTEM_PANEL_LOCK_OFF", "SYPANEL LOCK OFF", "Unlocks the front panel."),
		action("SYSTEM_PANEL_V_LOCK_ON", "SYPANEL+V LOCK ON", "Locks the front panel and volume knob."),
		query("SYSTEM_PANEL_LOCK_QUERY", "SYPANEL LOCK?", "Queries the panel lock."),

		action("TRIGGER_1_ON", "TR1 ON", "Turns trigger 1 on."),
		action("TRIGGER_1_OFF", "TR1 OFF", "Turns trigger 1 off."),
		action("TRIGGER_2_ON", "TR2 ON", "Turns trigger 2 on."),
		action("TRIGGER_2_OFF", "TR2 OFF", "Turns trigger 2 off."),
		query("TRIGGER_QUERY", "TR?", "Queries the trigger outputs."),

		action("ECO_MODE_ON", "ECOON", "Turns ECO mode on."),
		action("ECO_MODE_AUTO", "ECOAUTO", "Sets ECO mode to auto."),
		action("ECO_MODE_OFF", "ECOOFF", "Turns ECO mode off."),
		query("ECO_MODE_QUERY", "ECO?", "Queries ECO mode."),
	}
}

// ============================================================================
// On-screen navigation and playback
// ============================================================================

func navigationCommands() []Spec {
	return []Spec{
		action("CURSOR_UP", "MNCUP", "Moves the cursor up."),
		action("CURSOR_DOWN", "MNCDN", "Moves the cursor down."),
		action("CURSOR_LEFT", "MNCLT", "Moves the cursor left."),
		action("CURSOR_RIGHT", "MNCRT", "Moves the cursor right."),
		action("CURSOR_ENTER", "MNENT", "Selects the current item."),
		action("MENU_SETUP_ON", "MNMEN ON", "Opens the setup menu."),
		action("MENU_SETUP_OFF", "MNMEN OFF", "Closes the setup menu."),
		action("MENU_BACK", "MNRTN", "Goes back one menu level."),
		action("MENU_INFO", "MNINF", "Shows the info screen."),
		action("MENU_OPTION", "MNOPT", "Shows the option menu."),

		action("PLAY_PAUSE_TOGGLE", "NS94", "Toggles play/pause for network sources."),
		action("PLAY_NEXT", "NS9D", "Skips to the next track."),
		action("PLAY_PREVIOUS", "NS9E", "Goes to the previous track."),
		action("PANDORA_PLAY_PAUSE_TOGGLE", "NS9A", "Toggles play/pause for Pandora."),
		query("NOW_PLAYING_FORCE_QUERY", "NSE", "Requests a full now playing screen."),
	}
}

// ============================================================================
// Tuner
// ============================================================================

func tunerCommands() []Spec {
	return []Spec{
		setter("TUNER_FREQ_SET_ANALOG", "TFAN{value}", digits(4, 6), "Sets the analog tuner frequency (010570 = 105.70 MHz)."),
		setter("TUNER_FREQ_SET_HD", "TFHD{value}", digits(4, 7), "Sets the HD tuner frequency."),
		action("TUNER_TUNE_UP", "TFANUP", "Tunes the analog frequency up."),
		action("TUNER_TUNE_DOWN", "TFANDOWN", "Tunes the analog frequency down."),
		action("TUNER_FREQ_HD_UP", "TFHDUP", "Tunes the HD frequency up."),
		action("TUNER_FREQ_HD_DOWN", "TFHDDOWN", "Tunes the HD frequency down."),
		action("TUNER_MODE_AM", "TMANAM", "Sets the tuner band to AM."),
		action("TUNER_MODE_FM", "TMANFM", "Sets the tuner band to FM."),
		action("TUNER_MODE_AUTO", "TMANAUTO", "Sets analog tuning to auto."),
		action("TUNER_MODE_MANUAL", "TMANMANUAL", "Sets analog tuning to manual."),
		action("TUNER_MODE_HD_AM", "TMHDAM", "Sets the HD tuner band to AM."),
		action("TUNER_MODE_HD_FM", "TMHDFM", "Sets the HD tuner band to FM."),
		action("TUNER_MODE_HD_AUTO", "TMHDAUTOHD", "Sets HD tuning to auto."),
		action("TUNER_MODE_HD_MANUAL", "TMHDMANUAL", "Sets HD tuning to manual."),
		action("TUNER_PRESET_UP", "TPANUP", "Selects the next analog preset."),
		action("TUNER_PRESET_DOWN", "TPANDOWN", "Selects the previous analog preset."),
		action("TUNER_PRESET_HD_UP", "TPHDUP", "Selects the next HD preset."),
		action("TUNER_PRESET_HD_DOWN", "TPHDDOWN", "Selects the previous HD preset."),
		query("TUNER_STATUS_QUERY", "TMAN?", "Queries tuner band and mode."),
		query("TUNER_FREQ_QUERY", "TFAN?", "Queries the tuner frequency."),
		query("TUNER_PRESET_QUERY", "TPAN?", "Queries the tuner preset."),
	}
}

// ============================================================================
// Audio parameters
// ============================================================================

func audioCommands() []Spec {
	return []Spec{
		action("TONE_CONTROL_ON", "PSTONE CTRL ON", "Turns tone control on."),
		action("TONE_CONTROL_OFF", "PSTONE CTRL OFF", "Turns tone control off."),
		query("TONE_CONTROL_QUERY", "PSTONE CTRL ?", "Queries tone control."),
		action("BASS_UP", "PSBAS UP", "Raises bass one step."),
		action("BASS_DOWN", "PSBAS DOWN", "Lowers bass one step."),
		query("BASS_QUERY", "PSBAS ?", "Queries bass level."),
		action("TREBLE_UP", "PSTRE UP", "Raises treble one step."),
		action("TREBLE_DOWN", "PSTRE DOWN", "Lowers treble one step."),
		query("TREBLE_QUERY", "PSTRE ?", "Queries treble level."),

		action("CENTER_GAIN_UP", "PSCEG UP", "Raises center gain."),
		action("CENTER_GAIN_DOWN", "PSCEG DOWN", "Lowers center gain."),
		setter("CENTER_GAIN_SET", "PSCEG{value}", tenths(0, 1.0), "Sets center gain (0.0 to 1.0)."),
		query("CENTER_GAIN_QUERY", "PSCEG ?", "Queries center gain."),

		setter("REF_LVL_SET", "PSREFLEV {value}", oneOf(0, 5, 10, 15), "Sets the reference level offset (0, 5, 10, 15)."),
		query("REF_LVL_QUERY", "PSREFLEV ?", "Queries the reference level offset."),

		action("DIALOG_LEVEL_ADJUST_ON", "PSDIL ON", "Turns dialog level adjust on."),
		action("DIALOG_LEVEL_ADJUST_OFF", "PSDIL OFF", "Turns dialog level adjust off."),
		action("DIALOG_LEVEL_UP", "PSDIL UP", "Raises dialog level."),
		action("DIALOG_LEVEL_DOWN", "PSDIL DOWN", "Lowers dialog level."),
		setter("DIALOG_LEVEL_SET", "PSDIL {value}", decibelHalfStep(-12, 12), "Sets dialog level in dB (-12 to +12, 0.5 steps)."),
		query("DIALOG_LEVEL_QUERY", "PSDIL ?", "Queries dialog level adjust."),

		action("SUB_LEVEL_ADJUST_ON", "PSSWL ON", "Turns subwoofer level adjust on."),
		action("SUB_LEVEL_ADJUST_OFF", "PSSWL OFF", "Turns subwoofer level adjust off."),
		action("SUB_LEVEL_ADJUST_UP", "PSSWL UP", "Raises subwoofer level."),
		action("SUB_LEVEL_ADJUST_DOWN", "PSSWL DOWN", "Lowers subwoofer level."),
		setter("SUB_LEVEL_ADJUST_SET", "PSSWL {value}", decibelHalfStep(-12, 12), "Sets subwoofer level in dB (-12 to +12, 0.5 steps)."),
		query("SUB_LEVEL_ADJUST_QUERY", "PSSWL ?", "Queries subwoofer level adjust."),

		action("SUBWOOFER_ON", "PSSWR ON", "Enables the subwoofer in the speaker setup."),
		action("SUBWOOFER_OFF", "PSSWR OFF", "Disables the subwoofer in the speaker setup."),
		query("SUBWOOFER_QUERY", "PSSWR ?", "Queries the subwoofer setting."),

		action("MDAX_OFF", "PSMDAX OFF", "Sets M-DAX off."),
		action("MDAX_LOW", "PSMDAX LOW", "Sets M-DAX low."),
		action("MDAX_MEDIUM", "PSMDAX MED", "Sets M-DAX medium."),
		action("MDAX_HIGH", "PSMDAX HI", "Sets M-DAX high."),
		query("MDAX_QUERY", "PSMDAX?", "Queries M-DAX."),

		action("CINEMA_EQ_ON", "PSCINEQ ON", "Turns Cinema EQ on."),
		action("CINEMA_EQ_OFF", "PSCINEQ OFF", "Turns Cinema EQ off."),
		query("CINEMA_EQ_QUERY", "PSCINEQ?", "Queries Cinema EQ."),

		action("DYNAMIC_EQ_ON", "PSDYNEQ ON", "Turns Dynamic EQ on."),
		action("DYNAMIC_EQ_OFF", "PSDYNEQ OFF", "Turns Dynamic EQ off."),
		query("DYNAMIC_EQ_QUERY", "PSDYNEQ?", "Queries Dynamic EQ."),

		action("DYNAMIC_VOLUME_OFF", "PSDYNVOL OFF", "Sets Dynamic Volume off."),
		action("DYNAMIC_VOLUME_LIGHT", "PSDYNVOL LIT", "Sets Dynamic Volume light."),
		action("DYNAMIC_VOLUME_MEDIUM", "PSDYNVOL MED", "Sets Dynamic Volume medium."),
		action("DYNAMIC_VOLUME_HEAVY", "PSDYNVOL HEV", "Sets Dynamic Volume heavy."),
		query("DYNAMIC_VOLUME_QUERY", "PSDYNVOL?", "Queries Dynamic Volume."),

		action("GRAPHIC_EQ_ON", "PSGEQ ON", "Turns Graphic EQ on."),
		action("GRAPHIC_EQ_OFF", "PSGEQ OFF", "Turns Graphic EQ off."),
		query("GRAPHIC_EQ_QUERY", "PSGEQ?", "Queries Graphic EQ."),

		action("DYNAMIC_RANGE_COMPRESSION_OFF", "PSDRC OFF", "Turns dynamic range compression off."),
		action("DYNAMIC_RANGE_COMPRESSION_LOW", "PSDRC LOW", "Sets dynamic range compression low."),
		action("DYNAMIC_RANGE_COMPRESSION_MEDIUM", "PSDRC MID", "Sets dynamic range compression medium."),
		action("DYNAMIC_RANGE_COMPRESSION_HIGH", "PSDRC HI", "Sets dynamic range compression high."),
		query("DYNAMIC_RANGE_COMPRESSION_QUERY", "PSDRC?", "Queries dynamic range compression."),

		action("AUDYSSEY_DYN_COMP_AUTO", "PSDCAUTO", "Sets Audyssey dynamic compression to auto."),
		action("AUDYSSEY_DYN_COMP_OFF", "PSDCAOFF", "Turns Audyssey dynamic compression off."),
		query("AUDYSSEY_DYN_COMP_QUERY", "PSDCA?", "Queries Audyssey dynamic compression."),
	}
}

// settableChannels are the speaker channels with a level setter, in the
// order the receiver lists them.
var settableChannels = []string{"FL", "FR", "C", "SW", "SL", "SR", "SBL", "SBR", "SB", "FHL", "FHR", "FWL", "FWR"}

func channelLevelCommands() []Spec {
	out := []Spec{
		query("CHANNEL_LEVELS_QUERY", "CV?", "Queries all channel levels."),
		action("CHANNEL_VOLUME_RESET", "CVZRL", "Resets all channel levels to 0 dB."),
	}
	for _, ch := range settableChannels {
		out = append(out, setter("SET_LEVEL_"+ch, "CV"+ch+" {value}", decibelHalfStep(-12, 12),
			fmt.Sprintf("Sets the %s channel level in dB (-12 to +12, 0.5 steps).", ch)))
	}
	return out
}

// ============================================================================
// Video
// ============================================================================

func videoCommands() []Spec {
	out := []Spec{
		action("PICTURE_MODE_OFF", "PVOFF", "Turns picture mode off."),
	}
	modes := []struct{ name, code string }{
		{"STANDARD", "STD"},
		{"MOVIE", "MOV"},
		{"VIVID", "VVD"},
		{"STREAM", "STM"},
		{"CUSTOM", "CTM"},
		{"ISF_DAY", "DAY"},
		{"ISF_NIGHT", "NGT"},
	}
	for _, m := range modes {
		out = append(out, action("PICTURE_MODE_"+m.name, "PV"+m.code, "Sets picture mode "+m.name+"."))
	}
	return append(out,
		query("PICTURE_MODE_QUERY", "PV?", "Queries picture mode."),
		action("DNR_OFF", "PVDNR OFF", "Turns noise reduction off."),
		action("DNR_LOW", "PVDNR LOW", "Sets noise reduction low."),
		action("DNR_MID", "PVDNR MID", "Sets noise reduction mid."),
		action("DNR_HIGH", "PVDNR HI", "Sets noise reduction high."),

		action("VIDEO_SELECT_ON", "SVON", "Turns video select on."),
		action("VIDEO_SELECT_OFF", "SVOFF", "Turns video select off."),
		action("VIDEO_SELECT_DVD", "SVDVD", "Sets the video select source to DVD."),
		action("VIDEO_SELECT_BD", "SVBD", "Sets the video select source to Blu-ray."),
		action("VIDEO_SELECT_TV", "SVTV", "Sets the video select source to TV."),
		action("VIDEO_SELECT_SAT_CBL", "SVSAT/CBL", "Sets the video select source to SAT/CBL."),
		action("VIDEO_SELECT_MPLAY", "SVMPLAY", "Sets the video select source to Media Player."),
		action("VIDEO_SELECT_GAME", "SVGAME", "Sets the video select source to Game."),
		action("VIDEO_SELECT_AUX1", "SVAUX1", "Sets the video select source to AUX1."),
		action("VIDEO_SELECT_AUX2", "SVAUX2", "Sets the video select source to AUX2."),
		action("VIDEO_SELECT_CD", "SVCD", "Sets the video select source to CD."),
		action("VIDEO_SELECT_SOURCE", "SVSOURCE", "Sets the video select source to the last used source."),
		query("VIDEO_SELECT_QUERY", "SV?", "Queries video select."),
	)
}

// ============================================================================
// Composites
// ============================================================================

// InitialStatusQuery is the query group sent after every (re)connect.
const InitialStatusQuery = "INITIAL_STATUS_QUERY"

func groupCommands() []Spec {
	return []Spec{
		{
			Name: InitialStatusQuery,
			Kind: QueryGroup,
			Commands: []string{
				"POWER_QUERY",
				"VOLUME_QUERY",
				"MUTE_QUERY",
				"INPUT_QUERY",
				"SOUND_MODE_QUERY",
				"DIALOG_LEVEL_QUERY",
				"CHANNEL_LEVELS_QUERY",
				"DYNAMIC_EQ_QUERY",
				"REF_LVL_QUERY",
				"ZONE2_MUTE_QUERY",
				"MDAX_QUERY",
				"CINEMA_EQ_QUERY",
				"DYNAMIC_VOLUME_QUERY",
				"PICTURE_MODE_QUERY",
				"GRAPHIC_EQ_QUERY",
				"TONE_CONTROL_QUERY",
				"DYNAMIC_RANGE_COMPRESSION_QUERY",
				"ECO_MODE_QUERY",
				"SUB_LEVEL_ADJUST_QUERY",
				"CENTER_GAIN_QUERY",
				"VIDEO_SELECT_QUERY",
				"SUBWOOFER_QUERY",
				"AUDYSSEY_DYN_COMP_QUERY",
				"SYSTEM_REMOTE_LOCK_QUERY",
				"SYSTEM_PANEL_LOCK_QUERY",
			},
			Description: "Queries every status the UI shows, as one batch.",
		},
		{
			Name:        "FAVORITES_ADD",
			Kind:        Macro,
			Commands:    []string{"MENU_OPTION", "CURSOR_ENTER"},
			Description: "Adds the playing station to favorites through the option menu.",
			Pause:       MacroPause,
		},
	}
}
