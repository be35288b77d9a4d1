package protocol

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// decodeFunc decodes the remainder of a line after its prefix. It reports
// false when the line does not fit the family's grammar.
type decodeFunc func(line, rest string) (EventKind, Payload, bool)

type rule struct {
	prefix string
	decode decodeFunc
}

// rules is ordered so that a longer (more specific) prefix is always tried
// before any shorter prefix it extends, e.g. MVMAX before MV.
var rules = sortRules([]rule{
	{"MVMAX", volumeLevel(MaxVolume)},
	{"MV", volumeLevel(Volume)},
	{"MUTE", onOff(MuteState)},
	{"MU", onOff(MuteState)},
	{"PW", enum(PowerState, map[string]string{"ON": "on", "STANDBY": "standby", "OFF": "off"})},
	{"ZM", onOff(MainZonePower)},
	{"SI", source(InputSource)},
	{"MSSMART", selection},
	{"MSQUICK", selection},
	{"MS", mode(SoundMode)},

	{"CVEND", channelListEnd},
	{"CV", channelLevel},

	{"PSDIL", switchLevel(DialogLevel)},
	{"PSSWL", switchLevel(SubwooferLevel)},
	{"PSSWR", onOff(SubwooferStatus)},
	{"PSCEG", centerGain},
	{"PSREFLEV", referenceLevel},
	{"PSTONE CTRL", onOff(ToneControl)},
	{"PSCINEQ", onOff(CinemaEQ)},
	{"PSDYNEQ", onOff(DynamicEQ)},
	{"PSGEQ", onOff(GraphicEQ)},
	{"PSMDAX", enum(MDAX, map[string]string{"OFF": "off", "LOW": "low", "MED": "medium", "HI": "high"})},
	{"PSDYNVOL", enum(DynamicVolume, map[string]string{"OFF": "off", "LIT": "light", "MED": "medium", "HEV": "heavy"})},
	{"PSDRC", enum(DRC, map[string]string{"OFF": "off", "LOW": "low", "MID": "medium", "HI": "high", "AUTO": "auto"})},
	{"PSDCA", enum(AudysseyDynComp, map[string]string{"AUTO": "auto", "OFF": "off"})},
	{"PSEC", enum(EcoMode, ecoStates)},
	{"ECO", enum(EcoMode, ecoStates)},
	{"PSBAS", toneLevel(BassLevel)},
	{"PSTRE", toneLevel(TrebleLevel)},
	{"PSLFE", toneLevel(LFELevel)},

	{"PV", enum(PictureMode, map[string]string{
		"OFF": "off", "STD": "standard", "MOV": "movie", "VVD": "vivid",
		"STM": "stream", "CTM": "custom", "DAY": "isf_day", "NGT": "isf_night",
	})},
	{"SV", videoSelect},
	{"SD", enum(SignalDetect, map[string]string{"AUTO": "auto", "ANALOG": "analog", "HDMI": "hdmi", "ARC": "arc", "DIGITAL": "digital", "NO": "none"})},
	{"DC", enum(DigitalInput, map[string]string{"AUTO": "auto", "ANALOG": "analog", "HDMI": "hdmi", "DIGITAL": "digital", "PCM": "pcm", "DTS": "dts"})},
	{"TR", trigger},

	{"SYREMOTE LOCK", onOff(RemoteLock)},
	{"SYPANEL+V LOCK", panelLock(true)},
	{"SYPANEL LOCK", panelLock(false)},

	{"SLP", sleepTimer},

	{"TMAN", tunerMode("AN")},
	{"TMHD", tunerMode("HD")},
	{"TFAN", tunerFrequency},
	{"TPAN", tunerPreset("AN")},
	{"TPHD", tunerPreset("HD")},

	{"Z2VOL", zone2Volume},
	{"Z2MU", zone2Mute},
	{"Z2", zone2},

	{"SSINFAISFSV ", lowerText(SignalInfo)},
	{"SSVCTZMAPON ", lowerText(SSVMap)},
	{"SSSMG ", lowerText(SoundSubmode)},
	{"PSMODE:", lowerText(ParameterMode)},

	{"NSF ", playState},
	{"CRPLYSTS", playState},
	{"NSEXT ", onOff(NSEExtended)},
	{"NSPAN", pandoraLogin},
	{"NSE", decodeNSE},
})

func sortRules(rs []rule) []rule {
	sort.SliceStable(rs, func(i, j int) bool { return len(rs[i].prefix) > len(rs[j].prefix) })
	return rs
}

// Parse decodes one framed line. It never fails: lines that match no prefix,
// or match a prefix but not its grammar, come back as Unrecognized with the
// raw line attached.
func Parse(line string) Event {
	for _, r := range rules {
		if !strings.HasPrefix(line, r.prefix) {
			continue
		}
		kind, payload, ok := r.decode(line, line[len(r.prefix):])
		if !ok {
			return unrecognized(line)
		}
		return Event{Kind: kind, Payload: payload, Raw: line}
	}
	return unrecognized(line)
}

// ============================================================================
// Decoders
// ============================================================================

var ecoStates = map[string]string{"ON": "on", "AUTO": "auto", "OFF": "off"}

func onOff(kind EventKind) decodeFunc {
	return enum(kind, map[string]string{"ON": "on", "OFF": "off"})
}

func enum(kind EventKind, states map[string]string) decodeFunc {
	return func(_, rest string) (EventKind, Payload, bool) {
		s, ok := states[strings.TrimSpace(rest)]
		if !ok {
			return 0, nil, false
		}
		return kind, StatePayload{State: s}, true
	}
}

func volumeLevel(kind EventKind) decodeFunc {
	return func(_, rest string) (EventKind, Payload, bool) {
		v, err := DecodeHalfStep(strings.TrimSpace(rest))
		if err != nil {
			return 0, nil, false
		}
		return kind, VolumePayload{Value: v, DB: DecibelFromLevel(v)}, true
	}
}

func source(kind EventKind) decodeFunc {
	return func(_, rest string) (EventKind, Payload, bool) {
		rest = strings.TrimSpace(rest)
		if rest == "" || strings.Contains(rest, "?") {
			return 0, nil, false
		}
		return kind, SourcePayload{Source: rest}, true
	}
}

func mode(kind EventKind) decodeFunc {
	return func(_, rest string) (EventKind, Payload, bool) {
		rest = strings.TrimSpace(rest)
		if rest == "" || strings.Contains(rest, "?") {
			return 0, nil, false
		}
		return kind, ModePayload{Mode: rest}, true
	}
}

func selection(line, rest string) (EventKind, Payload, bool) {
	if strings.TrimSpace(rest) == "" {
		return 0, nil, false
	}
	return SmartSelect, SelectionPayload{Selection: line}, true
}

// Speaker channel codes as sent in CV lines.
var knownChannels = map[string]bool{
	"FL": true, "FR": true, "C": true, "SW": true, "SW2": true,
	"SL": true, "SR": true, "SBL": true, "SBR": true, "SB": true,
	"FHL": true, "FHR": true, "FWL": true, "FWR": true,
	"TFL": true, "TFR": true, "TML": true, "TMR": true, "TRL": true, "TRR": true,
	"RHL": true, "RHR": true, "FDL": true, "FDR": true, "SDL": true, "SDR": true,
	"BDL": true, "BDR": true, "SHL": true, "SHR": true, "TS": true,
}

// IsKnownChannel reports whether code names a speaker channel the receiver
// family is known to report.
func IsKnownChannel(code string) bool { return knownChannels[code] }

var channelLevelRE = regexp.MustCompile(`^(SW2|[A-Z]{1,3})\s?(\d{2,3})$`)

func channelLevel(_, rest string) (EventKind, Payload, bool) {
	m := channelLevelRE.FindStringSubmatch(rest)
	if m == nil {
		return 0, nil, false
	}
	v, err := DecodeHalfStep(m[2])
	if err != nil {
		return 0, nil, false
	}
	return ChannelLevel, ChannelLevelPayload{
		Channel: m[1],
		Known:   knownChannels[m[1]],
		DB:      DecibelFromLevel(v),
	}, true
}

func channelListEnd(_, rest string) (EventKind, Payload, bool) {
	if strings.TrimSpace(rest) != "" {
		return 0, nil, false
	}
	return ChannelLevelListEnd, EmptyPayload{}, true
}

func switchLevel(kind EventKind) decodeFunc {
	return func(_, rest string) (EventKind, Payload, bool) {
		rest = strings.TrimSpace(rest)
		switch rest {
		case "ON":
			return kind, SwitchLevelPayload{State: "on"}, true
		case "OFF":
			return kind, SwitchLevelPayload{State: "off"}, true
		}
		v, err := DecodeHalfStep(rest)
		if err != nil {
			return 0, nil, false
		}
		db := DecibelFromLevel(v)
		return kind, SwitchLevelPayload{DB: &db}, true
	}
}

func centerGain(_, rest string) (EventKind, Payload, bool) {
	rest = strings.TrimSpace(rest)
	if len(rest) != 2 {
		return 0, nil, false
	}
	n, ok := atoiDigits(rest)
	if !ok {
		return 0, nil, false
	}
	return CenterGain, ValuePayload{Value: float64(n) / 10}, true
}

func referenceLevel(_, rest string) (EventKind, Payload, bool) {
	n, ok := atoiDigits(strings.TrimSpace(rest))
	if !ok {
		return 0, nil, false
	}
	return ReferenceLevel, ValuePayload{Value: float64(n)}, true
}

func toneLevel(kind EventKind) decodeFunc {
	return func(_, rest string) (EventKind, Payload, bool) {
		n, ok := atoiDigits(strings.TrimSpace(rest))
		if !ok {
			return 0, nil, false
		}
		return kind, ToneLevelPayload{Level: n}, true
	}
}

func videoSelect(_, rest string) (EventKind, Payload, bool) {
	rest = strings.TrimSpace(rest)
	switch rest {
	case "ON":
		return VideoSelectMode, StatePayload{State: "on"}, true
	case "OFF":
		return VideoSelectMode, StatePayload{State: "off"}, true
	case "":
		return 0, nil, false
	}
	if strings.Contains(rest, "?") {
		return 0, nil, false
	}
	return VideoSelectSource, SourcePayload{Source: rest}, true
}

func trigger(_, rest string) (EventKind, Payload, bool) {
	if len(rest) < 3 || rest[0] < '1' || rest[0] > '3' {
		return 0, nil, false
	}
	var state string
	switch strings.TrimSpace(rest[1:]) {
	case "ON":
		state = "on"
	case "OFF":
		state = "off"
	default:
		return 0, nil, false
	}
	return Trigger, TriggerPayload{Trigger: int(rest[0] - '0'), State: state}, true
}

func panelLock(volume bool) decodeFunc {
	return func(_, rest string) (EventKind, Payload, bool) {
		switch strings.TrimSpace(rest) {
		case "ON":
			return PanelLock, PanelLockPayload{State: "on", VolumeLocked: volume}, true
		case "OFF":
			return PanelLock, PanelLockPayload{State: "off"}, true
		}
		return 0, nil, false
	}
}

func sleepTimer(_, rest string) (EventKind, Payload, bool) {
	rest = strings.TrimSpace(rest)
	if rest == "OFF" {
		return SleepTimer, SleepTimerPayload{State: "off"}, true
	}
	n, ok := atoiDigits(rest)
	if !ok || len(rest) > 3 {
		return 0, nil, false
	}
	if n == 0 {
		return SleepTimer, SleepTimerPayload{State: "off"}, true
	}
	return SleepTimer, SleepTimerPayload{State: "on", Minutes: n}, true
}

func tunerMode(band string) decodeFunc {
	return func(_, rest string) (EventKind, Payload, bool) {
		rest = strings.TrimSpace(rest)
		if rest == "" || strings.Contains(rest, "?") {
			return 0, nil, false
		}
		return TunerMode, TunerModePayload{Band: band, Mode: rest}, true
	}
}

// tunerFrequency decodes TFAN lines. Six digit FM values are hundredths of
// a MHz ("010570" = 105.70); short AM values are passed through. Anything
// non-numeric is the station name some firmware sends on the same prefix.
func tunerFrequency(_, rest string) (EventKind, Payload, bool) {
	rest = strings.TrimSpace(rest)
	if rest == "" || strings.Contains(rest, "?") {
		return 0, nil, false
	}
	n, ok := atoiDigits(rest)
	if !ok {
		return TunerName, NamePayload{Name: rest}, true
	}
	if len(rest) >= 4 {
		return TunerFrequency, FrequencyPayload{Frequency: fmt.Sprintf("%.2f", float64(n)/100)}, true
	}
	return TunerFrequency, FrequencyPayload{Frequency: strconv.Itoa(n)}, true
}

func tunerPreset(band string) decodeFunc {
	return func(_, rest string) (EventKind, Payload, bool) {
		rest = strings.TrimSpace(rest)
		if rest == "" || strings.Contains(rest, "?") {
			return 0, nil, false
		}
		return TunerPreset, PresetPayload{Band: band, Preset: rest}, true
	}
}

func zone2Volume(_, rest string) (EventKind, Payload, bool) {
	v, err := DecodeHalfStep(strings.TrimSpace(rest))
	if err != nil {
		return 0, nil, false
	}
	return Zone2Volume, VolumePayload{Value: v, DB: DecibelFromLevel(v)}, true
}

func zone2Mute(_, rest string) (EventKind, Payload, bool) {
	return onOff(Zone2Mute)("", rest)
}

var zone2InputRE = regexp.MustCompile(`^[A-Z][A-Z0-9/]*$`)

func zone2(line, rest string) (EventKind, Payload, bool) {
	switch rest {
	case "ON":
		return Zone2Power, StatePayload{State: "on"}, true
	case "OFF":
		return Zone2Power, StatePayload{State: "off"}, true
	}
	if _, ok := atoiDigits(rest); ok {
		return zone2Volume(line, rest)
	}
	if zone2InputRE.MatchString(rest) {
		return Zone2Input, SourcePayload{Source: rest}, true
	}
	return 0, nil, false
}

// lowerText decodes families whose whole remainder is a free-form state
// reported in upper case.
func lowerText(kind EventKind) decodeFunc {
	return func(_, rest string) (EventKind, Payload, bool) {
		rest = strings.TrimSpace(rest)
		if rest == "" || rest == "?" {
			return 0, nil, false
		}
		return kind, StatePayload{State: strings.ToLower(rest)}, true
	}
}

var pandoraLoginRE = regexp.MustCompile(`^(USN|PAS|OK|NG|LOGIN|LOGOUT)\s?(.*)$`)

func pandoraLogin(_, rest string) (EventKind, Payload, bool) {
	m := pandoraLoginRE.FindStringSubmatch(rest)
	if m == nil {
		return 0, nil, false
	}
	return PandoraLogin, AccountPayload{State: strings.ToLower(m[1]), Detail: cleanText(m[2])}, true
}

func playState(_, rest string) (EventKind, Payload, bool) {
	rest = strings.TrimSpace(rest)
	if rest == "" {
		return 0, nil, false
	}
	return PlayState, StatePayload{State: rest}, true
}

// atoiDigits parses a string made only of ASCII digits.
func atoiDigits(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}
