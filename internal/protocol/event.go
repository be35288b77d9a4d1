// Package protocol implements the receiver's ASCII line protocol: framing of
// the inbound byte stream, decoding of status lines into typed events, and the
// half-step numeric encoding shared by status lines and setters.
package protocol

// EventKind identifies the family of a decoded status line.
type EventKind int

const (
	Unrecognized EventKind = iota

	PowerState
	MainZonePower
	MuteState
	Volume
	MaxVolume
	InputSource
	SoundMode
	SmartSelect

	ChannelLevel
	ChannelLevelListEnd

	TunerFrequency
	TunerName
	TunerPreset
	TunerMode

	NowPlayingTitle
	NowPlayingArtist
	NowPlayingAlbum
	NowPlayingSampleRate
	StationInfo
	PlayState
	PlayProgress
	OSDTitle
	OSDMenuItem
	// OSDContextMenuItem is never produced by Parse; OSDContext derives it
	// from menu lines shown while the "Menu" context screen is open.
	OSDContextMenuItem
	NSEExtended
	PandoraLogin

	Zone2Power
	Zone2Mute
	Zone2Input
	Zone2Volume

	SleepTimer
	ReferenceLevel
	SubwooferStatus
	SubwooferLevel
	DialogLevel
	CenterGain
	EcoMode
	RemoteLock
	PanelLock
	ToneControl
	BassLevel
	TrebleLevel
	LFELevel
	DRC
	CinemaEQ
	DynamicEQ
	GraphicEQ
	MDAX
	DynamicVolume
	AudysseyDynComp
	PictureMode
	VideoSelectMode
	VideoSelectSource
	SignalDetect
	DigitalInput
	Trigger
	SignalInfo
	SSVMap
	ParameterMode
	SoundSubmode

	ReceiverConnected
	ReceiverDisconnected
)

var kindNames = map[EventKind]string{
	Unrecognized:         "Unrecognized",
	PowerState:           "PowerState",
	MainZonePower:        "MainZonePower",
	MuteState:            "MuteState",
	Volume:               "Volume",
	MaxVolume:            "MaxVolume",
	InputSource:          "InputSource",
	SoundMode:            "SoundMode",
	SmartSelect:          "SmartSelect",
	ChannelLevel:         "ChannelLevel",
	ChannelLevelListEnd:  "ChannelLevelListEnd",
	TunerFrequency:       "TunerFrequency",
	TunerName:            "TunerName",
	TunerPreset:          "TunerPreset",
	TunerMode:            "TunerMode",
	NowPlayingTitle:      "NowPlayingTitle",
	NowPlayingArtist:     "NowPlayingArtist",
	NowPlayingAlbum:      "NowPlayingAlbum",
	NowPlayingSampleRate: "NowPlayingSampleRate",
	StationInfo:          "StationInfo",
	PlayState:            "PlayState",
	PlayProgress:         "PlayProgress",
	OSDTitle:             "OSDTitle",
	OSDMenuItem:          "OSDMenuItem",
	OSDContextMenuItem:   "OSDContextMenuItem",
	NSEExtended:          "NSEExtended",
	PandoraLogin:         "PandoraLogin",
	Zone2Power:           "Zone2Power",
	Zone2Mute:            "Zone2Mute",
	Zone2Input:           "Zone2Input",
	Zone2Volume:          "Zone2Volume",
	SleepTimer:           "SleepTimer",
	ReferenceLevel:       "ReferenceLevel",
	SubwooferStatus:      "SubwooferStatus",
	SubwooferLevel:       "SubwooferLevel",
	DialogLevel:          "DialogLevel",
	CenterGain:           "CenterGain",
	EcoMode:              "EcoMode",
	RemoteLock:           "RemoteLock",
	PanelLock:            "PanelLock",
	ToneControl:          "ToneControl",
	BassLevel:            "BassLevel",
	TrebleLevel:          "TrebleLevel",
	LFELevel:             "LFELevel",
	DRC:                  "DRC",
	CinemaEQ:             "CinemaEQ",
	DynamicEQ:            "DynamicEQ",
	GraphicEQ:            "GraphicEQ",
	MDAX:                 "MDAX",
	DynamicVolume:        "DynamicVolume",
	AudysseyDynComp:      "AudysseyDynComp",
	PictureMode:          "PictureMode",
	VideoSelectMode:      "VideoSelectMode",
	VideoSelectSource:    "VideoSelectSource",
	SignalDetect:         "SignalDetect",
	DigitalInput:         "DigitalInput",
	Trigger:              "Trigger",
	SignalInfo:           "SignalInfo",
	SSVMap:               "SSVMap",
	ParameterMode:        "ParameterMode",
	SoundSubmode:         "SoundSubmode",
	ReceiverConnected:    "ReceiverConnected",
	ReceiverDisconnected: "ReceiverDisconnected",
}

func (k EventKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "EventKind(?)"
}

// Kinds returns every defined kind in declaration order.
func Kinds() []EventKind {
	out := make([]EventKind, 0, len(kindNames))
	for k := Unrecognized; k <= ReceiverDisconnected; k++ {
		out = append(out, k)
	}
	return out
}

// Event is one decoded status line (or a connectivity notification).
// Events are values; receivers must not mutate Payload.
type Event struct {
	Kind    EventKind
	Payload Payload
	// Raw is the framed line the event was decoded from. Empty for
	// connectivity notifications.
	Raw string
}

// Payload is the kind-specific field set of an Event. Concrete payloads are
// plain structs whose JSON encoding is the field→value mapping exposed to
// clients.
type Payload interface {
	isPayload()
}

// StatePayload carries a normalized enumeration value such as "on",
// "standby", "auto" or "medium".
type StatePayload struct {
	State string `json:"state"`
}

// VolumePayload carries a half-step decoded level on the device's 0..98
// scale and the same level relative to the 50-step reference.
type VolumePayload struct {
	Value float64 `json:"value"`
	DB    float64 `json:"db"`
}

// ValuePayload carries a single numeric value.
type ValuePayload struct {
	Value float64 `json:"value"`
}

// SwitchLevelPayload is used by families that report either an on/off switch
// or a level on the same prefix. Exactly one of State or DB is set.
type SwitchLevelPayload struct {
	State string   `json:"state,omitempty"`
	DB    *float64 `json:"value,omitempty"`
}

type ChannelLevelPayload struct {
	Channel string  `json:"channel"`
	Known   bool    `json:"known"`
	DB      float64 `json:"value"`
}

type SourcePayload struct {
	Source string `json:"source"`
}

type ModePayload struct {
	Mode string `json:"mode"`
}

type TunerModePayload struct {
	Band string `json:"band"`
	Mode string `json:"mode"`
}

type TextPayload struct {
	Text string `json:"text"`
}

type FrequencyPayload struct {
	Frequency string `json:"frequency"`
}

type NamePayload struct {
	Name string `json:"name"`
}

type PresetPayload struct {
	Band   string `json:"band"`
	Preset string `json:"preset"`
}

// PlayProgressPayload carries whatever the progress line exposed; either
// field may be absent.
type PlayProgressPayload struct {
	Time    string `json:"time,omitempty"`
	Percent *int   `json:"percent,omitempty"`
}

type SleepTimerPayload struct {
	State   string `json:"state"`
	Minutes int    `json:"minutes,omitempty"`
}

type SelectionPayload struct {
	Selection string `json:"selection"`
}

type PanelLockPayload struct {
	State string `json:"state"`
	// VolumeLocked is set when the lock also covers the volume knob
	// (the "SYPANEL+V" variant).
	VolumeLocked bool `json:"volume_locked"`
}

type TriggerPayload struct {
	Trigger int    `json:"trigger"`
	State   string `json:"state"`
}

type ToneLevelPayload struct {
	Level int `json:"level"`
}

type MenuItemPayload struct {
	Line     int    `json:"line"`
	Text     string `json:"text"`
	Selected bool   `json:"selected"`
}

// AccountPayload reports a network service login step ("login", "ok",
// "ng", ...) and any text the receiver attached to it.
type AccountPayload struct {
	State  string `json:"state"`
	Detail string `json:"detail,omitempty"`
}

type ConnectivityPayload struct {
	Message string `json:"message"`
}

type RawPayload struct {
	Line string `json:"line"`
}

type EmptyPayload struct{}

func (StatePayload) isPayload()        {}
func (VolumePayload) isPayload()       {}
func (ValuePayload) isPayload()        {}
func (SwitchLevelPayload) isPayload()  {}
func (ChannelLevelPayload) isPayload() {}
func (SourcePayload) isPayload()       {}
func (ModePayload) isPayload()         {}
func (TunerModePayload) isPayload()    {}
func (TextPayload) isPayload()         {}
func (FrequencyPayload) isPayload()    {}
func (NamePayload) isPayload()         {}
func (PresetPayload) isPayload()       {}
func (PlayProgressPayload) isPayload() {}
func (SleepTimerPayload) isPayload()   {}
func (SelectionPayload) isPayload()    {}
func (PanelLockPayload) isPayload()    {}
func (TriggerPayload) isPayload()      {}
func (ToneLevelPayload) isPayload()    {}
func (MenuItemPayload) isPayload()     {}
func (AccountPayload) isPayload()      {}
func (ConnectivityPayload) isPayload() {}
func (RawPayload) isPayload()          {}
func (EmptyPayload) isPayload()        {}

// Connected builds the notification emitted when a session is established.
func Connected(message string) Event {
	return Event{Kind: ReceiverConnected, Payload: ConnectivityPayload{Message: message}}
}

// Disconnected builds the notification emitted when a session ends.
func Disconnected(reason string) Event {
	return Event{Kind: ReceiverDisconnected, Payload: ConnectivityPayload{Message: reason}}
}

func unrecognized(line string) Event {
	return Event{Kind: Unrecognized, Payload: RawPayload{Line: line}, Raw: line}
}
