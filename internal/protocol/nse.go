package protocol

import (
	"regexp"
	"strconv"
	"strings"
)

// NSE lines carry the on-screen display for network sources. The layout is
// positional: "NSE", one digit for the display line, then the line text,
// whose first byte may be a control signifier.
const (
	nseLineOffset = 3
	nseTextOffset = 4

	nowPlayingMarker = '\x01'
	contextMenu      = '\x02'
	selectedItem     = '\x04'
	menuItem         = '\x05'
)

// Signifiers that mark a line as a navigable menu entry.
var menuSignifiers = map[byte]bool{
	contextMenu:  true,
	selectedItem: true,
	menuItem:     true,
	'\x06':       true,
	'\x0a':       true,
	'\x0e':       true,
}

var (
	controlCharsRE = regexp.MustCompile(`[\x00-\x1F\x7F]`)
	progressTimeRE = regexp.MustCompile(`(\d{1,2}:\d{2}(?::\d{2})?)`)
	progressPctRE  = regexp.MustCompile(`(\d{1,3})%`)
)

func cleanText(s string) string {
	return strings.TrimSpace(controlCharsRE.ReplaceAllString(s, ""))
}

func decodeNSE(line, _ string) (EventKind, Payload, bool) {
	if len(line) <= nseLineOffset {
		return 0, nil, false
	}
	d := line[nseLineOffset]
	if d < '0' || d > '9' {
		return 0, nil, false
	}
	n := int(d - '0')
	raw := line[nseTextOffset:]

	switch n {
	case 0:
		return textKind(OSDTitle, cleanText(raw))
	case 8:
		return textKind(StationInfo, strings.TrimLeft(cleanText(raw), "$"))
	}

	if raw == "" {
		return 0, nil, false
	}
	lead := raw[0]

	if lead == nowPlayingMarker {
		text := cleanText(raw[1:])
		switch n {
		case 1:
			return textKind(NowPlayingTitle, text)
		case 2:
			return textKind(NowPlayingArtist, text)
		case 3:
			return textKind(NowPlayingSampleRate, text)
		case 4:
			return textKind(NowPlayingAlbum, text)
		case 5:
			return playProgress(text)
		}
		return 0, nil, false
	}

	if menuSignifiers[lead] {
		text := cleanText(raw[1:])
		if text == "" {
			return 0, nil, false
		}
		return OSDMenuItem, MenuItemPayload{Line: n, Text: text, Selected: lead == selectedItem}, true
	}

	switch n {
	case 4:
		return textKind(NowPlayingAlbum, cleanText(raw))
	case 5:
		return playProgress(cleanText(raw))
	}
	return 0, nil, false
}

func textKind(kind EventKind, text string) (EventKind, Payload, bool) {
	if text == "" {
		return 0, nil, false
	}
	return kind, TextPayload{Text: text}, true
}

func playProgress(text string) (EventKind, Payload, bool) {
	var p PlayProgressPayload
	if m := progressTimeRE.FindStringSubmatch(text); m != nil {
		p.Time = m[1]
	}
	if m := progressPctRE.FindStringSubmatch(text); m != nil {
		if pct, err := strconv.Atoi(m[1]); err == nil {
			p.Percent = &pct
		}
	}
	if p.Time == "" && p.Percent == nil {
		return 0, nil, false
	}
	return PlayProgress, p, true
}
