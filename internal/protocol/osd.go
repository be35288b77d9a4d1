package protocol

import (
	"strings"
	"time"
)

// screenMode is what the network-source display is currently showing.
type screenMode int

const (
	screenUnknown screenMode = iota
	screenNowPlaying
	screenMenu
	screenContextMenu
)

// DefaultOSDTimeout is how long the display mode is trusted without any NSE
// line before it has to be detected again.
const DefaultOSDTimeout = 5 * time.Second

// OSDContext follows the on-screen display across NSE lines and refines what
// Parse decoded line by line:
//
//   - while the "Menu" screen is open, menu lines become OSDContextMenuItem;
//   - a selected item the receiver splits into a bare "NSE<n>" line and a
//     following text line is joined back into one selected item.
//
// Events of other families pass through unchanged. An OSDContext belongs to
// one receiver session and is not safe for concurrent use.
type OSDContext struct {
	mode    screenMode
	title   string
	last    time.Time
	pending int // display line awaiting its text, 0 if none

	timeout time.Duration
	now     func() time.Time
}

// NewOSDContext returns a context with DefaultOSDTimeout. now may be nil.
func NewOSDContext(now func() time.Time) *OSDContext {
	if now == nil {
		now = time.Now
	}
	return &OSDContext{timeout: DefaultOSDTimeout, now: now}
}

// Apply refines ev. It reports false when the line only carried a fragment
// and nothing should be emitted for it.
func (c *OSDContext) Apply(ev Event) (Event, bool) {
	if c.pending > 0 && ev.Kind == Unrecognized && !strings.HasPrefix(ev.Raw, "NSE") {
		line := c.pending
		c.pending = 0
		if text := cleanText(ev.Raw); text != "" {
			return c.menuItem(ev.Raw, line, text, true), true
		}
		return ev, true
	}

	n, raw, ok := nseLine(ev.Raw)
	if !ok {
		return ev, true
	}
	at := c.now()
	if c.timeout > 0 && !c.last.IsZero() && at.Sub(c.last) > c.timeout {
		c.mode = screenUnknown
	}
	c.last = at

	if n == 0 {
		if p, ok := ev.Payload.(TextPayload); ok && ev.Kind == OSDTitle {
			c.enterScreen(p.Text)
		}
		return ev, true
	}
	if n == 8 {
		return ev, true
	}

	if (c.mode == screenMenu || c.mode == screenContextMenu) && cleanText(raw) == "" {
		c.pending = n
		return ev, false
	}

	if c.mode == screenUnknown {
		c.mode = detectMode(raw)
	}
	if c.mode != screenContextMenu {
		return ev, true
	}

	// Context menu entries are selected unless they carry the plain
	// context-menu signifier, and unprefixed text counts as an entry.
	text := cleanText(raw)
	if text == "" || n > 7 {
		return ev, true
	}
	return c.menuItem(ev.Raw, n, text, raw[0] != contextMenu), true
}

func (c *OSDContext) enterScreen(title string) {
	if title != c.title {
		c.title = title
		c.pending = 0
	}
	switch {
	case strings.EqualFold(title, "now playing"):
		c.mode = screenNowPlaying
	case title == "Menu":
		c.mode = screenContextMenu
	default:
		c.mode = screenMenu
	}
}

func (c *OSDContext) menuItem(raw string, line int, text string, selected bool) Event {
	kind := OSDMenuItem
	if c.mode == screenContextMenu {
		kind = OSDContextMenuItem
	}
	return Event{Kind: kind, Payload: MenuItemPayload{Line: line, Text: text, Selected: selected}, Raw: raw}
}

func detectMode(raw string) screenMode {
	if raw == "" {
		return screenUnknown
	}
	switch raw[0] {
	case nowPlayingMarker:
		return screenNowPlaying
	case menuItem, selectedItem:
		return screenMenu
	case contextMenu, '\n':
		return screenContextMenu
	}
	return screenUnknown
}

// nseLine splits an NSE display line into its line number and text.
func nseLine(line string) (int, string, bool) {
	if len(line) <= nseLineOffset || !strings.HasPrefix(line, "NSE") {
		return 0, "", false
	}
	d := line[nseLineOffset]
	if d < '0' || d > '9' {
		return 0, "", false
	}
	return int(d - '0'), line[nseTextOffset:], true
}
