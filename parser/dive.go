package parser

import "time"

// GasMix is a breathing gas in whole percent. Nitrogen is the remainder.
type GasMix struct {
	Oxygen int
	Helium int
}

// EventKind classifies an event marker in the sample stream.
type EventKind int

const (
	EventOther EventKind = iota
	EventGasSwitch
	EventAscent
	EventDeco
	EventBookmark
)

var eventNames = map[EventKind]string{
	EventOther:     "other",
	EventGasSwitch: "gas switch",
	EventAscent:    "ascent alarm",
	EventDeco:      "deco violation",
	EventBookmark:  "bookmark",
}

func (k EventKind) String() string { return eventNames[k] }

// Event is a marker attached to a sample. For gas switches Value is the
// index into Dive.Gases.
type Event struct {
	Kind  EventKind
	Value int
}

// TankPressure is the pressure of the tank feeding gas index Gas.
type TankPressure struct {
	Gas      int
	Pressure Pressure
}

// Sample is one point of a dive profile. Time is the elapsed time since
// the start of the dive.
type Sample struct {
	Time        time.Duration
	Depth       Depth
	Temperature *Temperature
	Pressures   []TankPressure
	Events      []Event
}

// Dive is one decoded log entry.
type Dive struct {
	Number         int
	Start          time.Time
	Duration       time.Duration
	MaxDepth       Depth
	MinTemperature *Temperature
	MaxTemperature *Temperature
	Gases          []GasMix
	Samples        []Sample

	// Skipped counts extension records the decoder stepped over.
	Skipped int
}
