// Package actuate turns class labels into held motor commands.
package actuate

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Action is a discrete motor manoeuvre.
type Action int

const (
	Stop Action = iota
	Forward
	Backward
	TurnLeft
	TurnRight
	RotateLeft
	RotateRight
)

var actionNames = [...]string{
	Stop:        "STOP",
	Forward:     "FORWARD",
	Backward:    "BACKWARD",
	TurnLeft:    "TURN_LEFT",
	TurnRight:   "TURN_RIGHT",
	RotateLeft:  "ROTATE_LEFT",
	RotateRight: "ROTATE_RIGHT",
}

func (a Action) String() string {
	if a >= 0 && int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// ParseAction parses an action name such as "ROTATE_LEFT" (case-insensitive).
func ParseAction(s string) (Action, error) {
	u := strings.ToUpper(strings.TrimSpace(s))
	for i, n := range actionNames {
		if n == u {
			return Action(i), nil
		}
	}
	return Stop, fmt.Errorf("unknown motor action %q", s)
}

// MarshalJSON encodes the action by name.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON decodes an action name.
func (a *Action) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseAction(s)
	if err != nil {
		return err
	}
	*a = v
	return nil
}

// MaxSpeed is full duty in permille.
const MaxSpeed = 1000

// DefaultSpeed is the duty used by the default rules.
const DefaultSpeed = 600

// Output is an action at a speed in permille.
type Output struct {
	Action Action `json:"action"`
	Speed  int    `json:"speed"`
}

// Wheels is the signed duty in permille for the two motor channels.
// Positive drives a channel's A output, negative its B output. The
// channels are mounted mirrored, so driving forward runs them in opposite
// directions.
type Wheels struct {
	Left, Right int
}

// Wheels maps the output to per-channel duty. Speeds are clamped to
// [0, MaxSpeed].
func (o Output) Wheels() Wheels {
	s := max(0, min(o.Speed, MaxSpeed))
	switch o.Action {
	case Forward:
		return Wheels{Left: -s, Right: s}
	case Backward:
		return Wheels{Left: s, Right: -s}
	case TurnLeft:
		return Wheels{Left: 0, Right: s}
	case TurnRight:
		return Wheels{Left: s, Right: 0}
	case RotateLeft:
		return Wheels{Left: s, Right: s}
	case RotateRight:
		return Wheels{Left: -s, Right: -s}
	default:
		return Wheels{}
	}
}

// DutyCounts converts a permille duty into timer compare counts for a PWM
// period of period counts. Duties at or above MaxSpeed give the full period.
func DutyCounts(period uint32, permille int) uint32 {
	if permille <= 0 {
		return 0
	}
	if permille >= MaxSpeed {
		return period
	}
	return uint32(uint64(period) * uint64(permille) / MaxSpeed)
}

// Rule maps the labels in [Lo, Hi] to an output.
type Rule struct {
	Lo     int    `json:"lo"`
	Hi     int    `json:"hi"`
	Action Action `json:"action"`
	Speed  int    `json:"speed"`
}

// DefaultRules maps labels 0-3 to forward, backward and the two rotations.
func DefaultRules() []Rule {
	return []Rule{
		{Lo: 0, Hi: 0, Action: Forward, Speed: DefaultSpeed},
		{Lo: 1, Hi: 1, Action: Backward, Speed: DefaultSpeed},
		{Lo: 2, Hi: 2, Action: RotateLeft, Speed: DefaultSpeed},
		{Lo: 3, Hi: 3, Action: RotateRight, Speed: DefaultSpeed},
	}
}

// Lookup returns the output of the first rule covering label.
func Lookup(rules []Rule, label int) (Output, bool) {
	for _, r := range rules {
		if label >= r.Lo && label <= r.Hi {
			return Output{Action: r.Action, Speed: r.Speed}, true
		}
	}
	return Output{}, false
}

// ValidateRules checks ranges, actions and speeds.
func ValidateRules(rules []Rule) error {
	for i, r := range rules {
		if r.Lo > r.Hi {
			return fmt.Errorf("rule %d: lo %d > hi %d", i, r.Lo, r.Hi)
		}
		if r.Action < Stop || r.Action > RotateRight {
			return fmt.Errorf("rule %d: invalid action %d", i, int(r.Action))
		}
		if r.Speed < 0 || r.Speed > MaxSpeed {
			return fmt.Errorf("rule %d: speed %d outside 0-%d", i, r.Speed, MaxSpeed)
		}
	}
	return nil
}
