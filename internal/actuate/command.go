package actuate

import "fmt"

// Command is what the classifier posts to the motor task: either a
// predicted label or a request to repeat the last applied output.
type Command struct {
	repeat bool
	label  int
}

// Predicted wraps a class label.
func Predicted(label int) Command { return Command{label: label} }

// RepeatLast asks for the previously applied output again.
func RepeatLast() Command { return Command{repeat: true} }

// Label returns the predicted label; ok is false for RepeatLast.
func (c Command) Label() (label int, ok bool) {
	return c.label, !c.repeat
}

// IsRepeat reports whether c is RepeatLast.
func (c Command) IsRepeat() bool { return c.repeat }

func (c Command) String() string {
	if c.repeat {
		return "RepeatLast"
	}
	return fmt.Sprintf("Predicted(%d)", c.label)
}
