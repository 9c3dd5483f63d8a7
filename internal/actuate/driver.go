package actuate

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/banshee-data/rover/internal/timeutil"
)

// PortOptions describes the serial link to the motor board.
type PortOptions struct {
	BaudRate int    `json:"baud_rate"`
	DataBits int    `json:"data_bits"`
	StopBits int    `json:"stop_bits"`
	Parity   string `json:"parity"`
}

// Normalize validates the options and applies defaults for any unset values.
func (o PortOptions) Normalize() (PortOptions, error) {
	opts := o
	if opts.BaudRate <= 0 {
		opts.BaudRate = 115200
	}
	if opts.DataBits == 0 {
		opts.DataBits = 8
	}
	if opts.DataBits < 5 || opts.DataBits > 8 {
		return opts, fmt.Errorf("invalid data bits %d: must be between 5 and 8", opts.DataBits)
	}
	if opts.StopBits == 0 {
		opts.StopBits = 1
	}
	if opts.StopBits != 1 && opts.StopBits != 2 {
		return opts, fmt.Errorf("invalid stop bits %d: supported values are 1 or 2", opts.StopBits)
	}
	switch p := strings.TrimSpace(strings.ToUpper(opts.Parity)); p {
	case "", "N", "NONE":
		opts.Parity = "N"
	case "E", "EVEN":
		opts.Parity = "E"
	case "O", "ODD":
		opts.Parity = "O"
	default:
		return opts, fmt.Errorf("unsupported parity %q: expected N, E, or O", opts.Parity)
	}
	return opts, nil
}

// SerialMode converts the options into the go.bug.st/serial mode.
func (o PortOptions) SerialMode() (*serial.Mode, error) {
	opts, err := o.Normalize()
	if err != nil {
		return nil, err
	}
	mode := &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		StopBits: serial.OneStopBit,
		Parity:   serial.NoParity,
	}
	if opts.StopBits == 2 {
		mode.StopBits = serial.TwoStopBits
	}
	switch opts.Parity {
	case "E":
		mode.Parity = serial.EvenParity
	case "O":
		mode.Parity = serial.OddParity
	}
	return mode, nil
}

// SerialDriver sends duty commands to a motor board, one line per update:
//
//	M <left> <right>\n
//
// where left and right are signed timer compare counts for a PWM period of
// PeriodCounts.
type SerialDriver struct {
	mu           sync.Mutex
	port         io.WriteCloser
	PeriodCounts uint32
}

// NewSerialDriver drives the board over an already open port.
func NewSerialDriver(port io.WriteCloser, periodCounts uint32) *SerialDriver {
	if periodCounts == 0 {
		periodCounts = MaxSpeed
	}
	return &SerialDriver{port: port, PeriodCounts: periodCounts}
}

// OpenSerialDriver opens path with opts and returns a driver for it.
func OpenSerialDriver(path string, opts PortOptions, periodCounts uint32) (*SerialDriver, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open motor port %s: %w", path, err)
	}
	return NewSerialDriver(port, periodCounts), nil
}

func (d *SerialDriver) signedCounts(permille int) int64 {
	if permille < 0 {
		return -int64(DutyCounts(d.PeriodCounts, -permille))
	}
	return int64(DutyCounts(d.PeriodCounts, permille))
}

func (d *SerialDriver) send(w Wheels) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	line := fmt.Sprintf("M %d %d\n", d.signedCounts(w.Left), d.signedCounts(w.Right))
	if _, err := io.WriteString(d.port, line); err != nil {
		return fmt.Errorf("write motor command: %w", err)
	}
	return nil
}

// Apply implements Driver.
func (d *SerialDriver) Apply(o Output) error { return d.send(o.Wheels()) }

// Stop implements Driver.
func (d *SerialDriver) Stop() error { return d.send(Wheels{}) }

// Close closes the port.
func (d *SerialDriver) Close() error { return d.port.Close() }

// Event is one call recorded by RecordingDriver. Stops have Stop set.
type Event struct {
	At     time.Time `json:"at"`
	Output Output    `json:"output"`
	Stop   bool      `json:"stop"`
}

// RecordingDriver records every call, for tests and dry runs.
type RecordingDriver struct {
	clock timeutil.Clock

	mu     sync.Mutex
	events []Event
	Err    error
}

// NewRecordingDriver stamps events with clock.
func NewRecordingDriver(clock timeutil.Clock) *RecordingDriver {
	return &RecordingDriver{clock: clock}
}

func (r *RecordingDriver) record(e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	e.At = r.clock.Now()
	r.events = append(r.events, e)
	return nil
}

// Apply implements Driver.
func (r *RecordingDriver) Apply(o Output) error { return r.record(Event{Output: o}) }

// Stop implements Driver.
func (r *RecordingDriver) Stop() error { return r.record(Event{Stop: true}) }

// Events returns a copy of the recorded calls.
func (r *RecordingDriver) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Applied returns only the non-stop events.
func (r *RecordingDriver) Applied() []Event {
	var out []Event
	for _, e := range r.Events() {
		if !e.Stop {
			out = append(out, e)
		}
	}
	return out
}
