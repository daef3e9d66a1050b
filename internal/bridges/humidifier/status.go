package humidifier

import (
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"
)

// Display fill colours.
const (
	FillGreen  = "green"
	FillYellow = "yellow"
	FillRed    = "red"
)

const (
	lowWaterLevel    = 15
	defaultCooldown  = 3 * time.Second
	disconnectedText = "disconnected"
)

// displayKeys are the snapshot keys the display text depends on.
var displayKeys = map[string]bool{
	KeyPower:           true,
	KeyDepth:           true,
	KeyMode:            true,
	KeyHumidity:        true,
	KeyTemperatureDeci: true,
}

// DisplayStatus is a short coloured status line. The zero value is blank.
type DisplayStatus struct {
	Fill string `json:"fill,omitempty"`
	Text string `json:"text,omitempty"`
}

// IsZero reports whether the status is blank.
func (s DisplayStatus) IsZero() bool { return s.Fill == "" && s.Text == "" }

// ComputeDisplay renders the device summary, e.g.
// "On (auto),  45%, 22.5℃ 💧60". ok is false for an empty snapshot.
func ComputeDisplay(s Snapshot, enc Encoding) (DisplayStatus, bool) {
	if len(s) == 0 {
		return DisplayStatus{}, false
	}

	on, _ := enc.Switch(s[KeyPower])
	water := enc.WaterLevel(s[KeyDepth])

	fill := FillRed
	switch {
	case water <= lowWaterLevel:
		fill = FillYellow
	case on:
		fill = FillGreen
	}

	head := "Off"
	if on {
		head = "On (" + enc.ModeLabel(s[KeyMode]) + ")"
	}

	temp := "-"
	if t, ok := toFloat(s[KeyTemperatureDeci]); ok {
		temp = strconv.FormatFloat(math.Round(t)/10, 'f', 1, 64)
	}

	text := fmt.Sprintf("%s,  %s%%, %s℃ 💧%d", head, formatScalar(s[KeyHumidity]), temp, water)
	return DisplayStatus{Fill: fill, Text: text}, true
}

// formatScalar renders a value the way it appears in status text.
func formatScalar(v any) string {
	switch x := v.(type) {
	case nil:
		return "-"
	case string:
		return x
	}
	if n, ok := toFloat(v); ok {
		return strconv.FormatFloat(n, 'f', -1, 64)
	}
	return fmt.Sprint(v)
}

// Indicator shows the outcome of the last command and clears itself after
// a cooldown. Every Flash restarts the cooldown. A nil *Indicator ignores
// all calls.
type Indicator struct {
	cooldown time.Duration
	onChange func(DisplayStatus)

	mu     sync.Mutex
	status DisplayStatus
	timer  *time.Timer
	gen    uint64
}

// NewIndicator creates an indicator. onChange, if non-nil, is called with
// every new status, including the blank status when the cooldown expires.
func NewIndicator(cooldown time.Duration, onChange func(DisplayStatus)) *Indicator {
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &Indicator{cooldown: cooldown, onChange: onChange}
}

// Flash shows a command result and restarts the cooldown.
func (i *Indicator) Flash(r CommandResult) {
	if i == nil {
		return
	}
	fill := FillGreen
	if r.Err != nil {
		fill = FillRed
	}
	status := DisplayStatus{Fill: fill, Text: r.Label()}

	i.mu.Lock()
	if i.timer != nil {
		i.timer.Stop()
	}
	i.status = status
	i.gen++
	gen := i.gen
	i.timer = time.AfterFunc(i.cooldown, func() { i.clear(gen) })
	i.mu.Unlock()

	i.notify(status)
}

// clear blanks the status unless a newer Flash replaced the timer.
func (i *Indicator) clear(gen uint64) {
	i.mu.Lock()
	if i.gen != gen {
		i.mu.Unlock()
		return
	}
	i.timer = nil
	i.status = DisplayStatus{}
	i.mu.Unlock()

	i.notify(DisplayStatus{})
}

// Current returns the visible status.
func (i *Indicator) Current() DisplayStatus {
	if i == nil {
		return DisplayStatus{}
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.status
}

// Stop cancels a pending clear.
func (i *Indicator) Stop() {
	if i == nil {
		return
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.timer != nil {
		i.timer.Stop()
		i.timer = nil
	}
	i.gen++
}

func (i *Indicator) notify(s DisplayStatus) {
	if i.onChange != nil {
		i.onChange(s)
	}
}

// DeviceDisplay keeps the device summary current from engine events.
type DeviceDisplay struct {
	snapshot func() Snapshot
	enc      Encoding

	mu     sync.RWMutex
	status DisplayStatus

	unsubscribe []func()
}

// NewDeviceDisplay subscribes to events. snapshot must return the current
// device status; it is read synchronously from the event callbacks.
func NewDeviceDisplay(events *Events, snapshot func() Snapshot, enc Encoding) *DeviceDisplay {
	d := &DeviceDisplay{snapshot: snapshot, enc: enc}
	d.unsubscribe = []func(){
		events.Initialized.Subscribe(func(InitializedEvent) { d.refresh() }),
		events.StateChanged.Subscribe(func(e ChangeEvent) {
			if displayKeys[e.Key] {
				d.refresh()
			}
		}),
		events.Connectivity.Subscribe(func(e ConnectivityEvent) {
			if e.State == StateError {
				d.set(DisplayStatus{Fill: FillRed, Text: disconnectedText})
			}
		}),
	}
	return d
}

// Current returns the last rendered status.
func (d *DeviceDisplay) Current() DisplayStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// Close detaches from events.
func (d *DeviceDisplay) Close() {
	for _, u := range d.unsubscribe {
		u()
	}
}

func (d *DeviceDisplay) refresh() {
	if s, ok := ComputeDisplay(d.snapshot(), d.enc); ok {
		d.set(s)
	}
}

func (d *DeviceDisplay) set(s DisplayStatus) {
	d.mu.Lock()
	d.status = s
	d.mu.Unlock()
}
