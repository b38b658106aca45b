// Package announce speaks run progress: the start, every kilometre, the
// halfway point and the finish.
package announce

import (
	"fmt"
	"sync"
	"time"

	"run-route/internal/run-service/domain"
)

// DefaultInterval is the distance in meters between progress announcements.
const DefaultInterval = 1000.0

const (
	MessageHalfway   = "You've reached the halfway point! Keep it up!"
	MessageStartOpen = "Starting run. Good luck!"

	startMessage    = "Starting %.1f kilometers run. Good luck!"
	progressMessage = "Distance: %.1f kilometers. Time: %s. Current pace: %.1f minutes per kilometer."
	splitMessage    = "Split %d. Time: %s. Pace: %.1f."
	completeMessage = "Run complete! You ran %.2f kilometers in %s. Great job!"
)

const metersPerKilometer = 1000.0

// Speaker receives announcements.
type Speaker interface {
	Speak(text string)
}

// Announcer tracks one run's progress announcements and splits.
type Announcer struct {
	speaker  Speaker
	interval float64

	mu            sync.Mutex
	target        float64
	lastAnnounced float64
	halfwayDone   bool
	splitStart    float64
	splitElapsed  time.Duration
	splits        []domain.Split
}

// New returns an Announcer speaking every interval meters; a non-positive
// interval uses DefaultInterval.
func New(speaker Speaker, interval float64) *Announcer {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Announcer{speaker: speaker, interval: interval}
}

// Start resets the announcer for a run of targetMeters and announces it.
// A zero target skips the halfway call.
func (a *Announcer) Start(targetMeters float64) {
	a.mu.Lock()
	a.resetLocked()
	a.target = targetMeters
	a.mu.Unlock()

	if targetMeters > 0 {
		a.speaker.Speak(StartMessage(targetMeters))
		return
	}
	a.speaker.Speak(MessageStartOpen)
}

// Update takes the run's totals after an accepted fix. pace is the current
// pace in minutes per km.
func (a *Announcer) Update(distance float64, elapsed time.Duration, pace float64) {
	var messages []string

	a.mu.Lock()
	if distance-a.lastAnnounced >= a.interval {
		a.lastAnnounced = distance
		split := a.closeSplitLocked(distance, elapsed)
		messages = append(messages,
			ProgressMessage(distance, elapsed, pace),
			fmt.Sprintf(splitMessage, len(a.splits), FormatDuration(split.Duration), split.Pace),
		)
	}
	if !a.halfwayDone && a.target > 0 && distance >= a.target/2 {
		a.halfwayDone = true
		messages = append(messages, MessageHalfway)
	}
	a.mu.Unlock()

	for _, m := range messages {
		a.speaker.Speak(m)
	}
}

// Finish announces the result and returns the run's splits, including the
// partial one since the last announcement.
func (a *Announcer) Finish(distance float64, elapsed time.Duration) []domain.Split {
	a.mu.Lock()
	if distance > a.splitStart {
		a.closeSplitLocked(distance, elapsed)
	}
	splits := append([]domain.Split(nil), a.splits...)
	a.resetLocked()
	a.mu.Unlock()

	a.speaker.Speak(CompleteMessage(distance, elapsed))
	return splits
}

// Splits returns the splits recorded so far.
func (a *Announcer) Splits() []domain.Split {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]domain.Split(nil), a.splits...)
}

// Reset forgets the run without announcing anything.
func (a *Announcer) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resetLocked()
}

func (a *Announcer) resetLocked() {
	a.target = 0
	a.lastAnnounced = 0
	a.halfwayDone = false
	a.splitStart = 0
	a.splitElapsed = 0
	a.splits = nil
}

func (a *Announcer) closeSplitLocked(distance float64, elapsed time.Duration) domain.Split {
	split := domain.Split{
		DistanceM: distance - a.splitStart,
		Duration:  elapsed - a.splitElapsed,
	}
	if split.DistanceM > 0 {
		split.Pace = split.Duration.Minutes() / (split.DistanceM / metersPerKilometer)
	}
	a.splits = append(a.splits, split)
	a.splitStart = distance
	a.splitElapsed = elapsed
	return split
}

func StartMessage(targetMeters float64) string {
	return fmt.Sprintf(startMessage, targetMeters/metersPerKilometer)
}

func ProgressMessage(distance float64, elapsed time.Duration, pace float64) string {
	return fmt.Sprintf(progressMessage, distance/metersPerKilometer, FormatDuration(elapsed), pace)
}

func CompleteMessage(distance float64, elapsed time.Duration) string {
	return fmt.Sprintf(completeMessage, distance/metersPerKilometer, FormatDuration(elapsed))
}

// FormatDuration spells d out for speech, e.g. "4 minutes, 5 seconds".
func FormatDuration(d time.Duration) string {
	total := int(d.Seconds())
	hours := total / 3600
	minutes := total % 3600 / 60
	seconds := total % 60

	switch {
	case hours > 0:
		return fmt.Sprintf("%s, %s, %s", unit(hours, "hour"), unit(minutes, "minute"), unit(seconds, "second"))
	case minutes > 0:
		return fmt.Sprintf("%s, %s", unit(minutes, "minute"), unit(seconds, "second"))
	default:
		return unit(seconds, "second")
	}
}

func unit(n int, name string) string {
	if n == 1 {
		return "1 " + name
	}
	return fmt.Sprintf("%d %ss", n, name)
}
