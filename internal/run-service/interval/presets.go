package interval

import "fmt"

// Preset names accepted by Spec.
const (
	PresetCouchTo5K  = "couch_to_5k_week1"
	PresetFiveByFive = "5x5"
	PresetTempo      = "tempo"
	PresetCustom     = "custom"
)

// MaxPhases bounds custom workouts.
const MaxPhases = 200

// Spec describes a workout to build: a preset name plus the parameters the
// tempo and custom presets take. Durations are in seconds.
type Spec struct {
	Preset       string `json:"preset"`
	TempoMinutes int    `json:"tempo_minutes,omitempty"`
	Warmup       int    `json:"warmup_s,omitempty"`
	Work         int    `json:"work_s,omitempty"`
	Rest         int    `json:"rest_s,omitempty"`
	Intervals    int    `json:"intervals,omitempty"`
	Cooldown     int    `json:"cooldown_s,omitempty"`
}

// Phases builds the workout s describes.
func (s Spec) Phases() ([]Phase, error) {
	switch s.Preset {
	case PresetCouchTo5K:
		return CouchTo5KWeek1(), nil
	case PresetFiveByFive:
		return FiveByFive(), nil
	case PresetTempo:
		if s.TempoMinutes <= 0 {
			return nil, fmt.Errorf("%w: tempo_minutes must be positive", ErrInvalidWorkout)
		}
		return Tempo(s.TempoMinutes), nil
	case PresetCustom:
		return Custom(s.Warmup, s.Work, s.Rest, s.Intervals, s.Cooldown)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownPreset, s.Preset)
	}
}

// CouchTo5KWeek1 is a 5 minute walk, eight rounds of 60 s running and 90 s
// walking, then a 5 minute walk.
func CouchTo5KWeek1() []Phase {
	return repeat(300, 60, 90, 8, 300)
}

// FiveByFive is five 5 minute efforts with 2 minute recoveries between
// 10 minute warm-up and cool-down.
func FiveByFive() []Phase {
	return repeat(600, 300, 120, 5, 600)
}

// Tempo is a single sustained effort of minutes between 10 minute warm-up
// and cool-down.
func Tempo(minutes int) []Phase {
	return repeat(600, minutes*60, 0, 1, 600)
}

// Custom builds warm-up, intervals rounds of work and rest, and cool-down.
// Zero warm-up, rest or cool-down leaves that phase out.
func Custom(warmup, work, rest, intervals, cooldown int) ([]Phase, error) {
	switch {
	case warmup < 0 || rest < 0 || cooldown < 0:
		return nil, fmt.Errorf("%w: durations cannot be negative", ErrInvalidWorkout)
	case work <= 0 || intervals <= 0:
		return nil, fmt.Errorf("%w: work_s and intervals must be positive", ErrInvalidWorkout)
	case intervals*2+2 > MaxPhases:
		return nil, fmt.Errorf("%w: more than %d phases", ErrInvalidWorkout, MaxPhases)
	}
	return repeat(warmup, work, rest, intervals, cooldown), nil
}

func repeat(warmup, work, rest, intervals, cooldown int) []Phase {
	var phases []Phase
	if warmup > 0 {
		phases = append(phases, Phase{Kind: Warmup, Seconds: warmup})
	}
	for i := 0; i < intervals; i++ {
		phases = append(phases, Phase{Kind: Work, Seconds: work})
		if rest > 0 {
			phases = append(phases, Phase{Kind: Rest, Seconds: rest})
		}
	}
	if cooldown > 0 {
		phases = append(phases, Phase{Kind: Cooldown, Seconds: cooldown})
	}
	return phases
}

// Validate rejects an empty workout or one with a phase that cannot run.
func Validate(phases []Phase) error {
	if len(phases) == 0 {
		return fmt.Errorf("%w: no phases", ErrInvalidWorkout)
	}
	if len(phases) > MaxPhases {
		return fmt.Errorf("%w: more than %d phases", ErrInvalidWorkout, MaxPhases)
	}
	for i, p := range phases {
		switch p.Kind {
		case Warmup, Work, Rest, Cooldown:
		default:
			return fmt.Errorf("%w: phase %d has kind %q", ErrInvalidWorkout, i, p.Kind)
		}
		if p.Seconds <= 0 {
			return fmt.Errorf("%w: phase %d has no duration", ErrInvalidWorkout, i)
		}
	}
	return nil
}

// Command is a control action on a running workout.
type Command string

const (
	CommandPause  Command = "pause"
	CommandResume Command = "resume"
	CommandSkip   Command = "skip"
	CommandStop   Command = "stop"
)

// Apply runs c against t.
func (c Command) Apply(t *Timer) error {
	switch c {
	case CommandPause:
		return t.Pause()
	case CommandResume:
		return t.Resume()
	case CommandSkip:
		return t.Skip()
	case CommandStop:
		if _, err := t.State(); err != nil {
			return err
		}
		t.Stop()
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCommand, c)
	}
}
