// Package voice serializes speech from navigation and pace coaching onto a
// single output.
package voice

import (
	"strings"
	"sync"
	"time"

	"run-route/pkg/clock"
	"run-route/pkg/logger"
)

// Speaker renders text as speech. Speak may return before the speech ends;
// a Speak that arrives mid-utterance interrupts it.
type Speaker interface {
	Speak(text string)
	Stop()
}

// Source identifies who asked for an utterance.
type Source string

const (
	Navigation Source = "navigation"
	Coaching   Source = "coaching"
)

// Speaking rate used to guess when an utterance is over, about 150 words a
// minute plus the engine's start-up lag.
const (
	perWord    = 400 * time.Millisecond
	speechLead = 500 * time.Millisecond
)

// Estimate is how long text takes to say.
func Estimate(text string) time.Duration {
	return speechLead + time.Duration(len(strings.Fields(text)))*perWord
}

type command struct {
	source Source
	text   string
	stop   bool
}

// Dispatcher is the only caller of its Speaker. Utterances are played in
// order by one goroutine. An utterance counts as playing until Finished is
// called or its Estimate elapses; coaching waits for it, while navigation
// interrupts it and discards anything still waiting.
type Dispatcher struct {
	out   Speaker
	clock clock.Clock
	log   logger.Logger

	mu      sync.Mutex
	pending []command
	closed  bool

	wake     chan struct{}
	finished chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
}

func NewDispatcher(out Speaker, clk clock.Clock, log logger.Logger) *Dispatcher {
	if clk == nil {
		clk = clock.Real{}
	}
	d := &Dispatcher{
		out:      out,
		clock:    clk,
		log:      log,
		wake:     make(chan struct{}, 1),
		finished: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Say queues text from source.
func (d *Dispatcher) Say(source Source, text string) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	cmd := command{source: source, text: text}
	if source == Navigation {
		if dropped := len(d.pending); dropped > 0 {
			d.log.WithFields(logger.LogFields{"dropped": dropped}).Debug("voice_preempted", "navigation preempted pending speech")
		}
		d.pending = []command{cmd}
	} else {
		d.pending = append(d.pending, cmd)
	}
	d.mu.Unlock()
	d.signal()
}

// Stop discards pending speech and silences the speaker.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.pending = []command{{stop: true}}
	d.mu.Unlock()
	d.signal()
}

// Finished reports that the device is done with the current utterance, so
// waiting coaching can play without sitting out the estimate.
func (d *Dispatcher) Finished() {
	select {
	case d.finished <- struct{}{}:
	default:
	}
}

// Close stops the worker. Pending speech is discarded.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.pending = nil
	d.mu.Unlock()

	close(d.done)
	d.wg.Wait()
}

// For returns a Speaker that queues through d as source.
func (d *Dispatcher) For(source Source) Speaker {
	return sourceSpeaker{d: d, source: source}
}

func (d *Dispatcher) signal() {
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	// speaking is nil while the device is idle.
	var speaking <-chan time.Time
	for {
		select {
		case <-d.done:
			return
		case <-d.wake:
		case <-speaking:
			speaking = nil
		case <-d.finished:
			speaking = nil
		}

		for {
			cmd, ok := d.next(speaking != nil)
			if !ok {
				break
			}
			if cmd.stop {
				d.out.Stop()
				speaking = nil
				continue
			}
			if speaking != nil {
				d.out.Stop()
			}
			// A Finished left over from an earlier utterance must not end
			// this one. The deadline is armed before Speak so it never
			// trails the frame.
			select {
			case <-d.finished:
			default:
			}
			speaking = d.clock.After(Estimate(cmd.text))
			d.out.Speak(cmd.text)
		}
	}
}

// next pops the head of the queue. While busy only a stop or a navigation
// utterance may go ahead.
func (d *Dispatcher) next(busy bool) (command, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || len(d.pending) == 0 {
		return command{}, false
	}
	cmd := d.pending[0]
	if busy && !cmd.stop && cmd.source != Navigation {
		return command{}, false
	}
	d.pending = d.pending[1:]
	return cmd, true
}

type sourceSpeaker struct {
	d      *Dispatcher
	source Source
}

func (s sourceSpeaker) Speak(text string) { s.d.Say(s.source, text) }
func (s sourceSpeaker) Stop()             { s.d.Stop() }
