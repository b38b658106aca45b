package voice

import "run-route/pkg/logger"

// Sender delivers a JSON frame to every socket of a runner.
type Sender interface {
	SendJSON(runnerID string, message interface{}) error
}

// Frame is what the phone receives; it renders speak frames with its own
// text-to-speech engine and answers each finished one with speech_done.
type Frame struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

const (
	FrameSpeak        = "speak"
	FrameStopSpeaking = "stop_speaking"
)

// SocketSpeaker forwards speech to the runner's connected devices.
type SocketSpeaker struct {
	sender   Sender
	runnerID string
	log      logger.Logger
}

func NewSocketSpeaker(sender Sender, runnerID string, log logger.Logger) *SocketSpeaker {
	return &SocketSpeaker{sender: sender, runnerID: runnerID, log: log}
}

func (s *SocketSpeaker) Speak(text string) {
	s.send(Frame{Type: FrameSpeak, Text: text})
}

func (s *SocketSpeaker) Stop() {
	s.send(Frame{Type: FrameStopSpeaking})
}

func (s *SocketSpeaker) send(f Frame) {
	if err := s.sender.SendJSON(s.runnerID, f); err != nil {
		s.log.WithFields(logger.LogFields{"runner_id": s.runnerID, "frame": f.Type}).Error("voice_send_failed", err)
	}
}
