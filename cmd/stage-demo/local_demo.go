package main

import (
	"context"
	"fmt"

	"github.com/lokutor-ai/lokutor-stage/pkg/speaker"
	"github.com/lokutor-ai/lokutor-stage/pkg/stage"
)

// stdoutPublisher implements stage.ClientPublisher by printing every
// control event and routing AudioChunk straight to the local speaker
// device — the "client" for runLocalDemo is this process's own audio
// hardware instead of a remote websocket.
type stdoutPublisher struct {
	device *AudioDevice
	echo   *echoFilter
}

func (p *stdoutPublisher) OrbStateChanged(sessionID stage.SessionId, spk speaker.Id, state stage.OrbState) error {
	fmt.Printf("[orb] %s -> %s\n", spk, state)
	return nil
}

func (p *stdoutPublisher) Caption(sessionID stage.SessionId, c stage.Caption) error {
	fmt.Printf("[caption] %s: %s\n", c.Speaker, c.Text)
	return nil
}

func (p *stdoutPublisher) ModeThinking(sessionID stage.SessionId, spk speaker.Id, durationMs, startedAt int64) error {
	fmt.Printf("[thinking] %s for %dms\n", spk, durationMs)
	return nil
}

func (p *stdoutPublisher) ModeNormal(sessionID stage.SessionId, spk speaker.Id, endedAt int64) error {
	fmt.Println("[thinking] ended")
	return nil
}

func (p *stdoutPublisher) SharedScreenState(sessionID stage.SessionId, s stage.SharedScreen) error {
	return nil
}

func (p *stdoutPublisher) RecordingReady(sessionID stage.SessionId, episodeID string, files []string) error {
	fmt.Printf("[recording] episode %s: %v\n", episodeID, files)
	return nil
}

func (p *stdoutPublisher) ServerAck(sessionID stage.SessionId, message string) error {
	fmt.Printf("[ack] %s\n", message)
	return nil
}

func (p *stdoutPublisher) StateSnapshot(sessionID stage.SessionId, snap stage.Snapshot) error {
	return nil
}

// AudioChunk plays the processed agent audio through the local speaker and
// records it into the echo filter so the next captured mic frame can be
// checked against it.
func (p *stdoutPublisher) AudioChunk(sessionID stage.SessionId, spk speaker.Id, data []byte) error {
	p.echo.RecordPlayed(data)
	p.device.Enqueue(data)
	return nil
}

var _ stage.ClientPublisher = (*stdoutPublisher)(nil)

// runLocalDemo registers one in-process session wired directly to the
// machine's microphone and speakers instead of a websocket client —
// grounded on the teacher's cmd/agent/main.go, which ran the whole
// conversation loop against local audio hardware the same way.
func runLocalDemo(ctx context.Context, a *app) error {
	device, err := NewAudioDevice(a.cfg.SampleRate)
	if err != nil {
		return fmt.Errorf("open audio device: %w", err)
	}
	defer device.Close()

	echo := newEchoFilter(a.cfg.SampleRate)
	pub := &stdoutPublisher{device: device, echo: echo}

	sessionID := stage.SessionId("local")
	sess, err := a.registerSession(ctx, sessionID, pub)
	if err != nil {
		return fmt.Errorf("register local session: %w", err)
	}

	device.OnCapture = func(frame []byte) {
		if echo.IsEcho(frame) {
			return
		}
		sess.HandleAudioChunk(frame)
		a.feedSTT(sessionID, frame)
	}

	if err := device.Start(); err != nil {
		return fmt.Errorf("start audio device: %w", err)
	}

	fmt.Println("local demo running — speak into the microphone, ctrl-c to stop")
	<-ctx.Done()
	return a.orch.Disconnect(sessionID)
}
