package main

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// AudioDevice wires a duplex (capture+playback) malgo device, grounded on
// the teacher's cmd/agent/main.go device setup: mono 16-bit PCM at the
// session's configured sample rate, onSamples forwarding captured frames
// to OnCapture and draining queued playback bytes into the output buffer.
//
// Used only by the optional local-mic demo path (runLocalDemo in local_demo.go);
// the websocket transport path (transport.go) never touches this type —
// audio arrives as binary frames over the socket instead.
type AudioDevice struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu      sync.Mutex
	playbuf bytes.Buffer

	OnCapture func(frame []byte)
}

// NewAudioDevice allocates the malgo context and configures (but does not
// yet start) a duplex device at sampleRate, 1 channel, 16-bit PCM.
func NewAudioDevice(sampleRate int) (*AudioDevice, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	ad := &AudioDevice{ctx: ctx}

	cfg := malgo.DefaultDeviceConfig(malgo.Duplex)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.Alsa.NoMMap = 1

	callbacks := malgo.DeviceCallbacks{
		Data: func(out, in []byte, frameCount uint32) {
			if ad.OnCapture != nil && len(in) > 0 {
				captured := make([]byte, len(in))
				copy(captured, in)
				ad.OnCapture(captured)
			}
			ad.mu.Lock()
			n, _ := ad.playbuf.Read(out)
			ad.mu.Unlock()
			for i := n; i < len(out); i++ {
				out[i] = 0
			}
		},
	}

	device, err := malgo.InitDevice(ctx.Context, cfg, callbacks)
	if err != nil {
		ctx.Uninit()
		_ = ctx.Free()
		return nil, fmt.Errorf("init audio device: %w", err)
	}
	ad.device = device
	return ad, nil
}

// Start begins capture+playback.
func (a *AudioDevice) Start() error {
	return a.device.Start()
}

// Enqueue appends PCM bytes to the playback ring, consumed by the device's
// data callback on subsequent frames — mirrors the teacher's
// playbackBytes buffer drained from onSamples.
func (a *AudioDevice) Enqueue(data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.playbuf.Write(data)
}

// Close stops the device and releases the malgo context.
func (a *AudioDevice) Close() {
	if a.device != nil {
		a.device.Uninit()
	}
	if a.ctx != nil {
		a.ctx.Uninit()
		_ = a.ctx.Free()
	}
}
