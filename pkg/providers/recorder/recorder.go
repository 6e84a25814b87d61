// Package recorder implements stage.RecorderPort (spec.md §6): per-track
// raw PCM plus a captions.jsonl sidecar, one subtree per episode, wrapped
// in a WAV header on Stop() using the teacher's pkg/audio.NewWavBuffer
// convention (Open Question decision #2 in SPEC_FULL.md).
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lokutor-ai/lokutor-stage/pkg/audio"
	"github.com/lokutor-ai/lokutor-stage/pkg/speaker"
)

// Recorder persists one session's per-speaker PCM tracks and a
// captions.jsonl sidecar under baseDir/episodeId/.
type Recorder struct {
	mu        sync.Mutex
	dir       string
	sampleRate int
	tracks    map[speaker.Id]*os.File
	captions  *os.File
	started   bool
}

// New constructs a Recorder rooted at filepath.Join(baseDir, episodeID).
// The directory is created on Start().
func New(baseDir, episodeID string, sampleRate int) *Recorder {
	return &Recorder{
		dir:        filepath.Join(baseDir, episodeID),
		sampleRate: sampleRate,
		tracks:     make(map[speaker.Id]*os.File),
	}
}

// Start creates the episode directory and the captions sidecar.
func (r *Recorder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return fmt.Errorf("create episode dir: %w", err)
	}
	f, err := os.Create(filepath.Join(r.dir, "captions.jsonl"))
	if err != nil {
		return fmt.Errorf("create captions sidecar: %w", err)
	}
	r.captions = f
	r.started = true
	return nil
}

func (r *Recorder) trackFile(spk speaker.Id) (*os.File, error) {
	if f, ok := r.tracks[spk]; ok {
		return f, nil
	}
	f, err := os.Create(filepath.Join(r.dir, string(spk)+".pcm"))
	if err != nil {
		return nil, fmt.Errorf("create track file for %s: %w", spk, err)
	}
	r.tracks[spk] = f
	return f, nil
}

// WriteAudio appends raw PCM to the named speaker's track file, lazily
// created on first write.
func (r *Recorder) WriteAudio(spk speaker.Id, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return fmt.Errorf("recorder not started")
	}
	f, err := r.trackFile(spk)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

// captionLine is the JSON shape written to captions.jsonl, one per line.
type captionLine struct {
	Speaker     speaker.Id `json:"speaker"`
	Text        string     `json:"text"`
	TimestampMs int64      `json:"timestampMs"`
}

// AddCaption appends one JSON line to the captions sidecar.
func (r *Recorder) AddCaption(spk speaker.Id, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started || r.captions == nil {
		return fmt.Errorf("recorder not started")
	}
	line, err := json.Marshal(captionLine{Speaker: spk, Text: text, TimestampMs: time.Now().UnixMilli()})
	if err != nil {
		return err
	}
	_, err = r.captions.Write(append(line, '\n'))
	return err
}

// Stop closes every open track, rewraps each .pcm file's bytes in a WAV
// container (teacher's pkg/audio.NewWavBuffer), and returns every file
// path written.
func (r *Recorder) Stop() ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.started {
		return nil, nil
	}

	var files []string
	for spk, f := range r.tracks {
		pcmPath := f.Name()
		_ = f.Close()

		pcm, err := os.ReadFile(pcmPath)
		if err != nil {
			return files, fmt.Errorf("read track %s: %w", spk, err)
		}
		wavPath := pcmPath[:len(pcmPath)-len(filepath.Ext(pcmPath))] + ".wav"
		if err := os.WriteFile(wavPath, audio.NewWavBuffer(pcm, r.sampleRate), 0o644); err != nil {
			return files, fmt.Errorf("write wav for %s: %w", spk, err)
		}
		files = append(files, pcmPath, wavPath)
	}
	if r.captions != nil {
		files = append(files, r.captions.Name())
		_ = r.captions.Close()
	}
	r.started = false
	return files, nil
}
