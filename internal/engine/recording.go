// SPDX-License-Identifier: MIT
package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	applog "asiohost/internal/log"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// recordBlocks is the number of buffers in flight between the switch and
// the writer goroutine.
const recordBlocks = 16

// block holds one buffer of interleaved frames.
type block struct {
	data []int
}

// Recorder writes interleaved input frames to a PCM WAV file. The buffer
// switch fills pre-allocated blocks; a goroutine encodes them.
type Recorder struct {
	path      string
	file      *os.File
	enc       *wav.Encoder
	sampleBuf *audio.IntBuffer // Reusable buffer handed to the encoder
	channels  int
	frames    int
	bitDepth  int
	full      float64 // largest sample value at bitDepth
	maxFrames int64
	log       *applog.Logger

	free   chan *block
	filled chan *block
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	err    error // owned by the writer until done is closed

	written atomic.Int64 // frames
	dropped atomic.Uint64
}

// NewRecorder creates path and starts the writer. maxDuration <= 0 records
// without limit.
func NewRecorder(path string, sampleRate, channels, frames, bitDepth int, maxDuration time.Duration) (*Recorder, error) {
	switch bitDepth {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("unsupported bit depth %d", bitDepth)
	}
	if channels <= 0 || frames <= 0 || sampleRate <= 0 {
		return nil, fmt.Errorf("invalid recording format: %d channels, %d frames at %d Hz", channels, frames, sampleRate)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	r := &Recorder{
		path:     path,
		file:     file,
		enc:      wav.NewEncoder(file, sampleRate, bitDepth, channels, 1),
		channels: channels,
		frames:   frames,
		bitDepth: bitDepth,
		full:     float64(int64(1)<<(bitDepth-1) - 1),
		log:      applog.For("recorder"),
		free:     make(chan *block, recordBlocks),
		filled:   make(chan *block, recordBlocks),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	r.sampleBuf = &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: channels,
			SampleRate:  sampleRate,
		},
		SourceBitDepth: bitDepth,
	}
	if maxDuration > 0 {
		r.maxFrames = int64(maxDuration.Seconds() * float64(sampleRate))
	}
	for range recordBlocks {
		r.free <- &block{data: make([]int, frames*channels)}
	}

	go r.run()
	r.log.Infof("recording %d channels at %d Hz, %d bit to %s", channels, sampleRate, bitDepth, path)
	return r, nil
}

// Path returns the file being written.
func (r *Recorder) Path() string { return r.path }

// Frames returns the number of frames written so far.
func (r *Recorder) Frames() int64 { return r.written.Load() }

// Dropped returns the number of buffers lost because no block was free.
func (r *Recorder) Dropped() uint64 { return r.dropped.Load() }

// acquire returns a free block, or nil when the writer is behind.
func (r *Recorder) acquire() *block {
	select {
	case b := <-r.free:
		return b
	default:
		r.dropped.Add(1)
		return nil
	}
}

// submit passes a filled block to the writer. Both channels hold every
// block, so the send never blocks.
func (r *Recorder) submit(b *block) {
	r.filled <- b
}

func (r *Recorder) putFloat32(b *block, column int, src []float32) {
	n := min(len(src), r.frames)
	for f := range n {
		v := float64(src[f])
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		b.data[f*r.channels+column] = int(v * r.full)
	}
}

// putInt32 stores samples with bits significant LSB-aligned bits.
func (r *Recorder) putInt32(b *block, column int, src []int32, bits int) {
	n := min(len(src), r.frames)
	up := uint(32 - bits)
	down := uint(32 - r.bitDepth)
	for f := range n {
		b.data[f*r.channels+column] = int(int64(src[f]) << up >> down)
	}
}

func (r *Recorder) run() {
	defer close(r.done)
	for {
		select {
		case b := <-r.filled:
			r.write(b)
		case <-r.quit:
			for {
				select {
				case b := <-r.filled:
					r.write(b)
				default:
					return
				}
			}
		}
	}
}

func (r *Recorder) write(b *block) {
	defer func() { r.free <- b }()

	if r.err != nil {
		return
	}
	n := int64(r.frames)
	if r.maxFrames > 0 {
		left := r.maxFrames - r.written.Load()
		if left <= 0 {
			return
		}
		if left < n {
			n = left
			r.log.Infof("maximum duration reached, further input is discarded")
		}
	}
	r.sampleBuf.Data = b.data[:int(n)*r.channels]
	if err := r.enc.Write(r.sampleBuf); err != nil {
		r.err = err
		r.log.Errorf("Error writing to WAV file: %v", err)
		return
	}
	r.written.Add(n)
}

// Close drains the queued blocks, finalizes the WAV header and closes the
// file. It is safe to call more than once.
func (r *Recorder) Close() error {
	var err error
	r.once.Do(func() {
		close(r.quit)
		<-r.done
		err = errors.Join(r.err, r.enc.Close(), r.file.Close())
		r.log.Infof("recorded %d frames to %s (%d buffers dropped)", r.written.Load(), r.path, r.dropped.Load())
	})
	return err
}

// StartRecording captures every open input to path. An empty path names a
// file after the driver inside the configured output directory.
func (e *Engine) StartRecording(path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startRecordingLocked(path)
}

func (e *Engine) startRecordingLocked(path string) error {
	if e.h == nil {
		return ErrNotOpen
	}
	if e.rec.Load() != nil {
		return fmt.Errorf("already recording")
	}
	if e.numIn == 0 {
		return fmt.Errorf("no input channels to record")
	}
	if path == "" {
		path = filepath.Join(e.cfg.Recording.OutputDir, recordingName(e.session.Entry.Name, nowFunc()))
	}
	bitDepth := e.cfg.Recording.BitDepth
	if bitDepth == 0 {
		bitDepth = 24
	}
	r, err := NewRecorder(path, int(e.session.SampleRate), e.numIn, int(e.frames), bitDepth,
		time.Duration(e.cfg.Recording.MaxDuration)*time.Second)
	if err != nil {
		return err
	}
	e.rec.Store(r)
	e.notify("recording", int32(e.numIn), path)
	return nil
}

// StopRecording finishes the current recording. It is a no-op when not
// recording.
func (e *Engine) StopRecording() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stopRecordingLocked()
}

func (e *Engine) stopRecordingLocked() error {
	r := e.rec.Swap(nil)
	if r == nil {
		return nil
	}
	return r.Close()
}

// Recording returns the active recorder, or nil.
func (e *Engine) Recording() *Recorder {
	return e.rec.Load()
}

// recordingName builds "<driver>_<timestamp>.wav" with the driver name
// reduced to file name safe characters.
func recordingName(driver string, t time.Time) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, driver)
	if safe == "" {
		safe = "recording"
	}
	return fmt.Sprintf("%s_%s.wav", safe, t.Format("20060102_150405"))
}
