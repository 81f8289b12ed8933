package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"

	"github.com/companyzero/ghostrec/recsession"
	"github.com/decred/slog"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// readOpusPackets reads the audio packets of the Ogg Opus stream in r. The
// identification and comment headers are validated and skipped.
func readOpusPackets(r io.Reader) (*oggreader.OggHeader, [][]byte, error) {
	reader, header, err := oggreader.NewWith(r)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid ogg opus stream: %w", err)
	}
	if header.Channels == 0 {
		return nil, nil, errors.New("invalid ogg opus stream: zero channels")
	}

	var packets [][]byte
	for {
		payload, _, err := reader.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("unable to read ogg page: %w", err)
		}
		if len(payload) == 0 || bytes.HasPrefix(payload, []byte(opusTagsMagic)) {
			continue
		}
		packets = append(packets, payload)
	}
	return header, packets, nil
}

// filePlayer plays an Ogg Opus file on a playback device. The file is read
// and validated during Prepare.
type filePlayer struct {
	audioCtx audioContext
	deviceID DeviceID
	path     string
	log      slog.Logger

	state resState
	dev   playbackDevice

	// mtx protects the fields accessed from the audio callback.
	mtx       sync.Mutex
	playing   bool
	dec       streamDecoder
	packets   [][]byte
	next      int
	decoded   []int16
	pending   []byte
	decodeErr error
}

func newFilePlayer(audioCtx audioContext, deviceID DeviceID, path string, log slog.Logger) *filePlayer {
	return &filePlayer{
		audioCtx: audioCtx,
		deviceID: deviceID,
		path:     path,
		log:      log,
		decoded:  make([]int16, maxDecodedSamples*channels),
	}
}

// fill writes the next decoded samples into out. It returns false once all
// packets have been played.
func (p *filePlayer) fill(out []byte) bool {
	for len(out) > 0 {
		if len(p.pending) == 0 {
			if p.next >= len(p.packets) || p.decodeErr != nil {
				clear(out)
				return false
			}
			pkt := p.packets[p.next]
			p.next++
			samples, err := p.dec.Decode(pkt, maxDecodedSamples, false, p.decoded)
			if err != nil {
				p.decodeErr = err
				continue
			}
			p.pending = leS16SliceToBytes(samples, p.pending[:0])
		}
		n := copy(out, p.pending)
		out = out[n:]
		p.pending = p.pending[n:]
	}
	return true
}

// onPlayback is called from the audio thread to request samples.
func (p *filePlayer) onPlayback(out, _ []byte, framecount uint32) {
	want := int(framecount) * channels * rawFormatSampleSize
	if want > len(out) {
		want = len(out)
	}

	p.mtx.Lock()
	defer p.mtx.Unlock()
	if !p.playing {
		clear(out)
		return
	}
	if !p.fill(out[:want]) {
		p.playing = false
	}
}

// Prepare loads the file and initializes the playback device.
func (p *filePlayer) Prepare() error {
	if p.state != resIdle {
		return fmt.Errorf("cannot prepare player in state %s", p.state)
	}

	f, err := os.Open(p.path)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: %v", recsession.ErrPermissionDenied, err)
		}
		return err
	}
	header, packets, err := readOpusPackets(f)
	f.Close()
	if err != nil {
		return err
	}

	dec, err := p.audioCtx.newDecoder(sampleRate, channels)
	if err != nil {
		return fmt.Errorf("newDecoder: %v", err)
	}

	dev, err := p.audioCtx.initPlayback(p.deviceID, p.onPlayback)
	if err != nil {
		return fmt.Errorf("unable to init playback device: %w", err)
	}

	p.log.Debugf("Loaded %s: %d packets, %d channels at %d Hz",
		p.path, len(packets), header.Channels, header.SampleRate)

	p.mtx.Lock()
	p.dec = dec
	p.packets = packets
	p.mtx.Unlock()
	p.dev = dev
	p.state = resPrepared
	return nil
}

// Start starts playing.
func (p *filePlayer) Start() error {
	if p.state != resPrepared {
		return fmt.Errorf("cannot start player in state %s", p.state)
	}

	p.mtx.Lock()
	p.playing = len(p.packets) > 0
	p.mtx.Unlock()

	if err := p.dev.Start(); err != nil {
		p.mtx.Lock()
		p.playing = false
		p.mtx.Unlock()
		return fmt.Errorf("unable to start playback device: %w", err)
	}
	p.state = resStarted
	return nil
}

// IsPlaying returns true until the player is stopped or every packet has
// been played.
func (p *filePlayer) IsPlaying() bool {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	return p.playing
}

// Stop stops the playback device.
func (p *filePlayer) Stop() error {
	if p.state != resStarted {
		return fmt.Errorf("cannot stop player in state %s", p.state)
	}
	p.state = resStopped

	p.mtx.Lock()
	p.playing = false
	decodeErr := p.decodeErr
	p.mtx.Unlock()

	if decodeErr != nil {
		p.log.Warnf("Error decoding %s: %v", p.path, decodeErr)
	}
	if err := p.dev.Stop(); err != nil {
		return fmt.Errorf("unable to stop playback device: %w", err)
	}
	return nil
}

// Release frees the playback device.
func (p *filePlayer) Release() error {
	if p.state == resReleased {
		return nil
	}
	prev := p.state
	p.state = resReleased

	p.mtx.Lock()
	p.playing = false
	p.packets = nil
	p.mtx.Unlock()

	if prev == resIdle {
		return nil
	}
	if prev == resStarted {
		if err := p.dev.Stop(); err != nil {
			p.log.Debugf("Unable to stop playback device on release: %v", err)
		}
	}
	p.dev.Uninit()
	return nil
}

var _ recsession.Player = (*filePlayer)(nil)
