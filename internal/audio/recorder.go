package audio

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/companyzero/ghostrec/recsession"
	"github.com/decred/slog"
)

// resState tracks the lifecycle of a device resource.
type resState int

const (
	resIdle resState = iota
	resPrepared
	resStarted
	resStopped
	resReleased
)

func (s resState) String() string {
	switch s {
	case resIdle:
		return "idle"
	case resPrepared:
		return "prepared"
	case resStarted:
		return "started"
	case resStopped:
		return "stopped"
	case resReleased:
		return "released"
	default:
		return fmt.Sprintf("resState(%d)", int(s))
	}
}

// capturedQueueLen buffers one second of captured periods.
const capturedQueueLen = 1000 / periodSizeMS

// maxEncodedPacketSize is the size of the encoder output buffer.
const maxEncodedPacketSize = 4000

// fileRecorder captures audio from a capture device and writes it as an Ogg
// Opus file.
type fileRecorder struct {
	audioCtx audioContext
	deviceID DeviceID
	path     string
	log      slog.Logger

	rawBuffers sync.Pool

	// Owned by the encoding goroutine while started.
	f   *os.File
	bw  *bufio.Writer
	ow  *opusFileWriter
	enc streamEncoder

	state      resState
	dev        captureDevice
	encodeDone chan error
	startTime  time.Time

	// mtx protects the fields accessed from the audio callback.
	mtx       sync.Mutex
	capturing bool
	captured  chan []byte
	periods   int
	dropped   int
}

func newFileRecorder(audioCtx audioContext, deviceID DeviceID, path string, log slog.Logger) *fileRecorder {
	return &fileRecorder{
		audioCtx: audioCtx,
		deviceID: deviceID,
		path:     path,
		log:      log,
		rawBuffers: sync.Pool{New: func() interface{} {
			return make([]byte, 0, samplesPerPeriod*channels*rawFormatSampleSize)
		}},
	}
}

// onCapture is called from the audio thread with captured S16 samples.
func (r *fileRecorder) onCapture(_, in []byte, framecount uint32) {
	readSize := int(framecount) * channels * rawFormatSampleSize
	if len(in) < readSize {
		readSize = len(in)
	}
	buf := r.rawBuffers.Get().([]byte)
	buf = append(buf[:0], in[:readSize]...)

	r.mtx.Lock()
	defer r.mtx.Unlock()
	if !r.capturing {
		return
	}
	select {
	case r.captured <- buf:
		r.periods++
	default:
		r.dropped++
	}
}

// Prepare creates the output file (which must not exist yet), writes the stream headers and initializes
// the capture device.
func (r *fileRecorder) Prepare() (err error) {
	if r.state != resIdle {
		return fmt.Errorf("cannot prepare recorder in state %s", r.state)
	}

	f, err := os.OpenFile(r.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return fmt.Errorf("%w: %v", recsession.ErrPermissionDenied, err)
		}
		return err
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(r.path)
		}
	}()

	enc, err := r.audioCtx.newEncoder(sampleRate, channels)
	if err != nil {
		return fmt.Errorf("newEncoder: %v", err)
	}
	enc.SetBitrate(encodeBitRate)

	bw := bufio.NewWriter(f)
	ow, err := newOpusFileWriter(bw, sampleRate, channels)
	if err != nil {
		return fmt.Errorf("unable to write opus headers: %v", err)
	}

	dev, err := r.audioCtx.initCapture(r.deviceID, r.onCapture)
	if err != nil {
		return fmt.Errorf("unable to init capture device: %w", err)
	}

	r.f, r.bw, r.ow, r.enc, r.dev = f, bw, ow, enc, dev
	r.state = resPrepared
	return nil
}

// Start starts capturing from the device.
func (r *fileRecorder) Start() error {
	if r.state != resPrepared {
		return fmt.Errorf("cannot start recorder in state %s", r.state)
	}

	captured := make(chan []byte, capturedQueueLen)
	r.encodeDone = make(chan error, 1)
	go func() { r.encodeDone <- r.encodeLoop(captured) }()

	r.mtx.Lock()
	r.captured = captured
	r.capturing = true
	r.mtx.Unlock()

	if err := r.dev.Start(); err != nil {
		r.endCapture()
		<-r.encodeDone
		return fmt.Errorf("unable to start capture device: %w", err)
	}

	r.startTime = time.Now()
	r.state = resStarted
	r.log.Debugf("Capturing to %s with driver %s", r.path, r.audioCtx.name())
	return nil
}

// endCapture stops accepting samples from the callback and signals the end
// of input to the encoder.
func (r *fileRecorder) endCapture() (periods, dropped int) {
	r.mtx.Lock()
	if r.capturing {
		r.capturing = false
		close(r.captured)
	}
	periods, dropped = r.periods, r.dropped
	r.mtx.Unlock()
	return periods, dropped
}

// encodeLoop encodes captured samples in frames of periodSizeMS until in is
// closed. A final partial frame is padded with silence.
func (r *fileRecorder) encodeLoop(in chan []byte) error {
	const frameLen = samplesPerPeriod * channels
	pcm := make([]int16, 0, frameLen*2)
	out := make([]byte, maxEncodedPacketSize)

	var err error
	encodeFrame := func(frame []int16) {
		if err != nil {
			return
		}
		var encoded []byte
		encoded, err = r.enc.Encode(frame, samplesPerPeriod, out)
		if err != nil {
			err = fmt.Errorf("encode: %v", err)
			return
		}
		err = r.ow.WritePacket(encoded, samplesPerPeriod, sampleRate)
	}

	for raw := range in {
		pcm = bytesToLES16Slice(raw, pcm)
		r.rawBuffers.Put(raw[:0])

		for len(pcm) >= frameLen {
			encodeFrame(pcm[:frameLen])
			pcm = append(pcm[:0], pcm[frameLen:]...)
		}
	}

	if len(pcm) > 0 {
		pcm = append(pcm, make([]int16, frameLen-len(pcm))...)
		encodeFrame(pcm)
	}
	return err
}

// Stop stops the capture device and finalizes the output file. Stopping a
// recorder that captured no audio returns a *recsession.StopFaultError.
func (r *fileRecorder) Stop() error {
	if r.state != resStarted {
		return &recsession.StopFaultError{
			Reason: fmt.Sprintf("recorder is %s", r.state),
		}
	}
	r.state = resStopped

	devErr := r.dev.Stop()
	periods, dropped := r.endCapture()
	encErr := <-r.encodeDone

	if addDebugTrace {
		r.log.Debugf("Capture of %s took %s: %d periods, %d dropped",
			r.path, time.Since(r.startTime), periods, dropped)
	}
	if dropped > 0 {
		r.log.Warnf("Dropped %d captured periods while recording %s",
			dropped, r.path)
	}

	if devErr != nil {
		return fmt.Errorf("unable to stop capture device: %w", devErr)
	}
	if encErr != nil {
		return encErr
	}

	if r.ow.Packets() == 0 {
		// Still leave a well formed (empty) stream behind.
		if err := r.finishFile(); err != nil {
			r.log.Debugf("Unable to finish empty recording %s: %v", r.path, err)
		}
		return &recsession.StopFaultError{Reason: "no audio captured"}
	}

	return r.finishFile()
}

func (r *fileRecorder) finishFile() error {
	if err := r.ow.Finish(); err != nil {
		return err
	}
	if err := r.bw.Flush(); err != nil {
		return err
	}
	return r.f.Sync()
}

// Release frees the capture device and closes the output file.
func (r *fileRecorder) Release() error {
	if r.state == resReleased {
		return nil
	}
	if r.state == resStarted {
		// Released without a stop.
		r.dev.Stop()
		r.endCapture()
		<-r.encodeDone
	}
	prev := r.state
	r.state = resReleased
	if prev == resIdle {
		return nil
	}

	r.dev.Uninit()
	if err := r.f.Close(); err != nil {
		return fmt.Errorf("unable to close %s: %w", r.path, err)
	}
	return nil
}

var _ recsession.Recorder = (*fileRecorder)(nil)
