//go:build cgo && !noaudio

package audio

import (
	"encoding/binary"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	"github.com/companyzero/gopus"
	"github.com/decred/slog"
	"github.com/gen2brain/malgo"
)

// rawFormat is the sample format of both capture and playback devices.
var rawFormat = malgo.FormatS16

func init() {
	newAudioContext = newMalgoContext
}

func (typ DeviceType) malgoType() malgo.DeviceType {
	if typ == DeviceTypePlayback {
		return malgo.Playback
	}
	return malgo.Capture
}

// malgoID converts id to a malgo device id. It returns false for the empty
// id, which selects the default device.
func (id DeviceID) malgoID() (malgo.DeviceID, bool) {
	var res malgo.DeviceID
	if id == "" {
		return res, false
	}
	if runtime.GOOS == "android" {
		// AAudio/OpenSL device ids are numeric.
		if i, err := strconv.ParseInt(string(id), 10, 32); err == nil {
			binary.LittleEndian.PutUint32(res[:], uint32(i))
		}
		return res, true
	}
	copy(res[:], id)
	return res, true
}

func deviceIDFromMalgo(id malgo.DeviceID) DeviceID {
	return DeviceID(strings.TrimRight(string(id[:]), "\x00"))
}

// withMalgo runs f on a temporary malgo context.
func withMalgo(log slog.Logger, f func(mctx *malgo.AllocatedContext) error) error {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		log.Tracef("malgo: %s", strings.TrimSpace(msg))
	})
	if err != nil {
		return err
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()
	return f(mctx)
}

func listDevices(mctx *malgo.AllocatedContext, typ DeviceType, log slog.Logger) ([]Device, error) {
	infos, err := mctx.Devices(typ.malgoType())
	if err != nil {
		return nil, fmt.Errorf("unable to list %s devices: %w", typ, err)
	}

	var res []Device
	seen := make(map[DeviceID]bool, len(infos))
	for _, info := range infos {
		full, err := mctx.DeviceInfo(typ.malgoType(), info.ID, malgo.Shared)
		if err != nil {
			log.Warnf("Unable to get info of %s device %q: %v", typ,
				info.Name(), err)
			continue
		}

		// Some backends report the same device twice.
		id := deviceIDFromMalgo(full.ID)
		if seen[id] {
			continue
		}
		seen[id] = true
		res = append(res, Device{
			ID:        id,
			Name:      full.Name(),
			IsDefault: full.IsDefault == 1,
		})
	}
	return res, nil
}

// ListAudioDevices lists the capture and playback devices of the system.
func ListAudioDevices(log slog.Logger) (Devices, error) {
	var devs Devices
	err := withMalgo(log, func(mctx *malgo.AllocatedContext) error {
		var err error
		if devs.Capture, err = listDevices(mctx, DeviceTypeCapture, log); err != nil {
			return err
		}
		devs.Playback, err = listDevices(mctx, DeviceTypePlayback, log)
		return err
	})
	return devs, err
}

// FindDevice returns the device of the given type and id or nil if there is
// no such device.
func FindDevice(typ DeviceType, id DeviceID) *Device {
	var found *Device
	_ = withMalgo(slog.Disabled, func(mctx *malgo.AllocatedContext) error {
		devs, err := listDevices(mctx, typ, slog.Disabled)
		if err != nil {
			return err
		}
		for i := range devs {
			if devs[i].ID == id {
				found = &devs[i]
				break
			}
		}
		return nil
	})
	return found
}

// malgoContext is the audioContext backed by miniaudio through malgo.
type malgoContext struct {
	mctx *malgo.AllocatedContext
}

func newMalgoContext(log slog.Logger) (audioContext, error) {
	if size := malgo.SampleSizeInBytes(rawFormat); size != rawFormatSampleSize {
		return nil, fmt.Errorf("malgo raw format has wrong sample size "+
			"(got %d, want %d)", size, rawFormatSampleSize)
	}
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		log.Debugf("malgo: %s", strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, err
	}
	return &malgoContext{mctx: mctx}, nil
}

func (mc *malgoContext) name() string {
	return "malgo"
}

func (mc *malgoContext) free() error {
	if err := mc.mctx.Uninit(); err != nil {
		return err
	}
	mc.mctx.Free()
	return nil
}

// initDevice initializes a mono S16 device of the given type running cb
// every period.
func (mc *malgoContext) initDevice(typ DeviceType, id DeviceID, cb dataProc) (*malgo.Device, error) {
	cfg := malgo.DefaultDeviceConfig(typ.malgoType())
	cfg.SampleRate = sampleRate
	cfg.PeriodSizeInMilliseconds = periodSizeMS
	cfg.Alsa.NoMMap = 1

	sub := &cfg.Capture
	if typ == DeviceTypePlayback {
		sub = &cfg.Playback
	}
	sub.Format = rawFormat
	sub.Channels = channels
	if mid, ok := id.malgoID(); ok {
		sub.DeviceID = mid.Pointer()
	}

	dev, err := malgo.InitDevice(mc.mctx.Context, cfg, malgo.DeviceCallbacks{
		Data: malgo.DataProc(cb),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to init %s device: %w", typ, err)
	}
	return dev, nil
}

func (mc *malgoContext) initCapture(id DeviceID, cb dataProc) (captureDevice, error) {
	return mc.initDevice(DeviceTypeCapture, id, cb)
}

func (mc *malgoContext) initPlayback(id DeviceID, cb dataProc) (playbackDevice, error) {
	return mc.initDevice(DeviceTypePlayback, id, cb)
}

func (mc *malgoContext) newEncoder(sampleRate, channels int) (streamEncoder, error) {
	return gopus.NewEncoder(sampleRate, channels, gopus.Voip)
}

func (mc *malgoContext) newDecoder(sampleRate, channels int) (streamDecoder, error) {
	return gopus.NewDecoder(sampleRate, channels)
}
