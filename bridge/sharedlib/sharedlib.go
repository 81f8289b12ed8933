package main

/*
#include <stdint.h>
*/
import "C"

import (
	"encoding/json"
	"errors"
	"runtime/cgo"
	"sync"
	"unsafe"

	"github.com/companyzero/ghostrec/bridge"
)

var (
	hostMtx sync.Mutex
	host    *bridge.Host
)

var errNotInitialized = errors.New("bridge not initialized")

func errorCString(err error) *C.char {
	if err == nil {
		return C.CString("")
	}
	return C.CString(err.Error())
}

func currentHost() *bridge.Host {
	hostMtx.Lock()
	h := host
	hostMtx.Unlock()
	return h
}

//export InitBridge
func InitBridge(configJSON *C.char) *C.char {
	var cfg bridge.HostConfig
	if err := json.Unmarshal([]byte(C.GoString(configJSON)), &cfg); err != nil {
		return errorCString(err)
	}

	hostMtx.Lock()
	defer hostMtx.Unlock()
	if host != nil {
		return errorCString(errors.New("bridge already initialized"))
	}
	h, err := bridge.StartHost(cfg)
	if err != nil {
		return errorCString(err)
	}
	host = h
	return errorCString(nil)
}

//export SetPermissionsGranted
func SetPermissionsGranted(granted C.int) {
	if h := currentHost(); h != nil {
		h.Permissions().SetGranted(granted != 0)
	}
}

//export AsyncCall
func AsyncCall(id uint32, method *C.char, payload unsafe.Pointer, payloadLen C.int) {
	h := currentHost()
	if h == nil {
		return
	}
	p := C.GoBytes(payload, payloadLen)
	h.AsyncCall(id, C.GoString(method), p)
}

// resultPayload is the payload handed to the host for a result.
func resultPayload(r *bridge.CallResult) ([]byte, bool) {
	if r.Type != bridge.RTCallReply {
		return r.Payload, false
	}
	b, err := json.Marshal(r.Outcome)
	if err != nil {
		b, _ = json.Marshal(err.Error())
		return b, true
	}
	return b, !r.Outcome.OK()
}

//export NextCallResult
func NextCallResult() (C.uintptr_t, C.ulonglong, C.ulonglong, C.ulonglong) {
	h := currentHost()
	var r *bridge.CallResult
	if h == nil {
		r = bridge.StoppedCallResult(errNotInitialized.Error())
	} else {
		r = h.NextCallResult()
	}

	payload, isErr := resultPayload(r)
	r.Payload = payload
	handle := cgo.NewHandle(r)
	var errFlag C.ulonglong
	if isErr {
		errFlag = 1
	}
	return C.uintptr_t(handle), C.ulonglong(len(payload)), C.ulonglong(r.Type), errFlag
}

//export CopyCallResult
func CopyCallResult(handle C.uintptr_t, p *C.char) C.ulonglong {
	h := cgo.Handle(handle)
	r := h.Value().(*bridge.CallResult)
	rp := r.Payload
	length := len(rp)
	slice := unsafe.Slice((*byte)(unsafe.Pointer(p)), length)
	copy(slice, rp)
	id := r.ID
	h.Delete()
	return C.ulonglong(id)
}

//export StopBridge
func StopBridge() *C.char {
	hostMtx.Lock()
	h := host
	host = nil
	hostMtx.Unlock()
	if h == nil {
		return errorCString(errNotInitialized)
	}
	return errorCString(h.Stop())
}

func main() {

}
