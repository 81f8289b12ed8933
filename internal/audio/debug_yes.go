//go:build audiodebug

// This file is conditionally compiled when the build tag 'audiodebug' is set
// to include additional trace statements in the audio callbacks.

package audio

const addDebugTrace = true
