// Package recsession implements the lifecycle of audio recording and playback
// sessions.
//
// A Manager holds at most one active recording and at most one active
// playback. Starting a new session of a kind first tears down the previous
// one. Every operation returns an Outcome; device faults never propagate as
// errors or panics to the caller.
//
// Recording and playback are independent: the manager does not prevent a
// playback from running while a recording is active.
package recsession
