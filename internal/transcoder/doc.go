// Package transcoder locates a usable ffmpeg/avconv binary and supervises
// the processes that turn a call's encrypted media into the configured
// output.
//
// A Resolver probes the candidate commands once per process and caches the
// first that works. A Supervisor runs one transcoder per SessionKey, feeds
// it the session description on stdin, forwards its output to the "ffmpeg"
// module logger, and reports whether each exit was requested or a crash.
package transcoder
