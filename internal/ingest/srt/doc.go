// Package srt implements SRT (Secure Reliable Transport) ingest of raw VBI
// captures and decoded record streams, in both listener mode (Server) for
// accepting publish connections and caller mode (Caller) for pulling from
// remote SRT sources.
package srt
