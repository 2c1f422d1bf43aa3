// Package logs reads monitor log files for the CLI.
//
// Last returns the trailing lines of a run log with bounded memory, and Follow
// streams lines appended after a known offset until the context ends. Follow
// wakes on fsnotify write events and falls back to polling so rotated or
// recreated files are still picked up.
package logs
