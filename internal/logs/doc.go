// Package logs reads the daemon's log file for "evalctl logs".
//
// Reads are offset based: Tail returns the last N matching lines and the
// offset just past them, and Follow polls from that offset until the context
// ends. A Filter narrows output to lines mentioning one job.
package logs
