// Package logger buffers the chatty details of one update cycle in
// memory.  While a cycle runs, every step appends to its buffer; if the
// cycle fails the buffer is replayed followed by the final error, and if
// it succeeds the buffer is dropped and one short line is written.  That
// keeps steady-state logs to one line per update while preserving full
// detail exactly when something breaks.
//
// Thread safety comes from a dedicated goroutine and a command channel;
// there are no mutexes.
package logger

import (
	"bytes"
	"fmt"
	"log"
	"strings"
	"time"
)

type action int

const (
	actBegin action = iota
	actAppend
	actSuccess
	actFlushErr
)

type cmd struct {
	act     action
	cycleID string
	message string // Append
	summary string // Success
	err     error  // FlushError
	when    time.Time
}

var ch = make(chan cmd, 128) // buffered for bursts during large updates

// Begin starts buffering for the given cycle.
func Begin(cycleID string) { ch <- cmd{act: actBegin, cycleID: cycleID, when: time.Now()} }

// Append records one detail line for the cycle.  Without a preceding
// Begin the line goes straight to the log.
func Append(cycleID, format string, args ...any) {
	ch <- cmd{act: actAppend, cycleID: cycleID, message: fmt.Sprintf(format, args...), when: time.Now()}
}

// Success discards the buffer and writes a single short line.
func Success(cycleID, summary string) {
	ch <- cmd{act: actSuccess, cycleID: cycleID, summary: summary, when: time.Now()}
}

// FlushError replays the buffered detail and then the final error.
func FlushError(cycleID string, err error) {
	ch <- cmd{act: actFlushErr, cycleID: cycleID, err: err, when: time.Now()}
}

func init() { go runloop() }

func runloop() {
	buffers := make(map[string]*bytes.Buffer)

	for c := range ch {
		switch c.act {
		case actBegin:
			buffers[c.cycleID] = &bytes.Buffer{}

		case actAppend:
			if b := buffers[c.cycleID]; b != nil {
				_, _ = b.WriteString(c.message + "\n")
			} else {
				log.Print(c.message)
			}

		case actSuccess:
			log.Printf("[%-8s][update] ✔ %s", c.cycleID, c.summary)
			delete(buffers, c.cycleID)

		case actFlushErr:
			if b := buffers[c.cycleID]; b != nil {
				for _, ln := range strings.Split(strings.TrimRight(b.String(), "\n"), "\n") {
					if ln != "" {
						log.Print(ln)
					}
				}
				delete(buffers, c.cycleID)
			}
			log.Printf("[%-8s][ERROR] %v", c.cycleID, c.err)
		}
	}
}
