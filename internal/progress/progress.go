// Package progress prints how far through the current input file a load is,
// measured by byte offset.
package progress

import (
	"fmt"
	"io"
)

// Reporter writes "\rProcessing NN.NN%" lines to a diagnostic stream. It
// redraws only when the percentage moved by more than 0.01 points.
type Reporter struct {
	w    io.Writer
	size int64
	prev float64
	open bool // a line without its newline is on screen
}

// New returns a Reporter writing to w.
func New(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

// Begin starts reporting for a file of size bytes. Files of unknown size
// (size <= 0) only get the final line.
func (r *Reporter) Begin(name string, size int64) {
	r.size = size
	r.prev = 0
	r.open = true
	fmt.Fprintf(r.w, "\rProcessing %06.2f%%", 0.0)
}

// Advance reports that offset bytes have been consumed.
func (r *Reporter) Advance(offset int64) {
	if r.size <= 0 {
		return
	}
	cur := float64(offset) / float64(r.size) * 100
	if cur > 100 {
		cur = 100
	}
	if cur-r.prev > 0.01 {
		fmt.Fprintf(r.w, "\rProcessing %06.2f%%", cur)
		r.prev = cur
	}
}

// Finish prints the terminating 100% line.
func (r *Reporter) Finish() {
	fmt.Fprintf(r.w, "\rProcessing %06.2f%%\n", 100.0)
	r.open = false
}

// Abort ends the current line where it stands, so the error that follows
// starts on a line of its own.
func (r *Reporter) Abort() {
	if r.open {
		fmt.Fprintln(r.w)
		r.open = false
	}
}
