// Package iox provides I/O helpers for resource cleanup.
package iox

import "io"

// drainLimit bounds how much of an unread body DrainClose will consume.
const drainLimit = 64 << 10

// DiscardClose closes c and discards the error.
//
//	defer iox.DiscardClose(gz)
func DiscardClose(c io.Closer) { _ = c.Close() }

// DrainClose reads up to 64KiB of what is left in rc, then closes it, so an
// HTTP connection can return to the pool.
//
//	defer iox.DrainClose(resp.Body)
func DrainClose(rc io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, drainLimit))
	_ = rc.Close()
}

// CloseInto closes c and stores its error in *errp unless *errp already
// holds one. It is meant for deferred closes of files being written:
//
//	defer iox.CloseInto(&err, f)
func CloseInto(errp *error, c io.Closer) {
	if cerr := c.Close(); cerr != nil && *errp == nil {
		*errp = cerr
	}
}
