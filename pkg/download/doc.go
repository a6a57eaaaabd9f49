// Package download streams successful responses to disk.
//
// Download asks the executor for a streamed response and passes the body to
// Write, which copies it through a buffered writer while reporting progress.
// The destination handle is always flushed and closed, whether the copy
// finishes, the body is cut short, the disk fails or the context is
// cancelled. Partial files are left in place by default and recorded as
// incomplete in the manifest when one is configured.
package download
