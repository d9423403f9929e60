// Package archiverun runs a long-lived archiver: it follows one queue file
// with a checkpointed reader, copies every message into the queue's Pebble
// archive and trims the archive by age and size.
package archiverun
