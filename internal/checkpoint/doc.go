// Package checkpoint stores durable reader cursors for queue files in Pebble.
//
// A reader opened with a Name and a *Cursors resumes after the last id it
// committed. Cursors never move backwards: committing an id that is not
// newer than the stored one is a no-op.
package checkpoint
