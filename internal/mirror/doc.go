// Package mirror reads and removes the controller's stored copy of an
// uploaded artifact over a side channel (SSH), independent of the web
// session.
//
// It exists only for change detection: if the stored copy already matches the
// local file, the upload and compile pipeline can be skipped.
package mirror
