// Package controller owns the authenticated HTTP session against a PLC web
// console.
//
// Ownership boundary:
// - login and cookie state
//
// - GET and form/multipart POST
//
// - response validation (status and embedded backend errors)
//
// The console reports some internal failures by appending text to an otherwise
// normal 200 page, so a 200 status alone is never treated as success.
package controller
