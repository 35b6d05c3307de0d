// Package scrape turns PLC console HTML into typed records.
//
// All knowledge of the console's markup lives here: listing tables become
// Rows and an Index, edit pages become a Record, and upload replies yield an
// artifact token. Callers only see maps.
package scrape
