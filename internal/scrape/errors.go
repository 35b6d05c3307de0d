package scrape

import (
	"errors"
	"fmt"
)

var ErrScrape = errors.New("scrape: expected content missing")

// ScrapeError reports that a reply parsed but lacked what the caller needed,
// which usually means the console markup changed.
type ScrapeError struct {
	What    string
	Excerpt string
	Err     error
}

func (e *ScrapeError) Error() string {
	msg := fmt.Sprintf("scrape: %s", e.What)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Excerpt != "" {
		msg += fmt.Sprintf(" (body: %q)", e.Excerpt)
	}
	return msg
}

func (e *ScrapeError) Is(target error) bool { return target == ErrScrape }

func (e *ScrapeError) Unwrap() error { return e.Err }

const excerptLen = 200

func excerpt(body string) string {
	if len(body) <= excerptLen {
		return body
	}
	return body[:excerptLen] + "..."
}
