package wikiapi

import (
	"errors"
	"fmt"
	"strings"

	"github.com/antonholmquist/jason"
)

// ErrSkipEdit is returned by an edit content function to leave the page
// untouched. The edit then succeeds with EditResult.Skipped set.
var ErrSkipEdit = errors.New("skip edit")

// ErrNoLastPage is returned by the methods acting on the last fetched
// page (Edit, MoveTo, Purge without a target) before any page was
// fetched.
var ErrNoLastPage = errors.New("no page has been fetched yet; call Page first")

// ErrPageMissing is returned when an operation needs an existing page.
var ErrPageMissing = errors.New("page does not exist")

// ErrStop can be returned by the callbacks of For, Listen and RunSQL to
// end the iteration early without an error.
var ErrStop = errors.New("stop iteration")

// Cancel is returned by an edit content function to abandon an edit
// with a reason. It is not treated as a failure; the edit succeeds with
// EditResult.Cancelled set.
type Cancel struct {
	Reason string
}

func (c *Cancel) Error() string {
	if c.Reason == "" {
		return "edit cancelled"
	}
	return "edit cancelled: " + c.Reason
}

// CancelEdit returns a *Cancel with reason.
func CancelEdit(reason string) error {
	return &Cancel{Reason: reason}
}

// EditError is returned when the API refused an edit, move or upload.
// Result holds the raw result object of the API answer when there is
// one.
type EditError struct {
	Title  string
	Code   string
	Info   string
	Result *jason.Object
	Err    error
}

func (e *EditError) Error() string {
	var b strings.Builder
	if e.Title != "" {
		fmt.Fprintf(&b, "[[%s]]: ", e.Title)
	}
	b.WriteString(e.Code)
	if e.Info != "" {
		b.WriteString(": ")
		b.WriteString(e.Info)
	}
	return b.String()
}

func (e *EditError) Unwrap() error {
	return e.Err
}

// DownloadError lists the files that could not be downloaded.
type DownloadError struct {
	ErrorTitles []string
	Err         error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("failed to download %d file(s): %s", len(e.ErrorTitles), strings.Join(e.ErrorTitles, ", "))
}

func (e *DownloadError) Unwrap() error {
	return e.Err
}
