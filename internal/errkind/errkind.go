// Package errkind defines the sentinel error taxonomy shared across
// Rivulet's packages, so callers can classify failures with errors.Is
// instead of reaching into each package's own sentinel set.
package errkind

import "errors"

var (
	// ErrNotFound indicates a feed or item URL/ID is not present.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a duplicate that cannot be reconciled (a
	// UNIQUE violation on a non-upsertable column).
	ErrConflict = errors.New("conflict")

	// ErrFeedParse indicates malformed feed bytes.
	ErrFeedParse = errors.New("feed parse error")

	// ErrHTTP indicates a network, DNS, TLS, timeout, or non-2xx/304 failure.
	ErrHTTP = errors.New("http error")

	// ErrStorage indicates a database I/O or constraint failure.
	ErrStorage = errors.New("storage error")

	// ErrOPML indicates malformed OPML.
	ErrOPML = errors.New("opml parse error")

	// ErrScrape indicates a browser launch, navigation timeout, or
	// extraction script failure.
	ErrScrape = errors.New("scrape error")

	// ErrConfig indicates an unreadable or malformed config file,
	// recovered by falling back to defaults.
	ErrConfig = errors.New("config error")
)
