package model

type NotFoundError struct{}

func (e NotFoundError) Error() string {
	return "not found"
}

type DuplicateError struct{}

func (e DuplicateError) Error() string {
	return "duplicate entry"
}

// TestRunError is a user facing error raised during a run that does not
// abort the run itself.
type TestRunError string

const (
	// TestRunErrorDownloadURLsFailed is reported when the web target list
	// could not be fetched or came back empty.
	TestRunErrorDownloadURLsFailed TestRunError = "download_urls_failed"
)

func (e TestRunError) Error() string {
	return string(e)
}
