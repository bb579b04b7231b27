package app

import "errors"

var (
	ErrProjectNotFound  = errors.New("project not found")
	ErrDocumentNotFound = errors.New("document not found")
	// ErrProjectForbidden indicates the caller's groups do not grant access.
	ErrProjectForbidden = errors.New("project forbidden")
	// ErrProjectNotPublished indicates chat was attempted against a draft.
	ErrProjectNotPublished = errors.New("project not published")
	ErrUnsupportedFileType = errors.New("unsupported file type")
)
