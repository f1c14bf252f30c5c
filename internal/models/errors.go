package models

import "errors"

// Application-wide standard errors
var (
	// Model call errors
	ErrEmptyModelResponse     = errors.New("empty response from model API")
	ErrMalformedModelResponse = errors.New("model response does not match the requested schema")

	// Image rendering errors
	ErrContentRejected = errors.New("image prompt rejected by content policy")

	// Session/turn errors
	ErrStoryFrameMissing  = errors.New("story frame is not initialized for this session")
	ErrStoryFinished      = errors.New("story is already finished")
	ErrStoryNotStarted    = errors.New("story has not been started yet")
	ErrChoiceTextRequired = errors.New("choice text is required")

	// General Request/Server Errors
	ErrInternalServer = errors.New("internal server error")
	ErrBadRequest     = errors.New("bad request")
)
