package model

import "errors"

// Store implementations translate their native failures into these.
var (
	ErrNotFound = errors.New("not found")
	ErrOverlap  = errors.New("overlapping booking")
)
