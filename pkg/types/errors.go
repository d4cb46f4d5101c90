package types

import "errors"

var (
	// ErrInputNotFound is returned when the input image path does not exist or is not a file.
	ErrInputNotFound = errors.New("input not found")

	// ErrImageDecode is returned when an image cannot be opened or decoded.
	ErrImageDecode = errors.New("image decode failed")

	// ErrModelLoad is returned when a model artifact exists but cannot be loaded.
	ErrModelLoad = errors.New("model load failed")

	// ErrInference is returned when a loaded model fails while running.
	ErrInference = errors.New("inference failed")

	// ErrWrite is returned when a regenerated image cannot be persisted.
	ErrWrite = errors.New("write failed")
)
