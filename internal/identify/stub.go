package identify

import "context"

// StubRecognizer is the default Recognizer used when no real
// music-recognition library is wired in. It always reports no match,
// which is a valid and common outcome for the real collaborator too.
type StubRecognizer struct{}

// Recognize always returns a nil match with no error.
func (StubRecognizer) Recognize(ctx context.Context, audioFilePath string) (*Match, error) {
	return nil, nil
}

// RecognizeSync runs recognizer directly on the caller's goroutine,
// bypassing the pool entirely. This is the degenerate dev-mode path: an
// implementation may omit it, and production traffic should always go
// through Pool.Submit instead.
func RecognizeSync(ctx context.Context, recognizer Recognizer, audioFilePath string) (*Match, error) {
	return recognizer.Recognize(ctx, audioFilePath)
}
