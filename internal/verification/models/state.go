package models

// State is the engine's in-memory position in the verification flow.
type State string

const (
	StateInit             State = "INIT"
	StateDocumentCapture  State = "DOCUMENT_CAPTURE"
	StateDocumentVerified State = "DOCUMENT_VERIFIED"
	StateFaceCapture      State = "FACE_CAPTURE"
	StateLivenessCheck    State = "LIVENESS_CHECK"
	StateFaceVerified     State = "FACE_VERIFIED"
	StateMatching         State = "MATCHING"
	StateFinalizing       State = "FINALIZING"
	StateCompleted        State = "COMPLETED"
	StateFailed           State = "FAILED"
)

func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// IsCapture reports whether the state accepts user captures and runs advisory pollers.
func (s State) IsCapture() bool {
	return s == StateDocumentCapture || s == StateFaceCapture || s == StateLivenessCheck
}

// ScoreKind selects which thresholds a score is gated against.
type ScoreKind string

const (
	KindDocument ScoreKind = "document"
	KindLiveness ScoreKind = "liveness"
	KindMatch    ScoreKind = "match"
	KindOverall  ScoreKind = "overall"
)

// StageScore is one terminal stage result fed to aggregation.
type StageScore struct {
	Kind  ScoreKind
	Score float64
}
