package narrate

// DialogTurn is a single scripted utterance in a two-host dialog.
type DialogTurn struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// ChunkResult is one synthesized chunk delivered by ChunksStream. Results
// arrive in completion order, not index order. A failed chunk carries a nil
// Audio and a non-nil Err.
type ChunkResult struct {
	Index int
	Audio []byte
	Err   error
}
