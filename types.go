package madoguchi

// Public mirrors of the internal domain enums and structs, so embedders
// can implement extension points without importing internal packages.

// Category is the intent class a classifier assigns to a user message.
type Category string

const (
	CategoryTechnical Category = "technical"
	CategoryBilling   Category = "billing"
	CategoryUnknown   Category = "unknown"
)

// Speaker identifies who produced a conversation turn.
type Speaker string

const (
	SpeakerUser       Speaker = "user"
	SpeakerSpecialist Speaker = "specialist"
)

// Turn is one utterance of conversation context handed to a classifier.
type Turn struct {
	Speaker Speaker
	Text    string
}

// ClassificationResult is a classifier's verdict for one message.
// Confidence must be in [0,1]; out-of-range results are treated as a
// classifier failure.
type ClassificationResult struct {
	Category   Category
	Confidence float64
	Rationale  string
}
