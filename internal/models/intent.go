package models

import "fmt"

// IntentKind tags the variant held by an Intent.
type IntentKind int

const (
	IntentPlainChat IntentKind = iota
	IntentImageGeneration
	IntentStory
	IntentImageAction
)

func (k IntentKind) String() string {
	switch k {
	case IntentPlainChat:
		return "plain_chat"
	case IntentImageGeneration:
		return "image_generation"
	case IntentStory:
		return "story"
	case IntentImageAction:
		return "image_action"
	default:
		return fmt.Sprintf("intent(%d)", int(k))
	}
}

// StoryCategory narrows a story idea request.
type StoryCategory string

const (
	StoryAny        StoryCategory = ""
	StorySale       StoryCategory = "sale"
	StorySuspense   StoryCategory = "suspense"
	StoryBackstage  StoryCategory = "backstage"
	StoryResults    StoryCategory = "results"
	StoryEngagement StoryCategory = "engagement"
)

// StoryCategories lists the selectable categories in display order.
var StoryCategories = []StoryCategory{StorySale, StorySuspense, StoryBackstage, StoryResults, StoryEngagement}

// ImageActionKind is the button the client chose for an attached image.
type ImageActionKind string

const (
	ImageAnalyze ImageActionKind = "analyze"
	ImageCaption ImageActionKind = "caption"
	ImagePost    ImageActionKind = "post"
)

// Valid reports whether k is one of the known actions.
func (k ImageActionKind) Valid() bool {
	switch k {
	case ImageAnalyze, ImageCaption, ImagePost:
		return true
	}
	return false
}

// Intent is the classified form of one user turn. Only the fields of the
// variant named by Kind are meaningful.
type Intent struct {
	Kind     IntentKind
	Prompt   string
	Category StoryCategory
	Action   ImageActionKind
}

func PlainChat() Intent { return Intent{Kind: IntentPlainChat} }

func ImageGenerationRequest(prompt string) Intent {
	return Intent{Kind: IntentImageGeneration, Prompt: prompt}
}

func StoryRequest(category StoryCategory) Intent {
	return Intent{Kind: IntentStory, Category: category}
}

func ImageAction(kind ImageActionKind) Intent {
	return Intent{Kind: IntentImageAction, Action: kind}
}
