package diagnosis

// Diagnosis is the step-1 result. It never changes once the backend minted it.
type Diagnosis struct {
	ID         string  `json:"id" yaml:"id"`
	IsNormal   bool    `json:"is_normal" yaml:"is_normal"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

// Category is the step-2 classification attached to a diagnosis.
type Category struct {
	ID         string  `json:"id" yaml:"id"`
	Category   string  `json:"category" yaml:"category"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
}

type CategoryKind int

const (
	CategoryPending CategoryKind = iota
	CategoryResolved
)

func (kind CategoryKind) String() string {
	if kind == CategoryResolved {
		return "resolved"
	}
	return "pending"
}

// CategoryResult is what a step-2 fetch yields when it does not fail: either
// the job is still running, or the category is ready.
type CategoryResult struct {
	Kind     CategoryKind
	Category *Category
}

func Pending() CategoryResult {
	return CategoryResult{Kind: CategoryPending}
}

func Resolved(category Category) CategoryResult {
	return CategoryResult{Kind: CategoryResolved, Category: &category}
}

func (result CategoryResult) IsPending() bool {
	return result.Kind == CategoryPending
}

// Attribute is a step-3 question.
type Attribute struct {
	ID          int    `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
}

// Answer pairs an attribute id with the user's free-text response.
type Answer struct {
	AttributeID int    `json:"attribute_id" yaml:"attribute_id"`
	Response    string `json:"response" yaml:"response"`
}

type AttributeAnalysis struct {
	UserInput          string             `json:"user_input" yaml:"user_input"`
	MostSimilarDisease string             `json:"most_similar_disease" yaml:"most_similar_disease"`
	Similarity         float64            `json:"similarity" yaml:"similarity"`
	AllSimilarities    map[string]float64 `json:"all_similarities,omitempty" yaml:"all_similarities,omitempty"`
	LLMAnalysis        string             `json:"llm_analysis" yaml:"llm_analysis"`
}

// DetailedResult is the step-4 outcome, keyed per attribute label.
type DetailedResult struct {
	Category          string                       `json:"category" yaml:"category"`
	Summary           string                       `json:"summary" yaml:"summary"`
	Details           string                       `json:"details" yaml:"details"`
	AttributeAnalysis map[string]AttributeAnalysis `json:"attribute_analysis" yaml:"attribute_analysis"`
}

type step1Request struct {
	ImageURL string `json:"imageUrl"`
}

type attributesResponse struct {
	Attributes []Attribute `json:"attributes"`
}

type userResponse struct {
	DiagnosisRuleID string `json:"diagnosisRuleId"`
	UserResponse    string `json:"userResponse"`
}

type detailedRequest struct {
	DiagnosisID   string         `json:"diagnosisId"`
	UserResponses []userResponse `json:"userResponses"`
}
