package httpapi

// Request bodies validated with go-playground/validator struct tags
// before any handler touches a component. JSON object keys are always
// strings, so per-question maps keyed by question number round-trip
// through a string key and get parsed against domain.AnswerKey.Entries'
// int keys inside the handler.

type createPaperRequest struct {
	ExamID         string `json:"exam_id" validate:"required"`
	Subject        string `json:"subject" validate:"required"`
	TotalQuestions int    `json:"total_questions" validate:"required,gt=0"`
	MaxMarks       string `json:"max_marks" validate:"required"`
	ContentHash    string `json:"content_hash" validate:"required,len=64,hexadecimal"`
}

type answerKeyEntryRequest struct {
	QuestionNumber int    `json:"question_number" validate:"required,gt=0"`
	ExpectedAnswer string `json:"expected_answer" validate:"required"`
	Marks          string `json:"marks" validate:"required"`
	AmbiguityNotes string `json:"ambiguity_notes"`
}

type createKeyRequest struct {
	PaperID string                  `json:"paper_id" validate:"required"`
	Entries []answerKeyEntryRequest `json:"entries" validate:"required,min=1,dive"`
}

type approveKeyRequest struct {
	Corrections map[string]string `json:"corrections"`
}

type ingestSheetRequest struct {
	ExamID       string `json:"exam_id" validate:"required"`
	PaperID      string `json:"paper_id" validate:"required"`
	RollNumber   string `json:"roll_number" validate:"required"`
	ImageBase64  string `json:"image_base64" validate:"required,base64"`
	IngestSource string `json:"ingest_source"`
}

type bubbleAnswerRequest struct {
	Answer     string  `json:"answer" validate:"required"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

type submitBubblesRequest struct {
	Answers map[string]bubbleAnswerRequest `json:"answers" validate:"required,min=1,dive"`
}

type submitManualRequest struct {
	EnteredBy string            `json:"entered_by" validate:"required"`
	Answers   map[string]string `json:"answers" validate:"required,min=1"`
}

type signatureRequest struct {
	SignerKind string `json:"signer_kind" validate:"required"`
	SignerKey  string `json:"signer_key" validate:"required,hexadecimal"`
	Signature  string `json:"signature" validate:"required,hexadecimal"`
}

type finalizeSheetRequest struct {
	Signatures []signatureRequest `json:"signatures" validate:"required,min=1,dive"`
}

type workflowCompleteRequest struct {
	SheetID string `json:"sheet_id" validate:"required"`
}

type claimInterventionRequest struct {
	Assignee string `json:"assignee" validate:"required"`
}

type resolveInterventionRequest struct {
	Assignee       string `json:"assignee" validate:"required"`
	ResolutionNote string `json:"resolution_note" validate:"required"`
}
