package domain

import "time"

// Speaker identifies who produced a transcript turn.
type Speaker string

// Transcript speakers.
const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Citation points at the document segment an answer was grounded on.
type Citation struct {
	Filename   string `json:"filename"`
	ChunkIndex int    `json:"chunk_index"`
}

// Turn is one entry of an assistant transcript.
type Turn struct {
	ID        string     `json:"id"`
	Speaker   Speaker    `json:"speaker"`
	Text      string     `json:"text"`
	Sources   []Citation `json:"sources,omitempty"`
	Synthetic bool       `json:"synthetic,omitempty"`
	At        time.Time  `json:"at"`
}

// ServiceStatus is the last observed liveness of the assistant service.
type ServiceStatus string

// Assistant service statuses.
const (
	StatusUnknown   ServiceStatus = "unknown"
	StatusHealthy   ServiceStatus = "healthy"
	StatusUnhealthy ServiceStatus = "unhealthy"
)

// AssistantHealth is the assistant service liveness report.
type AssistantHealth struct {
	Status     string `json:"status"`
	LLM        string `json:"ollama,omitempty"`
	VectorDB   string `json:"pinecone,omitempty"`
	Embeddings string `json:"embeddings,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Answer is the assistant service response to a question.
type Answer struct {
	Success  bool       `json:"success"`
	Answer   string     `json:"answer"`
	Sources  []Citation `json:"sources"`
	Question string     `json:"question"`
}

// UploadResult is the assistant service response to a document upload.
type UploadResult struct {
	Success    bool   `json:"success"`
	Message    string `json:"message"`
	Chunks     int    `json:"chunks_count"`
	Characters int    `json:"characters_count"`
}

// Document is an uploaded document known to the assistant service.
type Document struct {
	Filename   string    `json:"filename"`
	Chunks     int       `json:"chunks_count"`
	UploadedAt time.Time `json:"uploaded_at"`
}
