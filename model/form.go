package model

import "time"

// SnapshotVersion is the schema tag written into every persisted snapshot.
// Snapshots carrying a different version are treated as absent on recovery.
const SnapshotVersion = "1.0"

// UploadedFile describes one file already uploaded to the backend and
// referenced from the form by URL.
type UploadedFile struct {
	FileName string `json:"file_name"`
	FileURL  string `json:"file_url"`
	FileSize int64  `json:"file_size"`
	FileType string `json:"file_type"`
}

// FormSnapshot is a full point-in-time serialization of the wizard state.
// It is the unit of persistence for both the auto-save envelope and the
// recovery path. FormData is schema-open: the wizard pages own validation,
// the snapshot does not.
type FormSnapshot struct {
	Version       string                    `json:"version"`
	Timestamp     time.Time                 `json:"timestamp"`
	FormData      map[string]any            `json:"form_data"`
	CurrentPage   int                       `json:"current_page"`
	VisitedPages  []int                     `json:"visited_pages"`
	UploadedFiles map[string][]UploadedFile `json:"uploaded_files"`
}

// HasFormData reports whether the snapshot carries any recoverable content.
func (s FormSnapshot) HasFormData() bool {
	return len(s.FormData) > 0
}
