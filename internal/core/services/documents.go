package services

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"genforge/internal/core/domain"
)

// Document is one tracked file: the editor's view of its content, not
// necessarily what is on disk.
type Document struct {
	Text       string `json:"text"`
	Version    int    `json:"version"`
	LanguageID string `json:"language_id"`
}

// ContentChange is one incremental edit. A nil Range replaces the whole
// document.
type ContentChange struct {
	Range *domain.Range `json:"range,omitempty"`
	Text  string        `json:"text"`
}

// DocumentStore keeps the live text and version of every open file.
// Reconciliation always runs against this store, never against disk.
type DocumentStore struct {
	logger *slog.Logger
	mu     sync.Mutex
	docs   map[string]*Document
}

func NewDocumentStore(logger *slog.Logger) *DocumentStore {
	return &DocumentStore{
		logger: logger.With("component", "document_store"),
		docs:   make(map[string]*Document),
	}
}

// Open registers (or re-registers) a document with its full text.
func (s *DocumentStore) Open(file, text string, version int, languageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.docs[file] = &Document{Text: text, Version: version, LanguageID: languageID}
	s.logger.Debug("document opened", "file", file, "version", version, "language", languageID)
}

// Change applies incremental edits in order and moves the document to the
// given version. Versions must advance: a change carrying a version at or
// below the document's current one was computed against text that has
// since moved, and is rejected with domain.ErrVersionConflict.
func (s *DocumentStore) Change(file string, version int, changes []ContentChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[file]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	if version <= doc.Version {
		return fmt.Errorf("%w: %s is at version %d, change carries %d",
			domain.ErrVersionConflict, file, doc.Version, version)
	}
	doc.Version = version
	applyChanges(doc, changes)
	return nil
}

// ChangeFromBase applies edits computed against a specific version of the
// document. If the document has moved past baseVersion the edits no longer
// address the text they were computed from, so the write is rejected with
// domain.ErrVersionConflict and the caller must re-read and recompute.
func (s *DocumentStore) ChangeFromBase(file string, baseVersion int, changes []ContentChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[file]
	if !ok {
		return domain.ErrDocumentNotFound
	}
	if doc.Version != baseVersion {
		return fmt.Errorf("%w: %s moved from version %d to %d",
			domain.ErrVersionConflict, file, baseVersion, doc.Version)
	}
	doc.Version++
	applyChanges(doc, changes)
	return nil
}

func applyChanges(doc *Document, changes []ContentChange) {
	for _, change := range changes {
		if change.Range == nil {
			doc.Text = change.Text
			continue
		}
		start := positionToOffset(doc.Text, change.Range.Start)
		end := positionToOffset(doc.Text, change.Range.End)
		if end < start {
			start, end = end, start
		}
		doc.Text = doc.Text[:start] + change.Text + doc.Text[end:]
	}
}

// Get returns a copy of the document.
func (s *DocumentStore) Get(file string) (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[file]
	if !ok {
		return Document{}, false
	}
	return *doc, true
}

// Close forgets a document.
func (s *DocumentStore) Close(file string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, file)
}

// List returns the open file paths, for status reporting.
func (s *DocumentStore) List() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.docs))
	for file := range s.docs {
		out = append(out, file)
	}
	return out
}

// positionToOffset maps a zero-indexed line/character position to a byte
// offset. Positions past the last line clamp to the end of the text.
func positionToOffset(text string, pos domain.Position) int {
	offset := 0
	line := 0
	for {
		if line == pos.Line {
			end := offset + pos.Character
			if end > len(text) {
				end = len(text)
			}
			return end
		}
		nl := strings.IndexByte(text[offset:], '\n')
		if nl < 0 {
			return len(text)
		}
		offset += nl + 1
		line++
	}
}
