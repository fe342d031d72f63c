package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/m4xw311/tandem/errors"
)

// DefaultDir is where transcripts are kept relative to the working directory.
var DefaultDir = filepath.Join(".tandem", "sessions")

// Transcript is a persisted conversation. History is stored as exported
// records so that files stay readable and independent of Go types.
type Transcript struct {
	Name    string   `json:"name"`
	Mode    string   `json:"mode,omitempty"`
	Toolset string   `json:"toolset,omitempty"`
	History []Record `json:"history"`
}

// Messages rehydrates the stored history.
func (t *Transcript) Messages() ([]Message, error) {
	return ImportHistory(t.History)
}

// SetMessages replaces the stored history.
func (t *Transcript) SetMessages(messages []Message) {
	t.History = ExportHistory(messages)
}

// Store reads and writes transcripts under Dir.
type Store struct {
	Dir string
}

// NewStore returns a store rooted at dir, or DefaultDir when dir is empty.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultDir
	}
	return &Store{Dir: dir}
}

// Create returns a new, empty transcript. Nothing is written until Save.
func (s *Store) Create(name string) *Transcript {
	return &Transcript{Name: name, History: []Record{}}
}

// ErrInvalidName is returned for transcript names that would resolve
// outside the store directory.
var ErrInvalidName = errors.Sentinel("invalid session name")

// ValidName reports whether name can be used as a transcript file name:
// non-empty, no path separators and no "..".
func ValidName(name string) error {
	if name == "" || name == "." || strings.Contains(name, "..") ||
		strings.ContainsAny(name, `/\`) || filepath.Base(name) != name {
		return errors.Wrapf(ErrInvalidName, "%q", name)
	}
	return nil
}

// Load reads an existing transcript from disk.
func (s *Store) Load(name string) (*Transcript, error) {
	if err := ValidName(name); err != nil {
		return nil, err
	}
	path := s.path(name)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read session file %s", path)
	}

	var t Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrapf(err, "could not parse session file %s", path)
	}
	return &t, nil
}

// Save writes the transcript to disk, creating the directory if needed.
func (s *Store) Save(t *Transcript) error {
	if err := ValidName(t.Name); err != nil {
		return err
	}
	if err := os.MkdirAll(s.Dir, 0755); err != nil {
		return errors.Wrapf(err, "could not create session directory")
	}
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return errors.Wrapf(err, "failed to serialize session")
	}
	return os.WriteFile(s.path(t.Name), data, 0644)
}

func (s *Store) path(name string) string {
	return filepath.Join(s.Dir, fmt.Sprintf("%s.json", name))
}
