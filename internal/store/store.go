package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"crewline/internal/db"
	"crewline/internal/domain"
)

const (
	tasksFile  = "tasks.json"
	agentsFile = "agents.json"
)

// Store holds the two aggregates as whole documents. Save replaces both
// snapshots; there is no partial update path.
type Store interface {
	LoadTasks() (domain.TaskDocument, error)
	LoadAgents() (domain.AgentDocument, error)
	Save(tasks domain.TaskDocument, agents domain.AgentDocument) error
}

// FileStore keeps the documents as JSON files under the workspace dot
// directory. Single writer assumed; concurrent processes pointed at the
// same workspace race with last-write-wins.
type FileStore struct {
	Dir string
}

// NewFileStore creates the workspace dot directory and returns a store
// rooted there.
func NewFileStore(workspace string) (FileStore, error) {
	dir, err := db.EnsureWorkspace(workspace)
	if err != nil {
		return FileStore{}, err
	}
	return FileStore{Dir: dir}, nil
}

// LoadTasks reads the task document. A missing file loads as an empty
// collection so a fresh workspace needs no init step.
func (s FileStore) LoadTasks() (domain.TaskDocument, error) {
	var doc domain.TaskDocument
	if err := s.readJSON(tasksFile, &doc); err != nil {
		return domain.TaskDocument{}, err
	}
	return doc, nil
}

// LoadAgents reads the agent document; missing file loads empty.
func (s FileStore) LoadAgents() (domain.AgentDocument, error) {
	var doc domain.AgentDocument
	if err := s.readJSON(agentsFile, &doc); err != nil {
		return domain.AgentDocument{}, err
	}
	return doc, nil
}

// Save persists both documents via temp file plus rename.
func (s FileStore) Save(tasks domain.TaskDocument, agents domain.AgentDocument) error {
	if err := s.writeJSON(tasksFile, tasks); err != nil {
		return fmt.Errorf("save tasks: %w", err)
	}
	if err := s.writeJSON(agentsFile, agents); err != nil {
		return fmt.Errorf("save agents: %w", err)
	}
	return nil
}

func (s FileStore) readJSON(name string, out any) error {
	data, err := os.ReadFile(filepath.Join(s.Dir, name))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

func (s FileStore) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	path := filepath.Join(s.Dir, name)
	tmp, err := os.CreateTemp(s.Dir, name+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
