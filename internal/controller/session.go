package controller

import "github.com/dontdude/qdoas/internal/domain"

// SessionFile is one file of a session together with the project it is accessed with.
type SessionFile struct {
	Path    string
	Project *domain.Project
}

// Session is the ordered list of files visited by the controller.
type Session struct {
	files []SessionFile
}

func NewSession() *Session { return &Session{} }

// Add appends paths accessed with project. The project is copied.
func (s *Session) Add(project *domain.Project, paths ...string) *Session {
	for _, p := range paths {
		s.files = append(s.files, SessionFile{Path: p, Project: project.Clone()})
	}
	return s
}

func (s *Session) Len() int {
	if s == nil {
		return 0
	}
	return len(s.files)
}

// File returns the i-th file. The project is a copy.
func (s *Session) File(i int) SessionFile {
	f := s.files[i]
	f.Project = f.Project.Clone()
	return f
}

func (s *Session) project(i int) *domain.Project { return s.files[i].Project }
func (s *Session) path(i int) string             { return s.files[i].Path }
