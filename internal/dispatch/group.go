package dispatch

import (
	"github.com/mrenwl2001/playwright1/internal/ipc"
	"github.com/mrenwl2001/playwright1/internal/suite"
)

// Entry is one runnable test attempt, annotated with the coordinates the
// grouping key needs.
type Entry struct {
	Test            *suite.Test
	ProjectID       string
	RepeatEachIndex int
	WorkerHash      string
	Retry           int
}

// TestGroup is the unit of work handed to a worker process: entries sharing
// one (file, project, hash, repeat) key, in file-declared order. Immutable
// once built.
type TestGroup struct {
	WorkerHash      string
	ProjectID       string
	RepeatEachIndex int
	File            string
	Entries         []ipc.TestEntry
}

type groupKey struct {
	file    string
	project string
	hash    string
	repeat  int
}

// BuildGroups partitions entries into TestGroups. Group order follows the
// first appearance of each key; entry order within a group is preserved.
func BuildGroups(entries []Entry) []*TestGroup {
	byKey := map[groupKey]*TestGroup{}
	var groups []*TestGroup
	for _, e := range entries {
		key := groupKey{
			file:    e.Test.Location.File,
			project: e.ProjectID,
			hash:    e.WorkerHash,
			repeat:  e.RepeatEachIndex,
		}
		g, ok := byKey[key]
		if !ok {
			g = &TestGroup{
				WorkerHash:      e.WorkerHash,
				ProjectID:       e.ProjectID,
				RepeatEachIndex: e.RepeatEachIndex,
				File:            key.file,
			}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.Entries = append(g.Entries, ipc.TestEntry{TestID: e.Test.ID, Retry: e.Retry})
	}
	return groups
}

// EntriesFor computes the dispatch entries for one suite under one project
// and repeat index, hashing each test's effective registry. Tests registered
// through different extension chains may land in different hash partitions
// even within one project.
func EntriesFor(s *suite.Suite, projectID string, options map[string]any, repeatEachIndex, retry int) ([]Entry, error) {
	entries := make([]Entry, 0, len(s.Tests))
	for _, t := range s.Tests {
		reg, err := t.Registry.WithOptionValues(options)
		if err != nil {
			return nil, err
		}
		h, err := Hash(reg, projectID, repeatEachIndex)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{
			Test:            t,
			ProjectID:       projectID,
			RepeatEachIndex: repeatEachIndex,
			WorkerHash:      h,
			Retry:           retry,
		})
	}
	return entries, nil
}
