package domain

import "strings"

// Student is one roster entry mirrored from the remote store.
type Student struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Section string `json:"section"`
}

// FilterSection returns the students whose section equals section, in roster
// order. The input slice is never modified.
func FilterSection(students []Student, section string) []Student {
	active := make([]Student, 0, len(students))
	for _, student := range students {
		if student.Section == section {
			active = append(active, student)
		}
	}
	return active
}

// Sections lists the distinct non-empty sections in first-seen roster order.
func Sections(students []Student) []string {
	seen := make(map[string]struct{}, len(students))
	sections := make([]string, 0)
	for _, student := range students {
		section := student.Section
		if strings.TrimSpace(section) == "" {
			continue
		}
		if _, ok := seen[section]; ok {
			continue
		}
		seen[section] = struct{}{}
		sections = append(sections, section)
	}
	return sections
}

// CloneStudents copies a roster snapshot so callers cannot alias store memory.
func CloneStudents(students []Student) []Student {
	if students == nil {
		return nil
	}
	return append([]Student(nil), students...)
}
