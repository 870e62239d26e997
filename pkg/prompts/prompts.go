// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package prompts loads and interpolates the externalized prompt templates.
//
// Templates are data, not code: each template file is a JSON object mapping a
// key to an array of lines, joined with newlines at render time. Placeholders
// use {name} and are replaced verbatim.
package prompts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// File names under the prompts directory.
const (
	InstructorFile = "instructor_system_prompt.json"
	AssistantFile  = "assistant_system_prompt.json"
	ToolFile       = "tool_prompt.json"
)

// Library holds the templates of one file, keyed by name.
type Library struct {
	templates map[string][]string
	source    string
}

// Load reads one template file.
func Load(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt file %s: %w", path, err)
	}

	var templates map[string][]string
	if err := json.Unmarshal(data, &templates); err != nil {
		return nil, fmt.Errorf("failed to parse prompt file %s: %w", path, err)
	}
	return &Library{templates: templates, source: path}, nil
}

// NewLibrary builds an in-memory library. Tests swap templates through this.
func NewLibrary(templates map[string][]string) *Library {
	return &Library{templates: templates, source: "inline"}
}

// Has reports whether key exists.
func (l *Library) Has(key string) bool {
	_, ok := l.templates[key]
	return ok
}

// Keys lists the template names present in the file.
func (l *Library) Keys() []string {
	keys := make([]string, 0, len(l.templates))
	for k := range l.templates {
		keys = append(keys, k)
	}
	return keys
}

// Render joins the template's lines and substitutes every {name} placeholder
// with the given value. Unlisted placeholders are left intact.
func (l *Library) Render(key string, vars map[string]string) (string, error) {
	lines, ok := l.templates[key]
	if !ok {
		return "", fmt.Errorf("template %q not found in %s", key, l.source)
	}

	text := strings.Join(lines, "\n")
	for name, value := range vars {
		text = strings.ReplaceAll(text, "{"+name+"}", value)
	}
	return text, nil
}

// MustRender is Render for keys the caller guarantees exist; it panics on a
// missing key, which indicates a broken deployment rather than runtime input.
func (l *Library) MustRender(key string, vars map[string]string) string {
	text, err := l.Render(key, vars)
	if err != nil {
		panic(err)
	}
	return text
}

// Set bundles the three template files a deployment ships.
type Set struct {
	Instructor *Library
	Assistant  *Library
	Tool       *Library
}

// LoadSet loads the instructor, assistant and tool template files from dir.
func LoadSet(dir string) (*Set, error) {
	instructor, err := Load(filepath.Join(dir, InstructorFile))
	if err != nil {
		return nil, err
	}
	assistant, err := Load(filepath.Join(dir, AssistantFile))
	if err != nil {
		return nil, err
	}
	tool, err := Load(filepath.Join(dir, ToolFile))
	if err != nil {
		return nil, err
	}

	set := &Set{Instructor: instructor, Assistant: assistant, Tool: tool}
	if err := set.validate(); err != nil {
		return nil, err
	}
	return set, nil
}

// Keys every deployment must provide.
var (
	systemKeys = []string{
		"role", "chat_history", "task", "agent_chat_history",
		"return_format", "return_format_withinfonav",
	}
	toolKeys = []string{
		"infonav_init", "infonav_mark", "infonav_update",
		"conclusion", "consensus_conclusion",
		"sql_react", "faiss_react",
		"json_reformat", "json_reformat_woreference",
		"raise_new_communication", "rewrite_task",
	}
)

func (s *Set) validate() error {
	for _, key := range systemKeys {
		if !s.Instructor.Has(key) {
			return fmt.Errorf("instructor prompt file missing template %q", key)
		}
		if !s.Assistant.Has(key) {
			return fmt.Errorf("assistant prompt file missing template %q", key)
		}
	}
	for _, key := range toolKeys {
		if !s.Tool.Has(key) {
			return fmt.Errorf("tool prompt file missing template %q", key)
		}
	}
	return nil
}

// ForRole returns the system library for the given instructor flag.
func (s *Set) ForRole(instructor bool) *Library {
	if instructor {
		return s.Instructor
	}
	return s.Assistant
}
