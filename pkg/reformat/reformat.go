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

// Package reformat coerces free-form model output into a required JSON shape.
//
// The schema is a mapping from required keys to example values whose runtime
// type is the expected type. Reform never returns an error: after the retry
// budget is spent it degrades to the schema itself rendered as text, so a
// caller always receives a decodable mapping.
package reformat

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/kadirpekel/interagent/pkg/eventlog"
	"github.com/kadirpekel/interagent/pkg/llms"
	"github.com/kadirpekel/interagent/pkg/prompts"
)

const retryDelay = time.Second

// Reformatter re-asks the backend to fix malformed JSON, a bounded number of
// times, before falling back to the schema defaults.
type Reformatter struct {
	provider llms.Provider
	tool     *prompts.Library
	retries  int
	events   *eventlog.Logger
}

// New builds a Reformatter. retries below 1 is raised to 1.
func New(provider llms.Provider, tool *prompts.Library, retries int, events *eventlog.Logger) *Reformatter {
	if retries < 1 {
		retries = 1
	}
	if events == nil {
		events = eventlog.NewDiscard()
	}
	return &Reformatter{provider: provider, tool: tool, retries: retries, events: events}
}

// Sanitize strips code fences and replaces bare null/None tokens, which the
// models emit for unknown values, with the string "Error".
func Sanitize(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.ReplaceAll(text, "null", `"Error"`)
	text = strings.ReplaceAll(text, "None", `"Error"`)
	return strings.TrimSpace(text)
}

// Reform returns text whose JSON parse matches schema: exactly the schema's
// keys, each value of the schema value's runtime type. Malformed input is
// re-asked through the json_reformat template up to the retry budget; on
// exhaustion the schema itself is returned rendered as JSON.
func (r *Reformatter) Reform(ctx context.Context, text string, schema map[string]any) string {
	reference, _ := json.Marshal(schema)

	candidate := Sanitize(text)
	for attempt := 0; attempt <= r.retries; attempt++ {
		if matchesSchema(candidate, schema) {
			return candidate
		}
		if attempt == r.retries {
			break
		}

		prompt, err := r.tool.Render("json_reformat", map[string]string{
			"json":      candidate,
			"reference": string(reference),
		})
		if err != nil {
			slog.Warn("reformat template unavailable", "error", err)
			break
		}

		fixed, err := r.ask(ctx, prompt, attempt)
		if err != nil {
			break
		}
		candidate = Sanitize(fixed)
	}

	slog.Debug("reformat degraded to schema defaults")
	return string(reference)
}

// ReformFree accepts any JSON mapping; it only repairs syntax, using the
// reference-free template. On exhaustion it returns "{}".
func (r *Reformatter) ReformFree(ctx context.Context, text string) string {
	candidate := Sanitize(text)
	for attempt := 0; attempt <= r.retries; attempt++ {
		var m map[string]any
		if err := json.Unmarshal([]byte(candidate), &m); err == nil {
			return candidate
		}
		if attempt == r.retries {
			break
		}

		prompt, err := r.tool.Render("json_reformat_woreference", map[string]string{
			"json": candidate,
		})
		if err != nil {
			slog.Warn("reformat template unavailable", "error", err)
			break
		}

		fixed, err := r.ask(ctx, prompt, attempt)
		if err != nil {
			break
		}
		candidate = Sanitize(fixed)
	}
	return "{}"
}

// ask performs one repair call, pausing before every attempt after the first.
func (r *Reformatter) ask(ctx context.Context, prompt string, attempt int) (string, error) {
	if attempt > 0 {
		if err := sleepCtx(ctx, retryDelay); err != nil {
			return "", err
		}
	}
	response, err := r.provider.Generate(ctx, prompt)
	r.events.Log("JSON reformat", prompt, response)
	if err != nil {
		slog.Warn("reformat backend call failed", "error", err)
		return "", err
	}
	return response, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// matchesSchema reports whether text parses to a mapping with exactly the
// schema's keys and type-compatible values.
func matchesSchema(text string, schema map[string]any) bool {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return false
	}
	if len(parsed) != len(schema) {
		return false
	}
	for key, example := range schema {
		value, ok := parsed[key]
		if !ok {
			return false
		}
		if !typesCompatible(value, example) {
			return false
		}
	}
	return true
}

// typesCompatible compares a JSON-decoded value against a schema example.
// JSON numbers decode as float64, so every numeric example maps to float64.
func typesCompatible(value, example any) bool {
	switch example.(type) {
	case string:
		_, ok := value.(string)
		return ok
	case int, int32, int64, float32, float64:
		_, ok := value.(float64)
		return ok
	case bool:
		_, ok := value.(bool)
		return ok
	case map[string]any:
		_, ok := value.(map[string]any)
		return ok
	case []any:
		_, ok := value.([]any)
		return ok
	case nil:
		return true
	default:
		return fmt.Sprintf("%T", value) == fmt.Sprintf("%T", example)
	}
}

// Decode unmarshals canonical text into out with weak typing, so "3" fills an
// int field and 3 fills a string field.
func Decode(text string, out any) error {
	var raw map[string]any
	if err := json.Unmarshal([]byte(text), &raw); err != nil {
		return fmt.Errorf("failed to parse canonical JSON: %w", err)
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "json",
	})
	if err != nil {
		return fmt.Errorf("failed to build decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("failed to decode parameters: %w", err)
	}
	return nil
}
