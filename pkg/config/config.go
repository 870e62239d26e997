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

// Package config loads and validates the global YAML configuration.
package config

import "fmt"

// Config is the root of the global YAML document.
type Config struct {
	Website WebsiteConfig `yaml:"website" mapstructure:"website"`
	MySQL   DatabaseConfig `yaml:"mysql" mapstructure:"mysql"`
	Backend BackendConfig `yaml:"backend" mapstructure:"backend"`
	Agent   AgentConfig   `yaml:"agent" mapstructure:"agent"`
	Mode    ModeConfig    `yaml:"mode" mapstructure:"mode"`
	Logging LoggingConfig `yaml:"logging" mapstructure:"logging"`
}

// WebsiteConfig describes the external web UI. The UI itself lives outside
// this module; the engine only needs the values for log context.
type WebsiteConfig struct {
	Host        string `yaml:"host" mapstructure:"host"`
	Port        int    `yaml:"port" mapstructure:"port"`
	FlaskSecret string `yaml:"flask_secret" mapstructure:"flask_secret"`
}

// BackendConfig selects and parameterizes the LLM backend. Adapter selection
// is purely by the Provider string.
type BackendConfig struct {
	// Provider is the adapter key: gpt, gpt4, claude, gemini or ollama.
	Provider string `yaml:"provider" mapstructure:"provider"`

	OpenAIAPIKey    string `yaml:"openai_api_key" mapstructure:"openai_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key" mapstructure:"anthropic_api_key"`
	GeminiAPIKey    string `yaml:"gemini_api_key" mapstructure:"gemini_api_key"`

	// BaseURL overrides the OpenAI-compatible endpoint (proxies, gateways).
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`

	OllamaHost      string `yaml:"ollama_host" mapstructure:"ollama_host"`
	OllamaModelName string `yaml:"ollama_model_name" mapstructure:"ollama_model_name"`

	// EmbeddingModel is used by the fuzzy memory and the document index.
	EmbeddingModel string `yaml:"embedding_model" mapstructure:"embedding_model"`

	Temperature float64 `yaml:"temperature" mapstructure:"temperature"`
	Timeout     int     `yaml:"timeout" mapstructure:"timeout"`
}

// AgentConfig bounds the engine's retry and dialogue budgets.
type AgentConfig struct {
	MaxQueryRetryTimes    int  `yaml:"max_query_retry_times" mapstructure:"max_query_retry_times"`
	MaxToolRetryTimes     int  `yaml:"max_tool_retry_times" mapstructure:"max_tool_retry_times"`
	MaxCommunicationTurns int  `yaml:"max_communication_turns" mapstructure:"max_communication_turns"`
	UseDocumentIndex      bool `yaml:"use_llamaindex" mapstructure:"use_llamaindex"`
	RewritePrompt         bool `yaml:"rewrite_prompt" mapstructure:"rewrite_prompt"`

	// PromptsDir holds the JSON prompt template files.
	PromptsDir string `yaml:"prompts_dir" mapstructure:"prompts_dir"`
	// MemoryDir holds per-master TSV corpora for the fuzzy memory.
	MemoryDir string `yaml:"memory_dir" mapstructure:"memory_dir"`
	// MemoryName selects the fuzzy-memory corpus inside MemoryDir.
	MemoryName string `yaml:"memory_name" mapstructure:"memory_name"`
	// UserFilesRoot holds per-master uploaded documents and their indices.
	UserFilesRoot string `yaml:"user_files_root" mapstructure:"user_files_root"`
	// StopwordsFile is the deployment-supplied stopword list, one per line.
	StopwordsFile string `yaml:"stopwords_file" mapstructure:"stopwords_file"`
}

// ModeConfig selects the agent construction mode.
type ModeConfig struct {
	Mode string `yaml:"mode" mapstructure:"mode"`
}

// LoggingConfig configures both slog and the CSV event log naming.
type LoggingConfig struct {
	Logname string `yaml:"logname" mapstructure:"logname"`
	Level   string `yaml:"level" mapstructure:"level"`
	// Dir is where per-process CSV event logs are written.
	Dir string `yaml:"dir" mapstructure:"dir"`
}

// SetDefaults applies defaults across all sections.
func (c *Config) SetDefaults() {
	c.MySQL.SetDefaults()

	if c.Backend.Provider == "" {
		c.Backend.Provider = "gpt"
	}
	if c.Backend.Temperature == 0 {
		c.Backend.Temperature = 0.2
	}
	if c.Backend.Timeout == 0 {
		c.Backend.Timeout = 60
	}
	if c.Backend.OllamaHost == "" {
		c.Backend.OllamaHost = "http://localhost:11434"
	}
	if c.Backend.EmbeddingModel == "" {
		c.Backend.EmbeddingModel = "text-embedding-3-small"
	}

	if c.Agent.MaxQueryRetryTimes == 0 {
		c.Agent.MaxQueryRetryTimes = 10
	}
	if c.Agent.MaxToolRetryTimes == 0 {
		c.Agent.MaxToolRetryTimes = 5
	}
	if c.Agent.MaxCommunicationTurns == 0 {
		c.Agent.MaxCommunicationTurns = 4
	}
	if c.Agent.PromptsDir == "" {
		c.Agent.PromptsDir = "prompts"
	}
	if c.Agent.MemoryDir == "" {
		c.Agent.MemoryDir = "memory"
	}
	if c.Agent.UserFilesRoot == "" {
		c.Agent.UserFilesRoot = "userfiles"
	}

	if c.Mode.Mode == "" {
		c.Mode.Mode = "Base"
	}

	if c.Logging.Logname == "" {
		c.Logging.Logname = "default"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

// Validate checks the configuration. A failed validation aborts startup.
func (c *Config) Validate() error {
	if err := c.MySQL.Validate(); err != nil {
		return fmt.Errorf("mysql: %w", err)
	}

	switch c.Backend.Provider {
	case "gpt", "gpt4", "claude", "gemini", "ollama":
	default:
		return fmt.Errorf("backend: unknown provider %q (supported: gpt, gpt4, claude, gemini, ollama)", c.Backend.Provider)
	}

	switch c.Mode.Mode {
	case "Base", "RAG":
	default:
		return fmt.Errorf("mode: %q not realized (supported: Base, RAG)", c.Mode.Mode)
	}

	if c.Agent.MaxCommunicationTurns < 1 {
		return fmt.Errorf("agent: max_communication_turns must be at least 1")
	}
	return nil
}
