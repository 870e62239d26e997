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

package config

import "fmt"

// DatabaseConfig holds the chat-store connection settings. MySQL is the
// production driver; sqlite and postgres are supported for tests and small
// deployments.
type DatabaseConfig struct {
	// Driver is "mysql", "postgres", "sqlite" or "sqlite3".
	Driver   string `yaml:"driver" mapstructure:"driver"`
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	Username string `yaml:"username" mapstructure:"username"`
	Password string `yaml:"password" mapstructure:"password"`
	// Database is the schema name, or the file path for SQLite.
	Database string `yaml:"database" mapstructure:"database"`

	// MaxConns bounds the connection pool.
	MaxConns int `yaml:"max_conns" mapstructure:"max_conns"`
	MaxIdle  int `yaml:"max_idle" mapstructure:"max_idle"`
}

// SetDefaults applies default values.
func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = "mysql"
	}
	if c.MaxConns == 0 {
		c.MaxConns = 20
	}
	if c.MaxIdle == 0 {
		c.MaxIdle = 5
	}
	if c.Port == 0 {
		switch c.Driver {
		case "mysql":
			c.Port = 3306
		case "postgres":
			c.Port = 5432
		}
	}
}

// Validate checks the database configuration.
func (c *DatabaseConfig) Validate() error {
	switch c.Driver {
	case "mysql", "postgres", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("invalid driver %q (valid: mysql, postgres, sqlite)", c.Driver)
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Driver != "sqlite" && c.Driver != "sqlite3" && c.Host == "" {
		return fmt.Errorf("host is required for %s", c.Driver)
	}
	if c.MaxConns < 0 || c.MaxIdle < 0 {
		return fmt.Errorf("max_conns and max_idle must be non-negative")
	}
	return nil
}

// DSN returns the connection string for the configured driver. The MySQL DSN
// forces utf8mb4 so chat text round-trips any script or emoji.
func (c *DatabaseConfig) DSN() string {
	switch c.Driver {
	case "mysql":
		auth := ""
		if c.Username != "" {
			auth = fmt.Sprintf("%s:%s@", c.Username, c.Password)
		}
		return fmt.Sprintf("%stcp(%s:%d)/%s?charset=utf8mb4&parseTime=true",
			auth, c.Host, c.Port, c.Database)
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d dbname=%s sslmode=disable", c.Host, c.Port, c.Database)
		if c.Username != "" {
			dsn += fmt.Sprintf(" user=%s", c.Username)
		}
		if c.Password != "" {
			dsn += fmt.Sprintf(" password=%s", c.Password)
		}
		return dsn
	case "sqlite", "sqlite3":
		return c.Database
	default:
		return ""
	}
}

// DriverName returns the name registered with database/sql.
func (c *DatabaseConfig) DriverName() string {
	if c.Driver == "sqlite" {
		return "sqlite3"
	}
	return c.Driver
}

// Dialect returns the normalized dialect name for query building.
func (c *DatabaseConfig) Dialect() string {
	if c.Driver == "sqlite3" {
		return "sqlite"
	}
	return c.Driver
}
