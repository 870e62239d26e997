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

package chatstore

import (
	"context"
	"fmt"
)

// InitSchema creates the users/friendships/chats/feedback tables if they do
// not exist. The users and feedback tables are written by the external UI;
// the engine only reads users/friendships and appends to chats.
func (s *Store) InitSchema(ctx context.Context) error {
	var statements []string
	switch s.dialect {
	case "mysql":
		statements = mysqlSchema
	case "postgres":
		statements = postgresSchema
	case "sqlite":
		statements = sqliteSchema
	default:
		return fmt.Errorf("unsupported dialect: %s", s.dialect)
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}
	return nil
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL UNIQUE,
		password VARCHAR(255) NOT NULL,
		system_prompt TEXT,
		profile_image_path VARCHAR(255),
		agent_profile_image_path VARCHAR(255),
		guide_seen INT DEFAULT 0
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS friendships (
		user_id INT NOT NULL,
		friend_id INT NOT NULL,
		PRIMARY KEY (user_id, friend_id),
		CHECK (user_id <> friend_id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS chats (
		id INT AUTO_INCREMENT PRIMARY KEY,
		sender VARCHAR(255) NOT NULL,
		receiver VARCHAR(255) NOT NULL,
		message TEXT,
		communication_history TEXT,
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS feedback (
		id INT AUTO_INCREMENT PRIMARY KEY,
		sender VARCHAR(255) NOT NULL,
		receiver VARCHAR(255) NOT NULL,
		conclusion TEXT,
		communication_history TEXT,
		feedback VARCHAR(255),
		timestamp TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id SERIAL PRIMARY KEY,
		name VARCHAR(255) NOT NULL UNIQUE,
		password VARCHAR(255) NOT NULL,
		system_prompt TEXT,
		profile_image_path VARCHAR(255),
		agent_profile_image_path VARCHAR(255),
		guide_seen INT DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS friendships (
		user_id INT NOT NULL,
		friend_id INT NOT NULL,
		PRIMARY KEY (user_id, friend_id),
		CHECK (user_id <> friend_id)
	)`,
	`CREATE TABLE IF NOT EXISTS chats (
		id SERIAL PRIMARY KEY,
		sender VARCHAR(255) NOT NULL,
		receiver VARCHAR(255) NOT NULL,
		message TEXT,
		communication_history TEXT,
		timestamp TIMESTAMPTZ DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS feedback (
		id SERIAL PRIMARY KEY,
		sender VARCHAR(255) NOT NULL,
		receiver VARCHAR(255) NOT NULL,
		conclusion TEXT,
		communication_history TEXT,
		feedback VARCHAR(255),
		timestamp TIMESTAMPTZ DEFAULT NOW()
	)`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		password TEXT NOT NULL,
		system_prompt TEXT,
		profile_image_path TEXT,
		agent_profile_image_path TEXT,
		guide_seen INTEGER DEFAULT 0
	)`,
	`CREATE TABLE IF NOT EXISTS friendships (
		user_id INTEGER NOT NULL,
		friend_id INTEGER NOT NULL,
		PRIMARY KEY (user_id, friend_id),
		CHECK (user_id <> friend_id)
	)`,
	`CREATE TABLE IF NOT EXISTS chats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender TEXT NOT NULL,
		receiver TEXT NOT NULL,
		message TEXT,
		communication_history TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		sender TEXT NOT NULL,
		receiver TEXT NOT NULL,
		conclusion TEXT,
		communication_history TEXT,
		feedback TEXT,
		timestamp DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,
}
