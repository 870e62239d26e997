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

// Package chatstore implements the relational chat history queries.
//
// The store holds human-human and human-agent rows in one chats table;
// endpoints carry the "'s Agent" suffix for agent-attributed rows, and the
// cross-contact queries exclude any endpoint containing "Agent". chats.id is
// the total order used by the keyword-window queries.
package chatstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kadirpekel/interagent/pkg/eventlog"
)

// minLimit is the floor for row limits; requested limits below it are raised.
const minLimit = 10

// minWindow is the floor for the symmetric keyword window.
const minWindow = 1

// Record is one chats row.
type Record struct {
	ID        int64
	Timestamp time.Time
	Sender    string
	Receiver  string
	Message   string
}

// Store runs the retrieval query families over a shared *sql.DB.
// Every executed statement is traced into the event log.
type Store struct {
	db      *sql.DB
	dialect string
	events  *eventlog.Logger
}

// New wraps db for the given dialect ("mysql", "postgres" or "sqlite").
// A nil events logger discards traces.
func New(db *sql.DB, dialect string, events *eventlog.Logger) *Store {
	if events == nil {
		events = eventlog.NewDiscard()
	}
	return &Store{db: db, dialect: dialect, events: events}
}

// DB exposes the underlying pool for schema management.
func (s *Store) DB() *sql.DB {
	return s.db
}

// rebind converts ? placeholders to the $n form lib/pq expects.
func (s *Store) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

func (s *Store) trace(query string, args []any) {
	s.events.Log("SQL", query, fmt.Sprintf("%v", args))
}

func (s *Store) queryRecords(ctx context.Context, query string, args ...any) ([]Record, error) {
	query = s.rebind(query)
	s.trace(query, args)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("chat query failed: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Sender, &r.Receiver, &r.Message); err != nil {
			return nil, fmt.Errorf("failed to scan chat row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("chat row iteration failed: %w", err)
	}
	return out, nil
}

// reverse flips a DESC-ordered result to oldest-first for rendering.
func reverse(records []Record) []Record {
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records
}

func clampLimit(limit int) int {
	if limit < minLimit {
		return minLimit
	}
	return limit
}

func clampWindow(window int) int {
	if window < minWindow {
		return minWindow
	}
	return window
}

// CurrentPairHistory returns the last limit rows exchanged between master and
// contact (either direction, human or agent attributed), oldest first.
func (s *Store) CurrentPairHistory(ctx context.Context, master, contact string, limit int) ([]Record, error) {
	const query = `
SELECT id, timestamp, sender, receiver, message
FROM chats
WHERE (sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?)
ORDER BY id DESC
LIMIT ?`

	records, err := s.queryRecords(ctx, query, master, contact, contact, master, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return reverse(records), nil
}

// CrossContactHistory returns the last limit human-human rows that involve
// master with any peer other than contact, oldest first. Rows with an
// agent-attributed endpoint are excluded.
func (s *Store) CrossContactHistory(ctx context.Context, master, contact string, limit int) ([]Record, error) {
	const query = `
SELECT id, timestamp, sender, receiver, message
FROM chats
WHERE (sender = ? OR receiver = ?)
  AND sender <> ? AND receiver <> ?
  AND sender NOT LIKE '%Agent%'
  AND receiver NOT LIKE '%Agent%'
ORDER BY id DESC
LIMIT ?`

	records, err := s.queryRecords(ctx, query, master, master, contact, contact, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	return reverse(records), nil
}

// keywordWindowQuery builds the windowed CTE query. The LAG/LEAD offsets must
// be literals on MySQL, so the validated window is formatted in; the keyword
// stays a bind parameter. pairFilter constrains which rows form the window.
func keywordWindowQuery(pairFilter string, window int) string {
	return fmt.Sprintf(`
WITH pair_rows AS (
    SELECT id, timestamp, sender, receiver, message,
           LAG(id, %d) OVER (ORDER BY id) AS window_start,
           LEAD(id, %d) OVER (ORDER BY id) AS window_end
    FROM chats
    WHERE %s
      AND sender NOT LIKE '%%Agent%%'
      AND receiver NOT LIKE '%%Agent%%'
)
SELECT r.id, r.timestamp, r.sender, r.receiver, r.message
FROM pair_rows r
JOIN pair_rows a
  ON r.id >= COALESCE(a.window_start, 0)
 AND r.id <= COALESCE(a.window_end, r.id)
WHERE LOWER(a.message) LIKE LOWER(?)
ORDER BY a.id, r.id`, window, window, pairFilter)
}

// dedupeCap drops repeated ids (a row can fall inside several anchors'
// windows) keeping first-appearance order, then caps the result at limit.
func dedupeCap(records []Record, limit int) []Record {
	seen := make(map[int64]bool, len(records))
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if seen[r.ID] {
			continue
		}
		seen[r.ID] = true
		out = append(out, r)
		if len(out) >= limit {
			break
		}
	}
	return out
}

// KeywordContextCurrentPair returns, for each human-human row between master
// and contact whose message matches %keyword% case-insensitively, the
// symmetric window of ±window rows within that pair's timeline. Results are
// deduplicated, ordered by anchor id, capped at limit.
func (s *Store) KeywordContextCurrentPair(ctx context.Context, master, contact, keyword string, window, limit int) ([]Record, error) {
	query := keywordWindowQuery(
		"((sender = ? AND receiver = ?) OR (sender = ? AND receiver = ?))",
		clampWindow(window))

	records, err := s.queryRecords(ctx, query,
		master, contact, contact, master, "%"+keyword+"%")
	if err != nil {
		return nil, err
	}
	return dedupeCap(records, clampLimit(limit)), nil
}

// KeywordContextCrossContact is the windowed keyword retrieval over master's
// human-human history with any peer other than contact.
func (s *Store) KeywordContextCrossContact(ctx context.Context, master, contact, keyword string, window, limit int) ([]Record, error) {
	query := keywordWindowQuery(
		"(sender = ? OR receiver = ?) AND sender <> ? AND receiver <> ?",
		clampWindow(window))

	records, err := s.queryRecords(ctx, query,
		master, master, contact, contact, "%"+keyword+"%")
	if err != nil {
		return nil, err
	}
	return dedupeCap(records, clampLimit(limit)), nil
}

// Friends returns the names of every user in a bidirectional friendship with
// master, sorted by name.
func (s *Store) Friends(ctx context.Context, master string) ([]string, error) {
	query := s.rebind(`
SELECT u.name
FROM users u
JOIN friendships f ON f.friend_id = u.id
JOIN users m ON m.id = f.user_id
WHERE m.name = ?
ORDER BY u.name`)
	s.trace(query, []any{master})

	rows, err := s.db.QueryContext(ctx, query, master)
	if err != nil {
		return nil, fmt.Errorf("friends query failed: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan friend row: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("friend row iteration failed: %w", err)
	}
	return names, nil
}

// Insert appends one chats row. Callers pass already-attributed endpoint
// names; the store does not add the "'s Agent" suffix.
func (s *Store) Insert(ctx context.Context, sender, receiver, message, history string) error {
	query := s.rebind(`
INSERT INTO chats (sender, receiver, message, communication_history)
VALUES (?, ?, ?, ?)`)
	s.trace(query, []any{sender, receiver, message})

	if _, err := s.db.ExecContext(ctx, query, sender, receiver, message, history); err != nil {
		return fmt.Errorf("failed to insert chat row: %w", err)
	}
	return nil
}

// EnsureUser inserts a user row if the name is not present and returns its id.
func (s *Store) EnsureUser(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id FROM users WHERE name = ?`), name).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("user lookup failed: %w", err)
	}

	insert := s.rebind(`INSERT INTO users (name, password, system_prompt) VALUES (?, '', '')`)
	s.trace(insert, []any{name})
	if _, err := s.db.ExecContext(ctx, insert, name); err != nil {
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}
	if err := s.db.QueryRowContext(ctx, s.rebind(`SELECT id FROM users WHERE name = ?`), name).Scan(&id); err != nil {
		return 0, fmt.Errorf("user lookup after insert failed: %w", err)
	}
	return id, nil
}

// AddFriendship records a symmetric friendship between two existing users.
func (s *Store) AddFriendship(ctx context.Context, a, b string) error {
	idA, err := s.EnsureUser(ctx, a)
	if err != nil {
		return err
	}
	idB, err := s.EnsureUser(ctx, b)
	if err != nil {
		return err
	}
	if idA == idB {
		return fmt.Errorf("cannot befriend self: %s", a)
	}

	insert := s.rebind(`INSERT INTO friendships (user_id, friend_id) VALUES (?, ?)`)
	for _, pair := range [][2]int64{{idA, idB}, {idB, idA}} {
		s.trace(insert, []any{pair[0], pair[1]})
		if _, err := s.db.ExecContext(ctx, insert, pair[0], pair[1]); err != nil {
			// Both directions may already exist.
			if isDuplicateErr(err) {
				continue
			}
			return fmt.Errorf("failed to insert friendship: %w", err)
		}
	}
	return nil
}

func isDuplicateErr(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "unique")
}
