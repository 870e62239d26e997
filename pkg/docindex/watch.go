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

package docindex

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay lets a file finish writing before ingestion picks it up.
const settleDelay = 2 * time.Second

// Watch folds files dropped into the master's directory into the index as
// they appear. It blocks until ctx is cancelled.
func (ix *Indexer) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(ix.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", ix.dir, err)
	}
	slog.Info("watching user directory", "master", ix.master, "dir", ix.dir)

	var timer *time.Timer
	var pending <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			ext := strings.ToLower(filepath.Ext(event.Name))
			if _, supported := extractors[ext]; !supported {
				continue
			}
			// Coalesce bursts of events into one ingestion pass.
			if timer == nil {
				timer = time.NewTimer(settleDelay)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(settleDelay)
			}
			pending = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			slog.Warn("watcher error", "master", ix.master, "error", err)

		case <-pending:
			pending = nil
			if _, err := ix.UpdateWithNewFiles(ctx); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				slog.Warn("incremental ingestion failed", "master", ix.master, "error", err)
			}
		}
	}
}
