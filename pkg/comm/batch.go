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

package comm

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Result is one batch entry's outcome.
type Result struct {
	Conclusion string
	History    []string
	Err        error
}

// RunAll executes independent communications in parallel, at most
// concurrency at a time. Nothing is shared mutably between communications,
// so each runs on its own goroutine; a failed one records its error without
// cancelling the others.
func RunAll(ctx context.Context, comms []*Communication, concurrency int) []Result {
	if concurrency < 1 {
		concurrency = 1
	}

	results := make([]Result, len(comms))
	g := new(errgroup.Group)
	g.SetLimit(concurrency)

	for i, c := range comms {
		g.Go(func() error {
			conclusion, err := c.Run(ctx)
			results[i] = Result{
				Conclusion: conclusion,
				History:    c.History(),
				Err:        err,
			}
			return nil
		})
	}
	g.Wait()
	return results
}
