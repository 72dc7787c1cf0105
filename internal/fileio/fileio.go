// Copyright (C) 2022 Sneller, Inc.
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package fileio provides the platform-specific bits of creating a
// fixed-size backing file: reserving its space ahead of the write
// that actually fills it.
package fileio

import "os"

// Preallocate reserves size bytes for f. On platforms where the
// kernel supports reserving space without writing it (Linux), this
// avoids an extra round of zeroing the filesystem performs on
// Truncate's behalf; elsewhere it falls back to Truncate.
//
// Preallocate is a performance hint, not a correctness requirement:
// callers still write the full FileSize fill pattern afterward.
func Preallocate(f *os.File, size int64) error {
	return preallocate(f, size)
}
