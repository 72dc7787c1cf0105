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

// Package fsstat reports free space on the filesystem backing the
// cache's directory, so a caller can decide whether to keep pinning
// new files before the disk actually runs out.
package fsstat

// Usage reports the free and total capacity, in bytes, of the
// filesystem backing a directory.
type Usage struct {
	Free  uint64
	Total uint64
}

// Stat reports disk usage for the filesystem containing dir.
func Stat(dir string) (Usage, error) {
	return stat(dir)
}
