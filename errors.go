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

package pincache

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned by FileData and MutableFileData when no
// slot holds a currently-pinned copy of the requested file.
var ErrNotFound = errors.New("pincache: file not pinned")

// ErrClosed is returned to Pin calls, blocked or not, once Destroy
// has been called.
var ErrClosed = errors.New("pincache: cache is closed")

// PinError reports which file a Pin (or PinContext) call failed on
// and why. Every file named earlier in the same call's argument list
// remains pinned; the caller is responsible for unpinning it.
type PinError struct {
	Path string
	Err  error
}

func (e *PinError) Error() string {
	return fmt.Sprintf("pincache: pin %q: %s", e.Path, e.Err)
}

func (e *PinError) Unwrap() error { return e.Err }
