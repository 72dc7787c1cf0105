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

// Package fingerprint computes short, stable identifiers for slot
// names, for use in log fields and debug dumps. A fingerprint is
// never used as a lookup or storage key: it exists purely so a log
// line doesn't have to carry a full (possibly long) path.
package fingerprint

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Of returns a 16-character hex fingerprint of name: the leading 8
// bytes of its blake2b-256 sum, the same hash the indexing code uses
// for content digests (ion/blockfmt.hashFile), truncated because a
// fingerprint is for log lines, not collision resistance.
func Of(name string) string {
	sum := blake2b.Sum256([]byte(name))
	return hex.EncodeToString(sum[:8])
}
