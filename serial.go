// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package tickrpc

import "code.hybscloud.com/atomix"

// RequestID is a monotonically increasing logical request identifier.
// Each call to NextRequestID assigns the next value; zero is never issued.
type RequestID = uint32

// requests is the global monotonic counter for request identifiers.
var requests atomix.Uint32

// NextRequestID returns the next monotonically increasing request identifier.
// Safe for concurrent use by transport goroutines.
func NextRequestID() RequestID {
	return requests.Add(1)
}
