package transport

import (
	"fmt"

	"github.com/scylladb/go-cql-core/frame"
)

// responseAsError turns an unexpected response into an error: a server
// ERROR frame passes through as its own frame.CodedError, anything else is
// wrapped with its concrete type for diagnostics.
func responseAsError(res frame.Response) error {
	if v, ok := res.(frame.CodedError); ok {
		return v
	}
	return fmt.Errorf("unexpected response %T: %+v", res, res)
}
