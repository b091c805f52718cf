package httpclient

import (
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
)

// BodyTooLargeError reports a response document larger than its cap.
type BodyTooLargeError struct {
	What  string
	Limit int64
}

func (e *BodyTooLargeError) Error() string {
	return fmt.Sprintf("%s exceeds %s", e.What, humanize.IBytes(uint64(e.Limit)))
}

// IsBodyTooLarge reports whether err came from a capped read.
func IsBodyTooLarge(err error) bool {
	var tooLarge *BodyTooLargeError
	return errors.As(err, &tooLarge)
}

// ReadBody reads a whole response document, failing when it is larger than
// limit. A limit <= 0 reads without a cap.
func ReadBody(r io.Reader, what string, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, &BodyTooLargeError{What: what, Limit: limit}
	}
	return data, nil
}

// ReadPrefix returns at most limit bytes of r and drops the rest. Used for
// error bodies, where a truncated message is still useful.
func ReadPrefix(r io.Reader, limit int64) []byte {
	data, _ := io.ReadAll(io.LimitReader(r, limit))
	return data
}
