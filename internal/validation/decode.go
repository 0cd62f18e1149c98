package validation

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/hr-knowledge-base/rag-core/internal/apierr"
)

// errBodyTooLarge is returned by boundedReader once more than
// MaxBodyBytes have been read, so the 413 can be distinguished from an
// ordinary malformed-JSON 400 even when Content-Length was absent.
var errBodyTooLarge = errors.New("request body exceeds the maximum allowed size")

// boundedReader enforces MaxBodyBytes while streaming, per spec 4.5:
// "When Content-Length is absent the decoder enforces the same bound
// while reading."
type boundedReader struct {
	r         io.Reader
	remaining int64
}

func newBoundedReader(r io.Reader) *boundedReader {
	return &boundedReader{r: r, remaining: MaxBodyBytes}
}

func (b *boundedReader) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		return 0, errBodyTooLarge
	}
	if int64(len(p)) > b.remaining+1 {
		p = p[:b.remaining+1]
	}
	n, err := b.r.Read(p)
	b.remaining -= int64(n)
	if b.remaining < 0 && err == nil {
		err = errBodyTooLarge
	}
	return n, err
}

// decodeJSONUnknownFieldsOK decodes body into T, rejecting only bodies
// that are malformed JSON (bad_request) or oversized while reading
// (payload_too_large). Per spec 4.5, unknown top-level fields are
// ignored rather than rejected: the schema targets semantics, not
// strictness for its own sake.
func decodeJSONUnknownFieldsOK[T any](body io.Reader) (T, *apierr.APIError) {
	var out T
	dec := json.NewDecoder(newBoundedReader(body))

	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			return out, apierr.PayloadTooLarge()
		}
		if errors.Is(err, io.EOF) {
			return out, apierr.BadRequest("request body must not be empty")
		}
		return out, apierr.BadRequest("request body is not valid JSON")
	}
	return out, nil
}
