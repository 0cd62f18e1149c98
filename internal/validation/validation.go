// Package validation implements the strict schema-checked decoding
// described in spec section 4.5, generalized from the teacher's
// validator.v10 struct-tag pattern (types/query.go) into the full
// retrieval and chat request schemas.
package validation

import (
	"fmt"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/hr-knowledge-base/rag-core/internal/apierr"
)

// MaxBodyBytes is the hard cap on a request body, per spec 4.5: 50 KiB.
const MaxBodyBytes = 51200

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterValidation("messagerole", validateMessageRole)
	return v
}

func validateMessageRole(fl validator.FieldLevel) bool {
	role := fl.Field().String()
	return role == "user" || role == "assistant"
}

// RetrieveFilters carries the optional document_id filter.
type RetrieveFilters struct {
	DocumentID *uuid.UUID `json:"document_id,omitempty"`
}

// RetrieveRequest is the validated retrieval request body.
//
// The retrieval endpoint's default min_similarity is 0.5, per the
// observed behavior of spec section 3/4.5 — a separate "0.7" figure
// appears elsewhere in the source documentation but is not what the
// endpoint implements; see DESIGN.md Open Question 2.
type RetrieveRequest struct {
	Query         string          `json:"query" validate:"required,min=1,max=500"`
	TopK          int             `json:"top_k" validate:"min=1,max=50"`
	MinSimilarity float64         `json:"min_similarity" validate:"min=0,max=1"`
	Filters       RetrieveFilters `json:"filters"`
}

const (
	DefaultRetrieveTopK           = 8
	DefaultRetrieveMinSimilarity  = 0.5
	DefaultChatInternalTopK       = 5
	DefaultChatInternalMinSim     = 0.3
	DefaultChatMaxOutputTokens    = 800
	DefaultChatLocale             = "en"
	MaxMessages                   = 50
	MaxMessageContentLen          = 500
)

// rawRetrieveRequest mirrors RetrieveRequest but leaves numeric fields
// as pointers so we can tell "absent" from "explicitly zero" before
// applying defaults.
type rawRetrieveRequest struct {
	Query         string           `json:"query"`
	TopK          *int             `json:"top_k"`
	MinSimilarity *float64         `json:"min_similarity"`
	Filters       RetrieveFilters  `json:"filters"`
}

// DecodeRetrieve strictly decodes and defaults a retrieval request
// body, enforcing the size cap while reading.
func DecodeRetrieve(body io.Reader, declaredLen int64) (*RetrieveRequest, *apierr.APIError) {
	if declaredLen > MaxBodyBytes {
		return nil, apierr.PayloadTooLarge()
	}

	raw, apiErr := decodeJSONUnknownFieldsOK[rawRetrieveRequest](body)
	if apiErr != nil {
		return nil, apiErr
	}

	req := &RetrieveRequest{
		Query:   raw.Query,
		TopK:    DefaultRetrieveTopK,
		MinSimilarity: DefaultRetrieveMinSimilarity,
		Filters: raw.Filters,
	}
	if raw.TopK != nil {
		req.TopK = *raw.TopK
	}
	if raw.MinSimilarity != nil {
		req.MinSimilarity = *raw.MinSimilarity
	}

	if err := validate.Struct(req); err != nil {
		return nil, fieldErrors(err)
	}
	return req, nil
}

// Message is one turn of a chat conversation.
type Message struct {
	Role    string `json:"role" validate:"required,messagerole"`
	Content string `json:"content" validate:"required,min=1,max=500"`
}

// ChatRequest is the validated chat request body.
type ChatRequest struct {
	Messages        []Message `json:"messages" validate:"required,min=1,max=50,dive"`
	MaxOutputTokens int       `json:"max_output_tokens" validate:"min=1,max=2000"`
	Locale          string    `json:"locale"`
}

type rawChatRequest struct {
	Messages        []Message `json:"messages"`
	MaxOutputTokens *int      `json:"max_output_tokens"`
	Locale          *string   `json:"locale"`
}

// DecodeChat strictly decodes and defaults a chat request body.
//
// max_output_tokens is accepted and validated but the current LLM
// collaborator interface (spec section 6.2) does not forward it — see
// DESIGN.md Open Question 1. Preserving it here (rather than dropping
// the field) keeps the schema forward-compatible with a future LLM
// integration that does support it.
func DecodeChat(body io.Reader, declaredLen int64) (*ChatRequest, *apierr.APIError) {
	if declaredLen > MaxBodyBytes {
		return nil, apierr.PayloadTooLarge()
	}

	raw, apiErr := decodeJSONUnknownFieldsOK[rawChatRequest](body)
	if apiErr != nil {
		return nil, apiErr
	}

	req := &ChatRequest{
		Messages:        raw.Messages,
		MaxOutputTokens: DefaultChatMaxOutputTokens,
		Locale:          DefaultChatLocale,
	}
	if raw.MaxOutputTokens != nil {
		req.MaxOutputTokens = *raw.MaxOutputTokens
	}
	if raw.Locale != nil && *raw.Locale != "" {
		req.Locale = *raw.Locale
	}

	if err := validate.Struct(req); err != nil {
		return nil, fieldErrors(err)
	}

	if len(req.Messages) == 0 {
		return nil, apierr.ValidationFailed(map[string]string{"messages": "must contain at least one message"})
	}
	last := req.Messages[len(req.Messages)-1]
	if last.Role != "user" {
		return nil, apierr.ValidationFailed(map[string]string{"messages": "last message must have role=user"})
	}

	return req, nil
}

func fieldErrors(err error) *apierr.APIError {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return apierr.ValidationFailed(map[string]string{"body": err.Error()})
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Namespace()] = fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
	return apierr.ValidationFailed(out)
}
