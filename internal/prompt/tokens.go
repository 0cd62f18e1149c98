package prompt

import (
	"github.com/pkoukk/tiktoken-go"
)

// CountTokens returns the number of tokens in text under the
// gpt-3.5-turbo encoding, carried from the teacher's
// app/agent/agent.go::CountTokensLlama. The chat pipeline does not
// call it: prompts are not size-checked before the LLM call.
func CountTokens(text string) (int, error) {
	enc, err := tiktoken.EncodingForModel("gpt-3.5-turbo")
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}
