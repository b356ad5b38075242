package openai

import (
	"encoding/json"
)

// DoneEvent terminates every SSE stream that completed normally.
const DoneEvent = "data: [DONE]\n\n"

// Event frames v as a single SSE data event with compact JSON.
func Event(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 0, len("data: ")+len(data)+2)
	buf = append(buf, "data: "...)
	buf = append(buf, data...)
	buf = append(buf, '\n', '\n')
	return buf, nil
}
