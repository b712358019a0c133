package reconcile

import "encoding/json"

// Result is the decoded resultJson of a successful provider report.
type Result struct {
	URLs []string `json:"resultUrls"`
}

// DecodeResult never fails. A nil, empty or malformed payload, or one without
// resultUrls, yields an empty URL list.
func DecodeResult(raw *string) Result {
	if raw == nil || *raw == "" {
		return Result{URLs: []string{}}
	}

	var r Result
	if err := json.Unmarshal([]byte(*raw), &r); err != nil || r.URLs == nil {
		return Result{URLs: []string{}}
	}

	return r
}
