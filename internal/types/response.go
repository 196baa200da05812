package types

// ModelList is the body of GET /v1/models on both dialects.
type ModelList struct {
	Object string        `json:"object,omitempty"`
	Data   []ModelObject `json:"data"`
}

type ModelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object,omitempty"`
	OwnedBy string `json:"owned_by,omitempty"`
}
