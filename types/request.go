package types

// Request is the unit of work handed to the model and, when eligible, to the
// cache. It is built fresh for every conversational turn and treated as
// immutable once constructed.
//
// Temperature, TopP and TopK are pointers so that "not specified" can be told
// apart from an explicit zero. Metadata is carrier-only: it never participates
// in cache keying.
type Request struct {
	Model       string            `json:"model"`
	Messages    []Message         `json:"messages"`
	Temperature *float64          `json:"temperature,omitempty"`
	TopP        *float64          `json:"top_p,omitempty"`
	TopK        *int              `json:"top_k,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewRequest creates a request for the given model and messages.
func NewRequest(model string, msgs ...Message) *Request {
	return &Request{Model: model, Messages: msgs}
}

// WithTemperature sets the sampling temperature.
func (r *Request) WithTemperature(t float64) *Request {
	r.Temperature = &t
	return r
}

// WithTopP sets the nucleus sampling parameter.
func (r *Request) WithTopP(p float64) *Request {
	r.TopP = &p
	return r
}

// WithTopK sets the top-k sampling parameter.
func (r *Request) WithTopK(k int) *Request {
	r.TopK = &k
	return r
}

// Clone returns a deep copy of the request. Stages that rewrite messages use
// it so the caller's request is never aliased.
func (r *Request) Clone() *Request {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Messages = make([]Message, len(r.Messages))
	copy(cp.Messages, r.Messages)
	if r.Metadata != nil {
		cp.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			cp.Metadata[k] = v
		}
	}
	return &cp
}
