package channels

// Signal is one item of the signals channel.
type Signal struct {
	Kind       string  `json:"kind" jsonschema:"description=Category of the signal"`
	Text       string  `json:"text" jsonschema:"description=The sentence or fact the signal is based on"`
	Confidence float64 `json:"confidence,omitempty" jsonschema:"minimum=0,maximum=1"`
}

// Action is one item of the actions channel.
type Action struct {
	Title    string `json:"title"`
	Detail   string `json:"detail,omitempty"`
	Priority string `json:"priority,omitempty" jsonschema:"enum=low,enum=medium,enum=high"`
}
