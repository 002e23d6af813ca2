package channels

const signalsSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["kind", "text"],
    "properties": {
      "kind": {"type": "string"},
      "text": {"type": "string"},
      "confidence": {"type": "number", "minimum": 0, "maximum": 1}
    }
  }
}`

const actionsSchema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["title"],
    "properties": {
      "title": {"type": "string"},
      "detail": {"type": "string"},
      "priority": {"type": "string", "enum": ["low", "medium", "high"]}
    }
  }
}`

// DefaultSpecs is the channel set used by the decision-support assistant.
func DefaultSpecs() []Spec {
	return []Spec{
		{
			Name:        Response,
			Open:        "<response>",
			Close:       "</response>",
			Mode:        Streaming,
			Shape:       ShapeText,
			Description: "The reply shown to the user.",
		},
		{
			Name:        Reflection,
			Open:        "<reflection>",
			Close:       "</reflection>",
			Mode:        Streaming,
			Shape:       ShapeText,
			Description: "Private notes about the conversation, never shown to the user.",
		},
		{
			Name:        Signals,
			Open:        "<signals>",
			Close:       "</signals>",
			Mode:        Buffered,
			Shape:       ShapeList,
			Optional:    true,
			Description: "A JSON array of decision signals found in the latest user message.",
			Schema:      signalsSchema,
		},
		{
			Name:        Actions,
			Open:        "<actions>",
			Close:       "</actions>",
			Mode:        Buffered,
			Shape:       ShapeList,
			Optional:    true,
			Description: "A JSON array of suggested next steps.",
			Schema:      actionsSchema,
		},
		{
			Name:        Memory,
			Open:        "<memory>",
			Close:       "</memory>",
			Mode:        Buffered,
			Shape:       ShapeObject,
			Optional:    true,
			Description: "A JSON object of facts worth remembering about the user's situation.",
		},
	}
}

// DefaultTable builds a fresh table from DefaultSpecs.
func DefaultTable() *Table {
	return MustNewTable(DefaultSpecs()...)
}
