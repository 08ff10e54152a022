package domain

// Persona is a fixed speaking identity with its own system prompt and
// generation parameters. Records are read-only at request time.
type Persona struct {
	ID           string  `json:"id" yaml:"id"`
	Name         string  `json:"name" yaml:"name"`
	Title        string  `json:"title" yaml:"title"`
	AvatarURL    string  `json:"avatar_url" yaml:"avatar_url"`
	Description  string  `json:"description" yaml:"description"`
	Greeting     string  `json:"greeting" yaml:"greeting"`
	SystemPrompt string  `json:"system_prompt" yaml:"system_prompt"`
	Temperature  float64 `json:"temperature" yaml:"temperature"`
	MaxTokens    int     `json:"max_tokens" yaml:"max_tokens"`
}

// PersonaSummary is the listing view without the system prompt.
type PersonaSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Title       string `json:"title"`
	AvatarURL   string `json:"avatar_url"`
	Description string `json:"description"`
	Greeting    string `json:"greeting"`
}

func (p Persona) Summary() PersonaSummary {
	return PersonaSummary{
		ID:          p.ID,
		Name:        p.Name,
		Title:       p.Title,
		AvatarURL:   p.AvatarURL,
		Description: p.Description,
		Greeting:    p.Greeting,
	}
}
