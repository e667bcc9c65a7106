package persona

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultMaxOutputTokens caps replies when a catalog entry does not set one.
const DefaultMaxOutputTokens = 500

// Persona is a named preset of generation parameters applied to a chat session.
type Persona struct {
	Key             string  `json:"key" yaml:"key"`
	Name            string  `json:"name" yaml:"name"`
	Instruction     string  `json:"-" yaml:"instruction"`
	Temperature     float64 `json:"temperature" yaml:"temperature"`
	TopP            float64 `json:"topP" yaml:"top_p"`
	TopK            int     `json:"topK" yaml:"top_k"`
	MaxOutputTokens int     `json:"maxOutputTokens" yaml:"max_output_tokens"`
}

// Validate reports the first parameter outside its allowed range.
func (p Persona) Validate() error {
	switch {
	case strings.TrimSpace(p.Key) == "":
		return errors.New("persona key is required")
	case strings.TrimSpace(p.Name) == "":
		return fmt.Errorf("persona %s: name is required", p.Key)
	case p.Temperature < 0 || p.Temperature > 2:
		return fmt.Errorf("persona %s: temperature %.2f outside [0,2]", p.Key, p.Temperature)
	case p.TopP <= 0 || p.TopP > 1:
		return fmt.Errorf("persona %s: top_p %.2f outside (0,1]", p.Key, p.TopP)
	case p.TopK < 1:
		return fmt.Errorf("persona %s: top_k must be >= 1", p.Key)
	case p.MaxOutputTokens < 1:
		return fmt.Errorf("persona %s: max_output_tokens must be positive", p.Key)
	}
	return nil
}

// Seed provides the reference catalog shipped with the relay.
func Seed() []Persona {
	return []Persona{
		{
			Key:  "1",
			Name: "Data Analyst Expert",
			Instruction: `Du bist ein erfahrener Data Analyst mit 10 Jahren Erfahrung.
- Antworte präzise, faktenbasiert und detailliert
- Verwende Fachbegriffe, aber erkläre sie
- Gib konkrete Beispiele und Use Cases
- Denk in Daten und Statistiken
- Stelle Gegenfragen für besseres Verständnis`,
			Temperature:     0.3,
			TopP:            0.8,
			TopK:            40,
			MaxOutputTokens: DefaultMaxOutputTokens,
		},
		{
			Key:  "2",
			Name: "Creative Storyteller",
			Instruction: `Du bist ein kreativer Storyteller und Autor.
- Schreibe kreative, emotional ansprechende Geschichten
- Verwende vielfältige Vokabeln und poetische Sprache
- Sei mutig mit ungewöhnlichen Ideen
- Baue Spannung und Emotionen auf
- Erschaffe einzigartige Charaktere und Welten`,
			Temperature:     0.9,
			TopP:            0.95,
			TopK:            100,
			MaxOutputTokens: DefaultMaxOutputTokens,
		},
		{
			Key:  "3",
			Name: "Technical Code Assistant",
			Instruction: `Du bist ein Senior Software Engineer und Code Expert.
- Schreib präzisen, produktiven Code
- Erkläre Code-Logik detailliert
- Gib Best Practices und Optimierungen
- Warne vor häufigen Fallstricken
- Verwende exakte Syntax und Standards`,
			Temperature:     0.2,
			TopP:            0.7,
			TopK:            30,
			MaxOutputTokens: DefaultMaxOutputTokens,
		},
		{
			Key:  "4",
			Name: "Business Consultant",
			Instruction: `Du bist ein Unternehmensberater mit Fokus auf Business Strategy.
- Gib strategische Ratschläge für Geschäftsfragen
- Balance zwischen Kreativität und praktischer Umsetzung
- Denk in ROI, KPIs und Business Metriken
- Stelle Fragen zur Geschäftssituation
- Gib konkrete Handlungsempfehlungen`,
			Temperature:     0.4,
			TopP:            0.85,
			TopK:            50,
			MaxOutputTokens: DefaultMaxOutputTokens,
		},
	}
}
