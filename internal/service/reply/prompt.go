package reply

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/echoes/backend/internal/model/profile"
)

// BuildSystemPrompt describes the remote party. The scripted model ignores it; it travels
// with the chain input so a real model could be dropped in behind the same template.
func BuildSystemPrompt(p profile.Profile) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, the user's %s.", p.Name, strings.ToLower(p.Relationship))
	if p.BirthDate != "" {
		fmt.Fprintf(&b, "\nBorn: %s", p.BirthDate)
	}
	if p.DeathDate != "" {
		fmt.Fprintf(&b, "\nPassed: %s", p.DeathDate)
	}
	if p.Bio != "" {
		fmt.Fprintf(&b, "\nAbout you: %s", p.Bio)
	}
	if len(p.Traits) > 0 {
		fmt.Fprintf(&b, "\nPersonality: %s", strings.Join(p.Traits, ", "))
	}
	b.WriteString("\nSpeak warmly and briefly, as if on the phone with family.")
	if p.Greeting != "" {
		fmt.Fprintf(&b, "\nYou usually open with: %q", p.Greeting)
	}
	return b.String()
}
