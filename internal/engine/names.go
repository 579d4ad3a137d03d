package engine

import (
	"fmt"
	"log"
	"regexp"
	"strings"
)

// Name-capture patterns run against the normalized utterance, so there is
// no punctuation or casing to account for.
var (
	userNamePattern      = regexp.MustCompile(`^(me llamo|mi nombre es|yo soy|soy) (.+)$`)
	assistantNamePattern = regexp.MustCompile(`^(prefiero que te llames|llamarte|te llamaras) (.+)$`)
)

// captureName handles the "me llamo X" / "te llamaras X" utterances that
// update the persisted user and assistant names. Returns nil when the
// utterance is not a name command.
func (e *Engine) captureName(normalized string) *Result {
	if m := userNamePattern.FindStringSubmatch(normalized); m != nil {
		name := strings.TrimSpace(m[2])
		if err := e.store.SetUserName(name); err != nil {
			log.Printf("Warning: failed to persist user name: %v", err)
		}
		return &Result{
			ResponseText: fmt.Sprintf("¡Hola, %s! Un placer conocerte. He recordado tu nombre.", name),
			Stage:        StageName,
		}
	}

	if m := assistantNamePattern.FindStringSubmatch(normalized); m != nil {
		name := strings.TrimSpace(m[2])
		if err := e.store.SetAssistantName(name); err != nil {
			log.Printf("Warning: failed to persist assistant name: %v", err)
		}
		return &Result{
			ResponseText: fmt.Sprintf("¡Entendido! Me llamaré %s de ahora en adelante. ¡Gracias por el nombre!", name),
			Stage:        StageName,
		}
	}

	return nil
}
