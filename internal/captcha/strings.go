package captcha

import (
	"golang.org/x/text/language"
)

// PageStrings is the copy of the challenge page in one language.
type PageStrings struct {
	Lang    string
	Title   string
	Prompt  string
	Submit  string
	Privacy string
}

var (
	supported = []language.Tag{
		language.English, // first entry is the fallback
		language.German,
		language.Spanish,
		language.French,
		language.Italian,
		language.Portuguese,
		language.Dutch,
	}
	matcher = language.NewMatcher(supported)

	pages = map[language.Base]PageStrings{
		base(language.English): {
			Title:   "Almost there",
			Prompt:  "Please confirm you are not a robot to send your message.",
			Submit:  "Send",
			Privacy: "Your message is only forwarded to the owner of this form.",
		},
		base(language.German): {
			Title:   "Fast geschafft",
			Prompt:  "Bitte bestätige, dass du kein Roboter bist, um deine Nachricht zu senden.",
			Submit:  "Senden",
			Privacy: "Deine Nachricht wird nur an den Besitzer dieses Formulars weitergeleitet.",
		},
		base(language.Spanish): {
			Title:   "Ya casi",
			Prompt:  "Confirma que no eres un robot para enviar tu mensaje.",
			Submit:  "Enviar",
			Privacy: "Tu mensaje solo se reenvía al propietario de este formulario.",
		},
		base(language.French): {
			Title:   "Presque fini",
			Prompt:  "Veuillez confirmer que vous n'êtes pas un robot pour envoyer votre message.",
			Submit:  "Envoyer",
			Privacy: "Votre message est transmis uniquement au propriétaire de ce formulaire.",
		},
		base(language.Italian): {
			Title:   "Ci siamo quasi",
			Prompt:  "Conferma di non essere un robot per inviare il tuo messaggio.",
			Submit:  "Invia",
			Privacy: "Il tuo messaggio viene inoltrato solo al proprietario di questo modulo.",
		},
		base(language.Portuguese): {
			Title:   "Quase lá",
			Prompt:  "Confirme que você não é um robô para enviar sua mensagem.",
			Submit:  "Enviar",
			Privacy: "Sua mensagem é encaminhada apenas ao dono deste formulário.",
		},
		base(language.Dutch): {
			Title:   "Bijna klaar",
			Prompt:  "Bevestig dat je geen robot bent om je bericht te versturen.",
			Submit:  "Versturen",
			Privacy: "Je bericht wordt alleen doorgestuurd naar de eigenaar van dit formulier.",
		},
	}
)

func base(t language.Tag) language.Base {
	b, _ := t.Base()
	return b
}

// Strings picks the page copy. An explicit override (the form's _language
// field) wins over the Accept-Language header; unknown languages fall back
// to English.
func Strings(override, acceptLanguage string) PageStrings {
	var prefs []language.Tag
	if override != "" {
		if t, err := language.Parse(override); err == nil {
			prefs = append(prefs, t)
		}
	}
	if acceptLanguage != "" {
		if tags, _, err := language.ParseAcceptLanguage(acceptLanguage); err == nil {
			prefs = append(prefs, tags...)
		}
	}
	tag, _, _ := matcher.Match(prefs...)
	b := base(tag)
	ps, ok := pages[b]
	if !ok {
		b = base(language.English)
		ps = pages[b]
	}
	ps.Lang = b.String()
	return ps
}
