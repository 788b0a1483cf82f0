package indicator

import (
	"os"
	"strings"
)

type locale string

const (
	localeEnglish locale = "en"
	localeHindi   locale = "hi"
	localeTamil   locale = "ta"
)

type messages struct {
	recording    string
	transcribing string
	submitting   string
	errorText    string
}

func messagesFromEnv() messages {
	raw := os.Getenv("LC_MESSAGES")
	if raw == "" {
		raw = os.Getenv("LANG")
	}
	return messagesFor(resolveLocale(raw))
}

func resolveLocale(raw string) locale {
	raw = strings.ToLower(strings.TrimSpace(raw))
	switch {
	case strings.HasPrefix(raw, "hi"):
		return localeHindi
	case strings.HasPrefix(raw, "ta"):
		return localeTamil
	default:
		return localeEnglish
	}
}

func messagesFor(tag locale) messages {
	switch tag {
	case localeHindi:
		return messages{
			recording:    "रिकॉर्डिंग…",
			transcribing: "लिप्यंतरण हो रहा है…",
			submitting:   "कानूनी विश्लेषण…",
			errorText:    "अनुरोध विफल",
		}
	case localeTamil:
		return messages{
			recording:    "பதிவு செய்யப்படுகிறது…",
			transcribing: "எழுத்தாக்கம்…",
			submitting:   "சட்ட பகுப்பாய்வு…",
			errorText:    "கோரிக்கை தோல்வி",
		}
	default:
		return messages{
			recording:    "Recording…",
			transcribing: "Transcribing…",
			submitting:   "Researching…",
			errorText:    "Legal research request failed",
		}
	}
}
