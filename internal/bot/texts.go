package bot

import "fmt"

// Texts holds the user-facing replies.
type Texts struct {
	Onboarding     string
	Stopped        string
	AlreadyStopped string
	Failure        string
}

// DefaultTexts renders the replies for a daily push at the given local hour.
func DefaultTexts(hour int) Texts {
	return Texts{
		Onboarding: fmt.Sprintf(
			"I will send you a random article every day at %s, to stop this send /stop. "+
				"If you want a random article now send /article", formatHour(hour)),
		Stopped:        "I will no longer send you a daily article, to activate it again send /start",
		AlreadyStopped: "You are already unsubscribed",
		Failure:        "Oops, something went wrong! Please try again later.",
	}
}

// formatHour renders 0..23 as a 12-hour clock label ("7PM", "12AM").
func formatHour(h int) string {
	h = ((h % 24) + 24) % 24
	suffix := "AM"
	if h >= 12 {
		suffix = "PM"
	}
	h12 := h % 12
	if h12 == 0 {
		h12 = 12
	}
	return fmt.Sprintf("%d%s", h12, suffix)
}
