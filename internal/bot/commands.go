package bot

// Command is the parsed intent of one inbound message.
type Command int

const (
	Unrecognized Command = iota
	Subscribe
	Unsubscribe
	RequestContentNow
)

func (c Command) String() string {
	switch c {
	case Subscribe:
		return "start"
	case Unsubscribe:
		return "stop"
	case RequestContentNow:
		return "article"
	default:
		return "unrecognized"
	}
}

var commandTokens = []struct {
	token string
	cmd   Command
}{
	{"/start", Subscribe},
	{"/stop", Unsubscribe},
	{"/article", RequestContentNow},
}

// ParseCommand matches text against the bare command tokens and their
// "@botUsername" forms. Matching is exact: no trimming, no case folding,
// no arguments. An empty botUsername only accepts the bare tokens.
func ParseCommand(text, botUsername string) Command {
	for _, t := range commandTokens {
		if text == t.token {
			return t.cmd
		}
		if botUsername != "" && text == t.token+"@"+botUsername {
			return t.cmd
		}
	}
	return Unrecognized
}
