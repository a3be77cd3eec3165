package sync

// FetchFlags captures what detail a caller wants from a message fetch.
type FetchFlags struct {
	WantHeaders bool
	WantBody    bool
	WantLabels  bool
}

// Strategy selects how much of a message the provider adapters request.
type Strategy int

const (
	// StrategyMinimal fetches ids and envelope fields only.
	StrategyMinimal Strategy = iota
	// StrategyStandard adds headers and label metadata.
	StrategyStandard
	// StrategyComplete fetches the full message payload.
	StrategyComplete
)

func (s Strategy) String() string {
	switch s {
	case StrategyMinimal:
		return "minimal"
	case StrategyStandard:
		return "standard"
	case StrategyComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// SelectFetchStrategy maps fetch flags to a strategy. Decision table:
//
//	WantBody              -> Complete
//	WantHeaders or Labels -> Standard
//	otherwise             -> Minimal
func SelectFetchStrategy(flags FetchFlags) Strategy {
	switch {
	case flags.WantBody:
		return StrategyComplete
	case flags.WantHeaders || flags.WantLabels:
		return StrategyStandard
	default:
		return StrategyMinimal
	}
}

// GmailFormat returns the Gmail messages.get format for the strategy.
func (s Strategy) GmailFormat() string {
	switch s {
	case StrategyComplete:
		return "full"
	case StrategyStandard:
		return "metadata"
	default:
		return "minimal"
	}
}

// GraphSelect returns the Microsoft Graph $select projection for the
// strategy.
func (s Strategy) GraphSelect() []string {
	base := []string{"id", "conversationId", "subject", "from", "toRecipients", "ccRecipients", "bccRecipients", "receivedDateTime"}
	switch s {
	case StrategyComplete:
		return append(base, "bodyPreview", "body", "internetMessageHeaders", "categories")
	case StrategyStandard:
		return append(base, "bodyPreview", "internetMessageHeaders", "categories")
	default:
		return base
	}
}
