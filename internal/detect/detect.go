package detect

import (
	"fmt"
	"strings"
	"unicode"

	"gatekeeper/internal/domain"
)

// Verdict classifies an account as human or automated.
type Verdict string

const (
	VerdictHuman        Verdict = "human"
	VerdictSuspectedBot Verdict = "suspected_bot"
)

// Pattern ids reported with each suspicious verdict, kept stable for
// audit logs and admin reports.
const (
	PatternPlatformFlag  = "platform-flag"
	PatternNameIndicator = "name-indicator"
	PatternBotSuffix     = "bot-suffix"
	PatternNumericHandle = "numeric-handle"
	PatternEmptyName     = "empty-name"
)

// Classification is a verdict plus the pattern that produced it.
type Classification struct {
	Verdict   Verdict
	PatternID string
	Reason    string
}

// Suspected reports whether the account should be blocked outright.
func (c Classification) Suspected() bool {
	return c.Verdict == VerdictSuspectedBot
}

// DefaultIndicators are the suspicious affixes matched against display
// names and usernames when no custom set is configured.
var DefaultIndicators = []string{
	"bot", "_bot", "bothelper", "helper", "admin", "support",
	"service", "notify", "alert", "spam", "auto", "system",
}

// Classifier evaluates account profiles against a fixed indicator set.
// Classification is pure: the same profile always yields the same
// verdict, so results can be replayed and audited.
type Classifier struct {
	indicators []string
}

// NewClassifier creates a classifier. An empty indicator set falls back
// to DefaultIndicators.
func NewClassifier(indicators []string) *Classifier {
	if len(indicators) == 0 {
		indicators = DefaultIndicators
	}
	lowered := make([]string, 0, len(indicators))
	for _, ind := range indicators {
		ind = strings.ToLower(strings.TrimSpace(ind))
		if ind != "" {
			lowered = append(lowered, ind)
		}
	}
	return &Classifier{indicators: lowered}
}

// ClassifySignal trusts the platform's own automated-account flag and
// performs no name analysis.
func (c *Classifier) ClassifySignal(p domain.Profile) Classification {
	if p.IsBot {
		return Classification{
			Verdict:   VerdictSuspectedBot,
			PatternID: PatternPlatformFlag,
			Reason:    "platform marks the account as automated",
		}
	}
	return Classification{Verdict: VerdictHuman}
}

// ClassifyPatterns matches the display name and username against the
// suspicious-pattern set. The first matching pattern wins.
func (c *Classifier) ClassifyPatterns(p domain.Profile) Classification {
	username := strings.ToLower(p.Username)
	name := strings.ToLower(p.DisplayName)

	for _, ind := range c.indicators {
		if strings.Contains(username, ind) || strings.Contains(name, ind) {
			return Classification{
				Verdict:   VerdictSuspectedBot,
				PatternID: PatternNameIndicator,
				Reason:    fmt.Sprintf("name contains indicator %q", ind),
			}
		}
	}

	if strings.HasSuffix(username, "bot") {
		return Classification{
			Verdict:   VerdictSuspectedBot,
			PatternID: PatternBotSuffix,
			Reason:    "username ends with bot",
		}
	}

	if len(username) > 10 && containsDigit(username) {
		return Classification{
			Verdict:   VerdictSuspectedBot,
			PatternID: PatternNumericHandle,
			Reason:    "long username with digits",
		}
	}

	if strings.TrimSpace(p.DisplayName) == "" {
		return Classification{
			Verdict:   VerdictSuspectedBot,
			PatternID: PatternEmptyName,
			Reason:    "empty display name",
		}
	}

	return Classification{Verdict: VerdictHuman}
}

// Classify runs the signal check first and falls back to pattern
// matching. This is the verdict the admission gate acts on.
func (c *Classifier) Classify(p domain.Profile) Classification {
	if cls := c.ClassifySignal(p); cls.Suspected() {
		return cls
	}
	return c.ClassifyPatterns(p)
}

func containsDigit(s string) bool {
	for _, r := range s {
		if unicode.IsDigit(r) {
			return true
		}
	}
	return false
}
