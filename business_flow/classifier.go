package businessflow

import (
	"strings"

	"github.com/lettable/deposync/models"
)

// ClassifierRule matches a downstream failure message by substring.
type ClassifierRule struct {
	Pattern string
	Kind    string
}

// ErrorClassifier decides whether a downstream failure is worth retrying.
type ErrorClassifier interface {
	Classify(message string) string
}

// ruleClassifier evaluates ordered rule tables. Permanent rules are always
// evaluated before transient ones, and anything that matches no rule is
// treated as permanent so that unknown failures stop at human triage
// instead of retrying forever.
type ruleClassifier struct {
	permanent []ClassifierRule
	transient []ClassifierRule
}

func NewErrorClassifier(permanent, transient []ClassifierRule) ErrorClassifier {
	return &ruleClassifier{permanent: permanent, transient: transient}
}

// DefaultErrorClassifier carries the signatures observed from the deposit
// scheme's production error surface.
func DefaultErrorClassifier() ErrorClassifier {
	return NewErrorClassifier(defaultPermanentRules, defaultTransientRules)
}

var defaultPermanentRules = []ClassifierRule{
	{Pattern: "validation", Kind: models.ErrorKindPermanent},
	{Pattern: "invalid", Kind: models.ErrorKindPermanent},
	{Pattern: "malformed", Kind: models.ErrorKindPermanent},
	{Pattern: "duplicate", Kind: models.ErrorKindPermanent},
	{Pattern: "already registered", Kind: models.ErrorKindPermanent},
	{Pattern: "already exists", Kind: models.ErrorKindPermanent},
	{Pattern: "unauthorized", Kind: models.ErrorKindPermanent},
	{Pattern: "unauthorised", Kind: models.ErrorKindPermanent},
	{Pattern: "authentication", Kind: models.ErrorKindPermanent},
	{Pattern: "forbidden", Kind: models.ErrorKindPermanent},
	{Pattern: "not permitted", Kind: models.ErrorKindPermanent},
	{Pattern: "bad request", Kind: models.ErrorKindPermanent},
	{Pattern: "unknown agency", Kind: models.ErrorKindPermanent},
	{Pattern: "unknown branch", Kind: models.ErrorKindPermanent},
	{Pattern: "required field", Kind: models.ErrorKindPermanent},
}

var defaultTransientRules = []ClassifierRule{
	{Pattern: "timeout", Kind: models.ErrorKindTransient},
	{Pattern: "timed out", Kind: models.ErrorKindTransient},
	{Pattern: "deadline exceeded", Kind: models.ErrorKindTransient},
	{Pattern: "connection reset", Kind: models.ErrorKindTransient},
	{Pattern: "connection refused", Kind: models.ErrorKindTransient},
	{Pattern: "broken pipe", Kind: models.ErrorKindTransient},
	{Pattern: "temporarily unavailable", Kind: models.ErrorKindTransient},
	{Pattern: "service unavailable", Kind: models.ErrorKindTransient},
	{Pattern: "internal server error", Kind: models.ErrorKindTransient},
	{Pattern: "bad gateway", Kind: models.ErrorKindTransient},
	{Pattern: "gateway timeout", Kind: models.ErrorKindTransient},
	{Pattern: "too many requests", Kind: models.ErrorKindTransient},
	{Pattern: "rate limit", Kind: models.ErrorKindTransient},
	{Pattern: "status 500", Kind: models.ErrorKindTransient},
	{Pattern: "status 502", Kind: models.ErrorKindTransient},
	{Pattern: "status 503", Kind: models.ErrorKindTransient},
	{Pattern: "status 504", Kind: models.ErrorKindTransient},
	{Pattern: "status 429", Kind: models.ErrorKindTransient},
}

func (c *ruleClassifier) Classify(message string) string {
	lowered := strings.ToLower(message)
	for _, rule := range c.permanent {
		if strings.Contains(lowered, strings.ToLower(rule.Pattern)) {
			return rule.Kind
		}
	}
	for _, rule := range c.transient {
		if strings.Contains(lowered, strings.ToLower(rule.Pattern)) {
			return rule.Kind
		}
	}
	return models.ErrorKindPermanent
}
