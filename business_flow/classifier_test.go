package businessflow

import (
	"testing"

	"github.com/lettable/deposync/models"
	"github.com/stretchr/testify/assert"
)

func TestDefaultErrorClassifier(t *testing.T) {
	classifier := DefaultErrorClassifier()

	t.Run("PermanentSignatures", func(t *testing.T) {
		messages := []string{
			"validation failed on tenancy_reference",
			"scheme rejected submission: invalid postcode",
			"deposit already registered for this tenancy",
			"401 Unauthorized",
			"unknown agency code acme-lettings",
			"required field missing: tenants",
		}
		for _, msg := range messages {
			assert.Equal(t, models.ErrorKindPermanent, classifier.Classify(msg), msg)
		}
	})

	t.Run("TransientSignatures", func(t *testing.T) {
		messages := []string{
			"context deadline exceeded",
			"dial tcp: connection refused",
			"scheme returned status 503",
			"503 Service Unavailable",
			"read tcp: connection reset by peer",
			"request timed out after 30s",
			"rate limit exceeded, retry later",
		}
		for _, msg := range messages {
			assert.Equal(t, models.ErrorKindTransient, classifier.Classify(msg), msg)
		}
	})

	t.Run("MatchingIsCaseInsensitive", func(t *testing.T) {
		assert.Equal(t, models.ErrorKindPermanent, classifier.Classify("VALIDATION ERROR"))
		assert.Equal(t, models.ErrorKindTransient, classifier.Classify("Gateway Timeout"))
	})

	t.Run("PermanentWinsWhenBothMatch", func(t *testing.T) {
		// A permanent signature anywhere in the message outranks a
		// transient one.
		kind := classifier.Classify("timeout while running validation")
		assert.Equal(t, models.ErrorKindPermanent, kind)
	})

	t.Run("UnclassifiedDefaultsToPermanent", func(t *testing.T) {
		assert.Equal(t, models.ErrorKindPermanent, classifier.Classify("something nobody has seen before"))
		assert.Equal(t, models.ErrorKindPermanent, classifier.Classify(""))
	})
}

func TestCustomClassifierRules(t *testing.T) {
	classifier := NewErrorClassifier(
		[]ClassifierRule{{Pattern: "quota exceeded", Kind: models.ErrorKindPermanent}},
		[]ClassifierRule{{Pattern: "try again", Kind: models.ErrorKindTransient}},
	)

	assert.Equal(t, models.ErrorKindPermanent, classifier.Classify("monthly quota exceeded"))
	assert.Equal(t, models.ErrorKindTransient, classifier.Classify("please try again"))
	assert.Equal(t, models.ErrorKindPermanent, classifier.Classify("timeout"))
}
