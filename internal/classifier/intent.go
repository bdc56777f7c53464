package classifier

import (
	"context"
	"fmt"
	"strings"

	"github.com/xaenox/agency-assistant/internal/models"
	"go.uber.org/zap"
)

// IntentClassifier combines the rule pass with the model fallback. Rules
// always win; the judge is only asked about ambiguous utterances.
type IntentClassifier struct {
	rules  *RuleClassifier
	judge  Judge
	logger *zap.Logger
}

func NewIntentClassifier(rules *RuleClassifier, judge Judge, logger *zap.Logger) *IntentClassifier {
	return &IntentClassifier{
		rules:  rules,
		judge:  judge,
		logger: logger,
	}
}

func (c *IntentClassifier) Classify(ctx context.Context, in Input) (models.Intent, error) {
	if in.Image != nil {
		if !in.Action.Valid() {
			return models.Intent{}, fmt.Errorf("%w: %q", ErrActionRequired, in.Action)
		}
		return models.ImageAction(in.Action), nil
	}

	intent, decision := c.rules.Classify(in.Text, in.RecentUser)
	if decision != DecisionAmbiguous {
		return intent, nil
	}
	if c.judge == nil {
		return models.PlainChat(), nil
	}

	isImage, err := c.judge.IsImageRequest(ctx, in.Text)
	if err != nil {
		// Fail closed: never start a generation the client did not ask for.
		c.logger.Warn("Classification fallback failed, treating as chat", zap.Error(err))
		return models.PlainChat(), nil
	}
	if isImage {
		return models.ImageGenerationRequest(strings.TrimSpace(in.Text)), nil
	}
	return models.PlainChat(), nil
}
