package classifier

import (
	"context"
	"strings"

	"github.com/oneinbox/mailsync/interfaces"
	"github.com/oneinbox/mailsync/internal/models"
)

const (
	LabelInterested    = "Interested"
	LabelMeetingBooked = "Meeting Booked"
	LabelNotInterested = "Not Interested"
	LabelSpam          = "Spam"
	LabelOutOfOffice   = "Out of Office"
)

// rules are evaluated in order; the first category with a keyword hit
// wins.
var rules = []struct {
	label    string
	keywords []string
}{
	{LabelOutOfOffice, []string{"out of office", "on vacation", "auto-reply", "automatic reply", "away from my desk"}},
	{LabelMeetingBooked, []string{"meeting confirmed", "invitation accepted", "calendar invite", "has been scheduled", "booked a meeting"}},
	{LabelNotInterested, []string{"not interested", "unsubscribe me", "no longer interested", "please remove me", "stop contacting"}},
	{LabelSpam, []string{"you have won", "lottery", "claim your prize", "viagra", "crypto giveaway", "wire transfer"}},
	{LabelInterested, []string{"interested", "sounds good", "let's schedule", "tell me more", "would love to", "looking forward"}},
}

type keywordClassifier struct{}

// NewKeywordClassifier labels messages with keyword heuristics. Used
// standalone when no model endpoint is configured.
func NewKeywordClassifier() interfaces.Classifier {
	return &keywordClassifier{}
}

func (c *keywordClassifier) Classify(ctx context.Context, record *models.EmailRecord) (string, error) {
	haystack := strings.ToLower(record.Subject + " " + record.BodyText)

	for _, rule := range rules {
		for _, keyword := range rule.keywords {
			if strings.Contains(haystack, keyword) {
				return rule.label, nil
			}
		}
	}

	return interfaces.LabelUnclassified, nil
}
