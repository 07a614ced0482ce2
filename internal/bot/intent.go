// Package bot implements the conversational core: intent classification and
// the per-user state machine that routes messages to collaborators.
package bot

import "strings"

// Intent is a recognized category of user request inferred from message text.
type Intent int

// Recognized intents, in trigger priority order.
const (
	// IntentNone means no trigger matched; the message goes to free-form chat.
	IntentNone Intent = iota
	IntentCarbonCredit
	IntentFarmNews
	IntentFieldOverview
	IntentRecommendation
	IntentWaterData
)

// String returns the intent name for logging.
func (i Intent) String() string {
	switch i {
	case IntentCarbonCredit:
		return "carbon_credit"
	case IntentFarmNews:
		return "farm_news"
	case IntentFieldOverview:
		return "field_overview"
	case IntentRecommendation:
		return "recommendation"
	case IntentWaterData:
		return "water_data"
	default:
		return "none"
	}
}

// intentTriggers pairs each intent with its Thai and English keywords.
// Order matters: the first trigger with any keyword contained in the text
// wins, even if a later trigger's keyword also appears.
var intentTriggers = []struct {
	keywords []string
	intent   Intent
}{
	{[]string{"คำนวณคาร์บอนเครดิต", "calculate carbon credit"}, IntentCarbonCredit},
	{[]string{"ข่าววันนี้", "news"}, IntentFarmNews},
	{[]string{"ภาพรวมนา", "rice field overview"}, IntentFieldOverview},
	{[]string{"คำแนะนำ", "recommendation"}, IntentRecommendation},
	{[]string{"ข้อมูลน้ำ", "water data"}, IntentWaterData},
}

// ClassifyIntent maps message text to an intent by ordered, case-sensitive
// substring matching. Returns IntentNone when nothing matches.
func ClassifyIntent(text string) Intent {
	for _, t := range intentTriggers {
		for _, kw := range t.keywords {
			if strings.Contains(text, kw) {
				return t.intent
			}
		}
	}
	return IntentNone
}
