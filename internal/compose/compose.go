// Package compose builds the prompt pairs used to generate the customer
// facing reply for each branch of a consultation turn.
package compose

import (
	"fmt"
	"strconv"
	"strings"

	"gem-concierge/internal/domain"
)

var slotQuestions = map[domain.Slot]string{
	domain.SlotPurchaseType: "whether the piece is a gift or for themselves",
	domain.SlotGender:       "who will wear the piece (female or male)",
	domain.SlotCategory:     "which kind of jewelry they are looking for",
	domain.SlotMetalType:    "which metal they prefer",
	domain.SlotStoneType:    "which gemstone they prefer",
	domain.SlotBudgetRange:  "their budget in US dollars",
}

// Discovery asks the customer about exactly one missing slot.
func Discovery(transcript string, prefs domain.PreferenceSet, slot domain.Slot) domain.Prompt {
	return domain.Prompt{
		System: strings.Join([]string{
			persona(),
			"",
			"Task:",
			fmt.Sprintf("Ask the customer one friendly question about %s.", slotQuestions[slot]),
			"Offer these options: " + strings.Join(slot.Values(), ", ") + ".",
			"",
			"Behavior Rules:",
			"1) Ask about this one topic only. Do not ask about anything else.",
			"2) Do not recommend a specific product yet.",
			"3) Briefly acknowledge what the customer already told you when it helps the flow.",
			"4) Keep it to two or three sentences.",
		}, "\n"),
		Human: humanInput(transcript, prefs),
	}
}

// Recommendation presents the matched product, including its id and image.
func Recommendation(product domain.CandidateProduct, prefs domain.PreferenceSet, transcript string) domain.Prompt {
	return domain.Prompt{
		System: strings.Join([]string{
			persona(),
			"",
			"Task:",
			"Recommend the product below to the customer and explain how it fits what they asked for.",
			"",
			"Product:",
			productDetails(product),
			"",
			"Behavior Rules:",
			"1) Describe only this product. Do not invent details that are not listed.",
			"2) Mention the product id as \"Product ID: " + strconv.Itoa(product.ID) + "\".",
			"3) Include the image URL exactly as given on its own line.",
			"4) Quote prices exactly as listed, in US dollars.",
			"5) Close by asking whether they would like to see it in another size or explore other pieces.",
		}, "\n"),
		Human: humanInput(transcript, prefs),
	}
}

// NavigateOptions explains why nothing matched and helps the customer
// adjust their preferences.
func NavigateOptions(reason string, prefs domain.PreferenceSet, transcript string) domain.Prompt {
	return domain.Prompt{
		System: strings.Join([]string{
			persona(),
			"",
			"Task:",
			"No product in the collection matches everything the customer asked for.",
			"Tell them kindly, explain the reason in plain words, and suggest which preference they could relax.",
			"",
			"Reason:",
			normalizePromptInput(reason),
			"",
			"Behavior Rules:",
			"1) Do not recommend or invent a specific product.",
			"2) Suggest at most two alternatives drawn from the available options.",
			"3) End with one question inviting them to change a preference.",
		}, "\n"),
		Human: humanInput(transcript, prefs),
	}
}

// GeneralInfo answers questions that are not a product consultation.
func GeneralInfo(transcript string) domain.Prompt {
	return domain.Prompt{
		System: strings.Join([]string{
			persona(),
			"",
			"Task:",
			"Answer the customer's latest message. It is a general question about the store,",
			"jewelry care, materials, shipping or small talk, not a request for a product.",
			"",
			"Behavior Rules:",
			"1) Keep the answer short and helpful.",
			"2) Do not recommend specific products or quote prices.",
			"3) If the question is unrelated to jewelry or the store, politely steer back to how you can help.",
			"4) If you do not know, say so instead of guessing.",
		}, "\n"),
		Human: "Conversation:\n" + transcript,
	}
}

func persona() string {
	return strings.Join([]string{
		"Role:",
		"You are a warm, knowledgeable jewelry consultant for an online fine jewelry store.",
		"Write plain text for a chat window. No markdown headings.",
	}, "\n")
}

func humanInput(transcript string, prefs domain.PreferenceSet) string {
	known := prefs.Known()
	if len(known) == 0 {
		return "Conversation:\n" + transcript
	}
	lines := make([]string, 0, len(known))
	for _, kv := range known {
		lines = append(lines, fmt.Sprintf("- %s: %s", kv.Slot, kv.Value))
	}
	return "Known preferences:\n" + strings.Join(lines, "\n") + "\n\nConversation:\n" + transcript
}

func productDetails(p domain.CandidateProduct) string {
	lines := []string{
		"Collection: " + p.Collection,
		"Product ID: " + strconv.Itoa(p.ID),
	}
	for _, f := range []struct{ name, value string }{
		{"Category", p.Category},
		{"Stone", p.Stone},
		{"Metal", p.Metal},
		{"Image URL", p.ImageURL},
	} {
		if f.value != "" {
			lines = append(lines, f.name+": "+f.value)
		}
	}
	if len(p.Sizes) > 0 {
		sizes := make([]string, 0, len(p.Sizes))
		for _, s := range p.Sizes {
			sizes = append(sizes, fmt.Sprintf("%s: $%.2f", s.Size, s.Price))
		}
		lines = append(lines, "Sizes and prices: "+strings.Join(sizes, ", "))
	}
	if p.Rating > 0 {
		lines = append(lines, fmt.Sprintf("Average rating: %.1f stars", p.Rating))
	}
	return strings.Join(lines, "\n")
}

func normalizePromptInput(s string) string {
	return strings.Join(strings.Fields(strings.TrimSpace(s)), " ")
}
