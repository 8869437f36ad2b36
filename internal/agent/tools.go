package agent

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/nmogil-tw/twilio-openai-conversations/internal/config"
)

// Tool names as recorded in AgentResponse.ToolsUsed.
const (
	ToolLookupOrderStatus = "lookup_order_status"
	ToolGetProductInfo    = "get_product_info"
	ToolCheckStoreHours   = "check_store_hours"
	ToolGetStoreLocations = "get_store_locations"
	ToolSearchFAQ         = "search_faq"
)

var orderIDPattern = regexp.MustCompile(`(?i)order\s*(?:number|id|#)?\s*#?(\d{4,})`)

// Tools are the built-in lookups the agent can answer from directly, without
// a model round trip. Each returns the answer and whether it matched.
type Tools struct {
	kb     config.KnowledgeBase
	logger *slog.Logger
}

// NewTools builds the toolset over the configured knowledge base.
func NewTools(kb config.KnowledgeBase, logger *slog.Logger) *Tools {
	return &Tools{kb: kb, logger: logger}
}

// Route matches a customer message against the built-in tools. It returns the
// tool's answer and name on a match, or ok=false to fall through to the model.
func (t *Tools) Route(message string) (answer, tool string, ok bool) {
	lower := strings.ToLower(message)

	if m := orderIDPattern.FindStringSubmatch(message); m != nil {
		return t.LookupOrderStatus(m[1]), ToolLookupOrderStatus, true
	}
	if strings.Contains(lower, "store hours") || strings.Contains(lower, "are you open") ||
		strings.Contains(lower, "opening hours") {
		return t.CheckStoreHours(dayIn(lower)), ToolCheckStoreHours, true
	}
	if strings.Contains(lower, "store location") || strings.Contains(lower, "nearest store") {
		return t.GetStoreLocations(""), ToolGetStoreLocations, true
	}
	if strings.Contains(lower, "product") || strings.Contains(lower, "iphone") ||
		strings.Contains(lower, "laptop") {
		return t.GetProductInfo(message), ToolGetProductInfo, true
	}
	if answer, topic, found := t.SearchFAQ(lower); found {
		t.logger.Debug("agent: faq matched", "topic", topic)
		return answer, ToolSearchFAQ, true
	}
	return "", "", false
}

func dayIn(lower string) string {
	for _, day := range []string{"monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday"} {
		if strings.Contains(lower, day) {
			return day
		}
	}
	return ""
}

// LookupOrderStatus reports the status of an order by ID.
func (t *Tools) LookupOrderStatus(orderID string) string {
	t.logger.Debug("agent: order lookup", "order_id", orderID)
	// TODO: back this with the order service once its API is available;
	// until then answers come from the canned demo set.
	switch orderID {
	case "12345":
		return "Order #12345 has shipped! Tracking: 1Z123456789. Expected delivery: Thursday"
	case "67890":
		return "Order #67890 is currently processing. Expected delivery: 3-5 business days"
	}
	return fmt.Sprintf("I couldn't find an order with ID #%s. Please check the order number and try again.", orderID)
}

// GetProductInfo answers product questions from the catalog.
func (t *Tools) GetProductInfo(productName string) string {
	lower := strings.ToLower(productName)
	switch {
	case strings.Contains(lower, "iphone") && strings.Contains(lower, "case"):
		return "iPhone cases available: Clear MagSafe ($29.99), Leather ($49.99), Silicone ($39.99). All cases compatible with wireless charging."
	case strings.Contains(lower, "laptop"):
		return "Laptop selection includes MacBook Air ($999), MacBook Pro ($1299), and Windows laptops starting at $599. All include 1-year warranty."
	}
	return fmt.Sprintf("I can help you find information about %s. Please visit our website or contact customer service for detailed product specs.", productName)
}

// CheckStoreHours answers hours questions, optionally for a specific day.
func (t *Tools) CheckStoreHours(day string) string {
	hours := func(key, fallback string) string {
		if v, ok := t.kb.StoreHours[key]; ok && v != "" {
			return v
		}
		return fallback
	}
	weekdays := hours("weekdays", "9:00 AM - 9:00 PM")
	saturday := hours("saturday", "9:00 AM - 8:00 PM")
	sunday := hours("sunday", "11:00 AM - 6:00 PM")

	switch day {
	case "monday", "tuesday", "wednesday", "thursday", "friday":
		return fmt.Sprintf("We're open %s on weekdays.", weekdays)
	case "saturday":
		return "Saturday hours: " + saturday
	case "sunday":
		return "Sunday hours: " + sunday
	}
	return fmt.Sprintf("Store hours: Weekdays %s, Saturday %s, Sunday %s", weekdays, saturday, sunday)
}

// GetStoreLocations answers location questions, optionally for a city.
func (t *Tools) GetStoreLocations(city string) string {
	if city != "" {
		return fmt.Sprintf("We have several locations in %s. For specific addresses and hours, please visit our store locator at acme.com/stores or call 1-800-ACME-HELP.", city)
	}
	return "We have stores nationwide! Visit acme.com/stores to find the location nearest you, or call 1-800-ACME-HELP for assistance."
}

// SearchFAQ looks for a canned answer matching the query. Configured FAQ
// topics take precedence over the built-in set.
func (t *Tools) SearchFAQ(query string) (answer, topic string, found bool) {
	lower := strings.ToLower(query)
	for topic, answer := range t.kb.FAQ {
		if strings.Contains(lower, strings.ToLower(topic)) {
			return answer, topic, true
		}
	}
	switch {
	case strings.Contains(lower, "shipping"):
		return "Shipping: Free standard shipping on orders over $50. Express shipping available for $9.99. Most orders ship within 1-2 business days.", "shipping", true
	case strings.Contains(lower, "return"):
		return "Returns: 30-day return policy on most items. Items must be in original condition. Return shipping is free for exchanges.", "returns", true
	case strings.Contains(lower, "payment"):
		return "Payment: We accept all major credit cards, PayPal, Apple Pay, and Google Pay. Payment is processed securely at checkout.", "payment", true
	}
	return "", "", false
}
