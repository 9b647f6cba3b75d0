package notify

import (
	"fmt"
	"strings"

	"savannah-commerce/internal/errs"
	"savannah-commerce/internal/models"
)

var statusPhrases = map[string]string{
	models.OrderStatusPending:    "is pending confirmation",
	models.OrderStatusProcessing: "is being processed",
	models.OrderStatusShipped:    "has been shipped",
	models.OrderStatusDelivered:  "has been delivered",
	models.OrderStatusCancelled:  "has been cancelled",
}

// confirmationSMS is the customer text for a freshly placed order.
func confirmationSMS(ev *models.OrderCreatedEvent) string {
	return fmt.Sprintf(
		"Thank you for your order #%s! Total amount: $%s. We'll notify you when your order is processed.",
		ev.OrderNumber, ev.TotalAmount.StringFixed(2))
}

// statusSMS is the customer text for a status change, keyed by the new
// status. Shipped orders get the order number as a tracking reference;
// delivered orders get a thank-you line.
func statusSMS(ev *models.OrderStatusChangedEvent) string {
	phrase, ok := statusPhrases[ev.NewStatus]
	if !ok {
		phrase = "status has been updated"
	}

	msg := fmt.Sprintf("Order #%s %s. ", ev.OrderNumber, phrase)
	switch ev.NewStatus {
	case models.OrderStatusShipped:
		msg += fmt.Sprintf("Track your order with number: %s", ev.OrderNumber)
	case models.OrderStatusDelivered:
		msg += "Thank you for shopping with us!"
	}
	return msg
}

// newOrderEmail builds the admin notification for a created order, listing
// every line item.
func newOrderEmail(ev *models.OrderCreatedEvent) (subject, body string) {
	subject = fmt.Sprintf("New Order #%s Received", ev.OrderNumber)

	var b strings.Builder
	b.WriteString("New Order Received!\n")
	b.WriteString("------------------\n")
	fmt.Fprintf(&b, "Order Number: %s\n", ev.OrderNumber)
	fmt.Fprintf(&b, "Customer: %d\n", ev.CustomerID)
	fmt.Fprintf(&b, "Phone: %s\n", ev.CustomerPhone)
	fmt.Fprintf(&b, "Total Amount: $%s\n", ev.TotalAmount.StringFixed(2))
	fmt.Fprintf(&b, "Shipping Address: %s\n", ev.ShippingAddress)
	fmt.Fprintf(&b, "Date: %s\n", ev.CreatedAt.Format("2006-01-02 15:04:05"))
	b.WriteString("\nItems:\n------\n")
	for _, item := range ev.Items {
		fmt.Fprintf(&b, "- %dx %s @ $%s each\n",
			item.Quantity, item.ProductName, item.UnitPrice.StringFixed(2))
	}
	b.WriteString("\nPlease process this order as soon as possible.\n")
	return subject, b.String()
}

// statusChangeEmail builds the admin notification for a status transition.
func statusChangeEmail(ev *models.OrderStatusChangedEvent) (subject, body string) {
	subject = fmt.Sprintf("Order #%s - %s", ev.OrderNumber, titleCase(ev.NewStatus))

	var b strings.Builder
	b.WriteString("Order Status Update\n")
	b.WriteString("-------------------\n")
	fmt.Fprintf(&b, "Order Number: %s\n", ev.OrderNumber)
	fmt.Fprintf(&b, "Status: %s (was %s)\n", ev.NewStatus, ev.OldStatus)
	fmt.Fprintf(&b, "Customer: %d\n", ev.CustomerID)
	fmt.Fprintf(&b, "Phone: %s\n", ev.CustomerPhone)
	fmt.Fprintf(&b, "Total Amount: $%s\n", ev.TotalAmount.StringFixed(2))
	fmt.Fprintf(&b, "Shipping Address: %s\n", ev.ShippingAddress)
	return subject, b.String()
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// NormalizePhone converts a stored phone number into a dispatchable +digits
// form. A number starting with 0 gets defaultRegion (e.g. "+254") in place
// of the leading zero. Fails when the result is not a plausible E.164
// number.
func NormalizePhone(phone, defaultRegion string) (string, error) {
	var digits strings.Builder
	for i, r := range phone {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r == '+' && i == 0:
			digits.WriteRune(r)
		case r == ' ' || r == '-' || r == '(' || r == ')':
			// separators are dropped
		default:
			return "", errs.Validation("phone", fmt.Sprintf("unexpected character %q", r))
		}
	}

	normalized := digits.String()
	switch {
	case normalized == "":
		return "", errs.Validation("phone", "empty number")
	case strings.HasPrefix(normalized, "+"):
		// already international
	case strings.HasPrefix(normalized, "0"):
		normalized = defaultRegion + normalized[1:]
	default:
		normalized = "+" + normalized
	}

	if n := len(strings.TrimPrefix(normalized, "+")); n < 7 || n > 15 {
		return "", errs.Validation("phone", "number length out of range")
	}
	return normalized, nil
}
