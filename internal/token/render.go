package token

import (
	"fmt"

	"eventportal/internal/receiptimg"
)

// ReceiptPNG renders the printable registration receipt with the token
// barcode.
func ReceiptPNG(r Receipt, portalName string) ([]byte, error) {
	card := receiptimg.Card{
		Title:    portalName,
		Subtitle: "Registration receipt",
		Lines:    receiptLines(r),
		Code:     r.Code,
	}
	if r.IsUsed {
		card.Stamp = "CHECKED IN"
	}
	return receiptimg.Render(card)
}

func receiptLines(r Receipt) []string {
	lines := []string{
		"Name:    " + r.Student.Name,
		"Email:   " + r.Student.Email,
		"Phone:   " + r.Student.Phone,
		"Event:   " + r.Event.Name,
		"When:    " + r.Event.StartsAt.Format("02 Jan 2006 15:04") + " - " + r.Event.EndsAt.Format("02 Jan 2006 15:04"),
	}
	if r.Event.FoodIncluded {
		lines = append(lines, "Food:    included")
	}
	if p := r.Payment; p != nil {
		lines = append(lines, fmt.Sprintf("Paid:    %s %d (%s, %s)", p.Currency, p.Amount, p.Method, p.Status))
		if p.PaymentID != "" {
			lines = append(lines, "Ref:     "+p.PaymentID)
		}
	}
	return lines
}
