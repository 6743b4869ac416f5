package donation

import (
	"fmt"

	"eventportal/internal/receiptimg"
)

// ReceiptPNG renders the printable donation receipt.
func ReceiptPNG(v ReceiptView, portalName string) ([]byte, error) {
	lines := []string{
		"Receipt:  " + v.ID,
		"Donor:    " + v.DonorName,
		fmt.Sprintf("Amount:   %s %d", v.Currency, v.Amount),
		"Category: " + v.CategoryName,
		"Date:     " + v.CreatedAt.Format("02 Jan 2006"),
		"Status:   " + v.Status,
	}
	if v.PaymentID != "" {
		lines = append(lines, "Ref:      "+v.PaymentID)
	}
	card := receiptimg.Card{
		Title:    portalName,
		Subtitle: "Donation receipt",
		Lines:    lines,
	}
	if v.Status == StatusRefunded {
		card.Stamp = "REFUNDED"
	}
	return receiptimg.Render(card)
}
