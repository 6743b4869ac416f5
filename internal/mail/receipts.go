package mail

import (
	"fmt"
	"html"
	"strings"

	"eventportal/internal/donation"
	"eventportal/internal/token"
)

// RegistrationReceipt builds the e-mail for an issued registration token.
func RegistrationReceipt(portal string, r token.Receipt, receiptPNG []byte) Message {
	subject := fmt.Sprintf("%s: your registration for %s", portal, r.Event.Name)
	rows := [][2]string{
		{"Name", r.Student.Name},
		{"Event", r.Event.Name},
		{"When", r.Event.StartsAt.Format("02 Jan 2006 15:04")},
		{"Check-in code", r.Code},
	}
	if p := r.Payment; p != nil {
		rows = append(rows, [2]string{"Paid", fmt.Sprintf("%s %d", p.Currency, p.Amount)})
	}
	return Message{
		ToEmail:     r.Student.Email,
		ToName:      r.Student.Name,
		Subject:     subject,
		HTML:        htmlBody(portal, "Show the attached receipt or the code below at the entrance.", rows),
		Text:        textBody(portal, rows),
		Attachments: []Attachment{{Name: "receipt-" + r.Code + ".png", Content: receiptPNG}},
	}
}

// DonationReceipt builds the thank-you e-mail for a captured donation.
// The donor always gets their own name, even for anonymous gifts.
func DonationReceipt(portal string, d donation.Donation, category string, receiptPNG []byte) Message {
	rows := [][2]string{
		{"Donor", d.DonorName},
		{"Amount", fmt.Sprintf("%s %d", d.Currency, d.Amount)},
		{"Category", category},
		{"Receipt", d.ID},
	}
	if d.PaymentID != "" {
		rows = append(rows, [2]string{"Payment", d.PaymentID})
	}
	return Message{
		ToEmail:     d.DonorEmail,
		ToName:      d.DonorName,
		Subject:     fmt.Sprintf("%s: thank you for your donation", portal),
		HTML:        htmlBody(portal, "Thank you for your support. Your receipt is attached.", rows),
		Text:        textBody(portal, rows),
		Attachments: []Attachment{{Name: "donation-" + d.ID + ".png", Content: receiptPNG}},
	}
}

func htmlBody(portal, intro string, rows [][2]string) string {
	var b strings.Builder
	b.WriteString(`<!DOCTYPE html><html><head><meta charset="UTF-8"></head>`)
	b.WriteString(`<body style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">`)
	fmt.Fprintf(&b, `<h2 style="color: #333;">%s</h2><p style="color: #666;">%s</p><table>`, html.EscapeString(portal), html.EscapeString(intro))
	for _, r := range rows {
		fmt.Fprintf(&b, `<tr><td style="color: #999; padding-right: 12px;">%s</td><td>%s</td></tr>`, html.EscapeString(r[0]), html.EscapeString(r[1]))
	}
	b.WriteString(`</table></body></html>`)
	return b.String()
}

func textBody(portal string, rows [][2]string) string {
	var b strings.Builder
	b.WriteString(portal + "\n\n")
	for _, r := range rows {
		fmt.Fprintf(&b, "%s: %s\n", r[0], r[1])
	}
	return b.String()
}
