package workflow

import (
	"fmt"

	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/models"
	"github.com/KalpanieErandika/CosmoMed-Navigator-sub001/internal/notify"
)

func orderPlacedMessage(order *models.Order, pharmacist, customer *models.User) notify.Message {
	return notify.Message{
		RecipientID:    pharmacist.ID,
		RecipientEmail: pharmacist.Email,
		RecipientName:  pharmacist.Name,
		Title:          "New order received",
		Body: fmt.Sprintf("Order %s for %d x %s is waiting for your review.",
			order.OrderNumber, order.Quantity, order.MedicineName),
		TemplateKey: notify.TemplateOrderPlaced,
		OrderID:     order.ID,
		Data: map[string]any{
			"OrderNumber":  order.OrderNumber,
			"Quantity":     order.Quantity,
			"MedicineName": order.MedicineName,
			"CustomerName": customer.Name,
		},
	}
}

func orderApprovedMessage(order *models.Order, customer, pharmacist *models.User) notify.Message {
	total := order.Total.StringFixed(2)
	return notify.Message{
		RecipientID:    customer.ID,
		RecipientEmail: customer.Email,
		RecipientName:  customer.Name,
		Title:          "Order approved",
		Body: fmt.Sprintf("Your order %s for %s was approved. Total: %s. Contact %s at %s.",
			order.OrderNumber, order.MedicineName, total, pharmacist.Name, pharmacist.Email),
		TemplateKey: notify.TemplateOrderApproved,
		OrderID:     order.ID,
		Data: map[string]any{
			"OrderNumber":     order.OrderNumber,
			"Quantity":        order.Quantity,
			"MedicineName":    order.MedicineName,
			"Total":           total,
			"PharmacistName":  pharmacist.Name,
			"PharmacistEmail": pharmacist.Email,
			"PharmacistPhone": pharmacist.Phone,
		},
	}
}

func orderRejectedMessage(order *models.Order, customer *models.User) notify.Message {
	reason := ""
	if order.RejectionReason != nil {
		reason = *order.RejectionReason
	}
	return notify.Message{
		RecipientID:    customer.ID,
		RecipientEmail: customer.Email,
		RecipientName:  customer.Name,
		Title:          "Order rejected",
		Body:           fmt.Sprintf("Your order %s for %s was rejected: %s", order.OrderNumber, order.MedicineName, reason),
		TemplateKey:    notify.TemplateOrderRejected,
		OrderID:        order.ID,
		Data: map[string]any{
			"OrderNumber":  order.OrderNumber,
			"MedicineName": order.MedicineName,
			"Reason":       reason,
		},
	}
}
