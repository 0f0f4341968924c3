package service

import (
	"storefront-checkout/internal/dto"
	"storefront-checkout/internal/model"
	"storefront-checkout/internal/money"
)

func toPaymentDTO(attempt *model.PaymentAttempt, order *model.Order) *dto.Payment {
	p := &dto.Payment{
		GatewayOrderID:   attempt.GatewayOrderID,
		Amount:           money.FromMinor(attempt.Amount),
		Currency:         attempt.Currency,
		Status:           string(attempt.Status),
		GatewayState:     attempt.GatewayState,
		ResponseCode:     attempt.ResponseCode,
		GatewayPaymentID: attempt.GatewayPaymentID,
		RedirectURL:      attempt.RedirectURL,
		ExpiresAt:        attempt.ExpiresAt,
		PaidAt:           attempt.PaidAt,
		FailureReason:    attempt.FailureReason,
		RefundedAmount:   money.FromMinor(attempt.RefundedAmount),
		CreatedAt:        attempt.CreatedAt,
	}

	for _, r := range attempt.Refunds {
		p.Refunds = append(p.Refunds, dto.Refund{
			RefundID:    r.RefundID,
			Amount:      money.FromMinor(r.Amount),
			Status:      string(r.Status),
			Reason:      r.Reason,
			CreatedAt:   r.CreatedAt,
			ProcessedAt: r.ProcessedAt,
		})
	}

	if order != nil {
		p.OrderNumber = order.OrderNumber
		p.OrderStatus = string(order.Status)
		p.PaymentStatus = string(order.PaymentStatus)
	}
	return p
}

func toOrderDTO(order *model.Order, attempt *model.PaymentAttempt) *dto.Order {
	o := &dto.Order{
		OrderNumber: order.OrderNumber,
		ShippingAddress: dto.ShippingAddress{
			FirstName: order.ShippingAddress.FirstName,
			LastName:  order.ShippingAddress.LastName,
			Email:     order.ShippingAddress.Email,
			Phone:     order.ShippingAddress.Phone,
			Street:    order.ShippingAddress.Street,
			City:      order.ShippingAddress.City,
			State:     order.ShippingAddress.State,
			ZipCode:   order.ShippingAddress.ZipCode,
		},
		ShippingMethod:    string(order.ShippingMethod),
		Subtotal:          money.FromMinor(order.Subtotal),
		ShippingCost:      money.FromMinor(order.ShippingCost),
		Total:             money.FromMinor(order.Total),
		Currency:          order.Currency,
		Status:            string(order.Status),
		PaymentStatus:     string(order.PaymentStatus),
		CoinsGiven:        order.CoinsGiven,
		Notes:             order.Notes,
		EstimatedDelivery: order.EstimatedDelivery,
		PaidAt:            order.PaidAt,
		CreatedAt:         order.CreatedAt,
	}

	for _, item := range order.Items {
		o.Items = append(o.Items, &dto.Item{
			ProductID: item.ProductID,
			Name:      item.Name,
			Price:     money.FromMinor(item.UnitPrice),
			Quantity:  item.Quantity,
			Image:     item.Image,
		})
	}

	if attempt != nil {
		o.Payment = toPaymentDTO(attempt, nil)
	}
	return o
}
