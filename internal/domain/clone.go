package domain

// Clone returns a deep copy of the product.
func (p Product) Clone() Product {
	out := p
	out.DiscountPrice = cloneValue(p.DiscountPrice)
	out.Stock = p.Stock.Clone()
	out.Images = append([]string(nil), p.Images...)
	if len(p.Variants) > 0 {
		out.Variants = make([]ProductVariant, len(p.Variants))
		for i, variant := range p.Variants {
			variant.Images = append([]string(nil), variant.Images...)
			out.Variants[i] = variant
		}
	}
	return out
}

// Clone returns a deep copy of the cart.
func (c Cart) Clone() Cart {
	out := c
	if c.Lines != nil {
		out.Lines = make([]CartLine, len(c.Lines))
		for i, line := range c.Lines {
			copied := make(CartLine, len(line))
			for key, value := range line {
				copied[key] = value
			}
			out.Lines[i] = copied
		}
	}
	return out
}

// Clone returns a deep copy of the coupon.
func (c Coupon) Clone() Coupon {
	out := c
	out.MinOrderAmount = cloneValue(c.MinOrderAmount)
	out.MaxDiscount = cloneValue(c.MaxDiscount)
	out.UsageLimit = cloneValue(c.UsageLimit)
	out.UserIDs = append([]string(nil), c.UserIDs...)
	return out
}

// Clone returns a deep copy of the ledger row.
func (u UserCoupon) Clone() UserCoupon {
	out := u
	out.UsedAt = cloneValue(u.UsedAt)
	out.OrderID = cloneValue(u.OrderID)
	return out
}

// Clone returns a deep copy of the order.
func (o Order) Clone() Order {
	out := o
	out.Items = append([]OrderItem(nil), o.Items...)
	out.TrackingID = cloneValue(o.TrackingID)
	out.CouponID = cloneValue(o.CouponID)
	out.CouponCode = cloneValue(o.CouponCode)
	out.ShippedAt = cloneValue(o.ShippedAt)
	out.DeliveredAt = cloneValue(o.DeliveredAt)
	out.CancelledAt = cloneValue(o.CancelledAt)
	return out
}

func cloneValue[T any](value *T) *T {
	if value == nil {
		return nil
	}
	copied := *value
	return &copied
}
