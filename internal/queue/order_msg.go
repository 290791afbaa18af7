package queue

import (
	"fmt"
	"strconv"
)

// OrderMessage 订单流/事件中的订单载荷。
type OrderMessage struct {
	OrderID   int64 `json:"order_id"`
	VoucherID uint  `json:"voucher_id"`
	UserID    int64 `json:"user_id"`
	Amount    int64 `json:"amount"` // 分
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (m OrderMessage) Validate() error {
	if m.OrderID <= 0 {
		return fmt.Errorf("order_id is required")
	}
	if m.VoucherID == 0 {
		return fmt.Errorf("voucher_id is required")
	}
	if m.UserID <= 0 {
		return fmt.Errorf("user_id is required")
	}
	if m.Amount <= 0 {
		return fmt.Errorf("amount must be > 0")
	}
	return nil
}

// parseOrderEntry 解析 Stream 条目字段为订单消息。
func parseOrderEntry(values map[string]interface{}) (OrderMessage, error) {
	orderStr, err := getStreamString(values, "order_id")
	if err != nil {
		return OrderMessage{}, err
	}
	voucherStr, err := getStreamString(values, "voucher_id")
	if err != nil {
		return OrderMessage{}, err
	}
	userStr, err := getStreamString(values, "user_id")
	if err != nil {
		return OrderMessage{}, err
	}
	amountStr, err := getStreamString(values, "amount")
	if err != nil {
		return OrderMessage{}, err
	}

	orderID, err := strconv.ParseInt(orderStr, 10, 64)
	if err != nil {
		return OrderMessage{}, fmt.Errorf("invalid order_id %q", orderStr)
	}
	voucherID64, err := strconv.ParseUint(voucherStr, 10, 64)
	if err != nil {
		return OrderMessage{}, fmt.Errorf("invalid voucher_id %q", voucherStr)
	}
	userID, err := strconv.ParseInt(userStr, 10, 64)
	if err != nil {
		return OrderMessage{}, fmt.Errorf("invalid user_id %q", userStr)
	}
	amount, err := strconv.ParseInt(amountStr, 10, 64)
	if err != nil {
		return OrderMessage{}, fmt.Errorf("invalid amount %q", amountStr)
	}

	msg := OrderMessage{
		OrderID:   orderID,
		VoucherID: uint(voucherID64),
		UserID:    userID,
		Amount:    amount,
	}
	if err := msg.Validate(); err != nil {
		return OrderMessage{}, err
	}
	return msg, nil
}

func getStreamString(values map[string]interface{}, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing field %s", key)
	}
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatInt(int64(x), 10), nil
	default:
		return "", fmt.Errorf("unsupported field type %s: %T", key, v)
	}
}
