package errors

// StockShortfall reports why a stock reduction was refused.
type StockShortfall struct {
	StockUnitID string `json:"stock_unit_id"`
	Available   int    `json:"available"`
	Requested   int    `json:"requested"`
}

// TransitionDetails reports a rejected order status change.
type TransitionDetails struct {
	CurrentStatus   string `json:"current_status"`
	RequestedStatus string `json:"requested_status"`
}

// InsufficientStock builds the error returned when a unit cannot cover a request.
func InsufficientStock(unitID string, available, requested int) *Error {
	return New(CodeInsufficientStock, "insufficient stock").WithDetails(StockShortfall{
		StockUnitID: unitID,
		Available:   available,
		Requested:   requested,
	})
}

// InvalidTransition builds the error returned when the order state machine rejects a move.
func InvalidTransition(current, requested string) *Error {
	return Newf(CodeInvalidTransition, "cannot move order from %s to %s", current, requested).WithDetails(TransitionDetails{
		CurrentStatus:   current,
		RequestedStatus: requested,
	})
}

// External wraps a payment processor failure.
func External(err error, message string) *Error {
	return Wrap(CodeExternalService, err, message)
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code Code) bool {
	typed := As(err)
	return typed != nil && typed.Code() == code
}
