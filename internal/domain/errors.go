package domain

import "errors"

var (
	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = errors.New("order version conflict")
	// ErrPersistence — ошибка слоя хранения; конвейер её не ретраит.
	ErrPersistence = errors.New("persistence failure")
	// ErrUnknownStatus — строка не является допустимым статусом заказа.
	ErrUnknownStatus = errors.New("unknown order status")
	// ErrInvalidTransition — запрошенный переход статуса запрещён жизненным циклом.
	ErrInvalidTransition = errors.New("invalid status transition")
	// Ошибка отсутствующего номера заказа.
	ErrOrderNumberRequired = errors.New("order_number is required")
	// Ошибка при некорректном количестве товара (<= 0).
	ErrQuantityInvalid = errors.New("quantity must be greater than zero")
	// Ошибка отрицательной суммы заказа.
	ErrAmountNegative = errors.New("total_amount must be non-negative")
	// ErrValidation — обобщённая ошибка валидации входных параметров.
	ErrValidation = errors.New("validation failed")
	// ErrTooManyOrders — отказ по лимиту стресс-теста; возвращается как
	// структурированный результат, а не как инфраструктурный сбой.
	ErrTooManyOrders = errors.New("too many orders for stress test")
	// ErrStressAlreadyRunning — другой стресс-тест уже удерживает single-flight гарду.
	ErrStressAlreadyRunning = errors.New("stress test already running")
)

// IsNotFound проверяет, является ли ошибка отсутствием заказа.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrOrderNotFound)
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict)
}

// IsRejection сообщает, является ли ошибка отказом admission control
// (стресс-тест), отличимым от транзиентных сбоев инфраструктуры.
func IsRejection(err error) bool {
	return errors.Is(err, ErrTooManyOrders) || errors.Is(err, ErrStressAlreadyRunning)
}
