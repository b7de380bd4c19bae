package domain

import "context"

// OrderRepository описывает требования к хранилищу заказов.
type OrderRepository interface {
	// Save сохраняет заказ. При нулевом ID создаёт запись и присваивает
	// идентификатор; иначе перезаписывает с учётом optimistic locking и
	// инкрементирует Version. Возвращает сохранённый заказ.
	Save(ctx context.Context, order Order) (Order, error)
	// FindByID возвращает заказ по идентификатору или ErrOrderNotFound.
	FindByID(ctx context.Context, id int64) (Order, error)
	// FindByOrderNumber возвращает заказ по внешнему номеру или ErrOrderNotFound.
	FindByOrderNumber(ctx context.Context, number string) (Order, error)
	// StreamByStatus лениво отдаёт заказы с указанным статусом в естественном
	// порядке сканирования. limit > 0 ограничивает выборку; limit == 0 — без
	// ограничения. Канал закрывается по исчерпании или при отмене ctx.
	StreamByStatus(ctx context.Context, status OrderStatus, limit int) (<-chan Order, error)
	// UpdateStatus выполняет условное обновление статуса и возвращает число
	// затронутых строк. Ноль строк означает отсутствие записи; запись никогда
	// не создаётся.
	UpdateStatus(ctx context.Context, id int64, status OrderStatus) (int64, error)
}
