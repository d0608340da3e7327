package domain

import (
	"context"
	"time"
)

// OrderRepository описывает транзакционное хранилище заказов и остатков.
// Все мутации сток/статус выполняются атомарно внутри реализации.
type OrderRepository interface {
	// Create блокирует товары в порядке возрастания id, проверяет остатки,
	// списывает их и сохраняет заказ со статусом CREATED.
	Create(ctx context.Context, customerID int64, items []OrderItemInput) (Order, error)
	// Get возвращает заказ с позициями или ErrOrderNotFound.
	Get(ctx context.Context, id int64) (Order, error)
	// Confirm переводит CREATED→CONFIRMED условным UPDATE.
	// Если строка не подошла, возвращает ErrConfirmNoop.
	Confirm(ctx context.Context, id int64) (Order, error)
	// Cancel возвращает сток и ставит CANCELED. Возвращает false, если заказ не найден или не в CREATED.
	Cancel(ctx context.Context, id int64) (bool, error)
	// Search выполняет keyset-поиск без позиций.
	Search(ctx context.Context, filter SearchFilter) ([]Order, error)
	// ListStale возвращает заказы CREATED, созданные раньше createdBefore.
	ListStale(ctx context.Context, createdBefore time.Time, limit int) ([]Order, error)
}

// CustomerRepository читает профиль клиента по id для внутреннего эндпоинта реестра.
type CustomerRepository interface {
	Get(ctx context.Context, id int64) (Customer, error)
}
