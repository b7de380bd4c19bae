package memory_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/upside/order-processing/internal/domain"
	"github.com/upside/order-processing/internal/storage/memory"
)

func newOrder(number string) domain.Order {
	return domain.Order{
		OrderNumber: number,
		Status:      domain.OrderStatusPending,
		TotalAmount: decimal.NewFromInt(100),
		CustomerID:  "customer-1",
		ProductID:   "product-1",
		Quantity:    1,
	}
}

func TestOrderRepository_SaveAssignsID(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()

	first, err := repo.Save(ctx, newOrder("ORD-001"))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	second, err := repo.Save(ctx, newOrder("ORD-002"))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	if first.ID == 0 || second.ID == 0 {
		t.Fatal("expected assigned ids")
	}
	if first.ID == second.ID {
		t.Fatalf("expected distinct ids, got %d twice", first.ID)
	}
	if first.Version != 1 {
		t.Fatalf("expected version 1 on create, got %d", first.Version)
	}
}

func TestOrderRepository_FindByOrderNumber(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()

	saved, err := repo.Save(ctx, newOrder("ORD-001"))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	stored, err := repo.FindByOrderNumber(ctx, "ORD-001")
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if stored.ID != saved.ID {
		t.Fatalf("expected id %d, got %d", saved.ID, stored.ID)
	}

	if _, err := repo.FindByOrderNumber(ctx, "ORD-404"); !domain.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestOrderRepository_SaveVersionConflict(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()

	saved, err := repo.Save(ctx, newOrder("ORD-001"))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	saved.Version = 42
	if _, err := repo.Save(ctx, saved); !domain.IsVersionConflict(err) {
		t.Fatalf("expected version conflict, got %v", err)
	}
}

func TestOrderRepository_SaveIncrementsVersion(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()

	saved, err := repo.Save(ctx, newOrder("ORD-001"))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	saved.Status = domain.OrderStatusProcessing
	updated, err := repo.Save(ctx, saved)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if updated.Version != saved.Version+1 {
		t.Fatalf("expected version %d, got %d", saved.Version+1, updated.Version)
	}
}

func TestOrderRepository_UpdateStatus(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()

	saved, err := repo.Save(ctx, newOrder("ORD-001"))
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	affected, err := repo.UpdateStatus(ctx, saved.ID, domain.OrderStatusCompleted)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if affected != 1 {
		t.Fatalf("expected 1 affected row, got %d", affected)
	}

	stored, err := repo.FindByID(ctx, saved.ID)
	if err != nil {
		t.Fatalf("find failed: %v", err)
	}
	if stored.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected COMPLETED, got %s", stored.Status)
	}
	if stored.Version != saved.Version+1 {
		t.Fatalf("expected version increment, got %d", stored.Version)
	}
}

func TestOrderRepository_UpdateStatusMissing(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()

	affected, err := repo.UpdateStatus(ctx, 9999, domain.OrderStatusCompleted)
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if affected != 0 {
		t.Fatalf("expected 0 affected rows, got %d", affected)
	}
	if _, err := repo.FindByID(ctx, 9999); !domain.IsNotFound(err) {
		t.Fatal("update must not create a record")
	}
}

func TestOrderRepository_StreamByStatus(t *testing.T) {
	repo := memory.NewOrderRepository()
	ctx := context.Background()

	for _, number := range []string{"ORD-001", "ORD-002", "ORD-003"} {
		if _, err := repo.Save(ctx, newOrder(number)); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	stream, err := repo.StreamByStatus(ctx, domain.OrderStatusPending, 2)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	var numbers []string
	for order := range stream {
		numbers = append(numbers, order.OrderNumber)
	}
	if len(numbers) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(numbers))
	}
	// Порядок вставки сохраняется.
	if numbers[0] != "ORD-001" || numbers[1] != "ORD-002" {
		t.Fatalf("unexpected scan order: %v", numbers)
	}
}

func TestOrderRepository_StreamByStatusEmpty(t *testing.T) {
	repo := memory.NewOrderRepository()

	stream, err := repo.StreamByStatus(context.Background(), domain.OrderStatusPending, 0)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}

	count := 0
	for range stream {
		count++
	}
	if count != 0 {
		t.Fatalf("expected empty stream, got %d orders", count)
	}
}
