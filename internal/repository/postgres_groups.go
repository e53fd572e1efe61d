package repository

import (
	"context"
	"fmt"

	"github.com/mmeshcher/groupbuy/internal/apperrors"
	"github.com/mmeshcher/groupbuy/internal/model"
)

const groupColumns = `id::text, name, created_by::text, pickup_location, lat, lon, target_pickup_time,
	confirmation_deadline, min_members, max_members, status, total_value, estimated_savings, created_at`

func scanGroup(row rowScanner) (*model.BuyingGroup, error) {
	var (
		g              model.BuyingGroup
		total, savings int64
	)
	err := row.Scan(&g.ID, &g.Name, &g.CreatedBy, &g.PickupLocation, &g.Location.Lat, &g.Location.Lon,
		&g.TargetPickupTime, &g.ConfirmationDeadline, &g.MinMembers, &g.MaxMembers, &g.Status,
		&total, &savings, &g.CreatedAt)
	if err != nil {
		return nil, err
	}
	g.TotalValue = fromCents(total)
	g.EstimatedSavings = fromCents(savings)
	return &g, nil
}

// CreateGroup сохраняет новую группу. Участники добавляются отдельно через AddMember.
func (t *pgTx) CreateGroup(ctx context.Context, g *model.BuyingGroup) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO buying_groups (id, name, created_by, pickup_location, lat, lon, target_pickup_time,
			confirmation_deadline, min_members, max_members, status, total_value, estimated_savings, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		g.ID, g.Name, g.CreatedBy, g.PickupLocation, g.Location.Lat, g.Location.Lon, g.TargetPickupTime,
		g.ConfirmationDeadline, g.MinMembers, g.MaxMembers, g.Status,
		toCents(g.TotalValue), toCents(g.EstimatedSavings), g.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert group: %w", err)
	}
	return nil
}

// GetGroup возвращает группу без списка участников.
func (t *pgTx) GetGroup(ctx context.Context, id string) (*model.BuyingGroup, error) {
	g, err := scanGroup(t.q.QueryRow(ctx, `SELECT `+groupColumns+` FROM buying_groups WHERE id = $1`, id))
	if err != nil {
		return nil, scanErr(err, "group", id)
	}
	return g, nil
}

// LockGroup возвращает группу и блокирует её строку до конца транзакции.
func (t *pgTx) LockGroup(ctx context.Context, id string) (*model.BuyingGroup, error) {
	g, err := scanGroup(t.q.QueryRow(ctx, `SELECT `+groupColumns+` FROM buying_groups WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, scanErr(err, "group", id)
	}
	return g, nil
}

// UpdateGroup сохраняет статус и агрегаты группы.
func (t *pgTx) UpdateGroup(ctx context.Context, g *model.BuyingGroup) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE buying_groups SET status = $2, total_value = $3, estimated_savings = $4 WHERE id = $1`,
		g.ID, g.Status, toCents(g.TotalValue), toCents(g.EstimatedSavings),
	)
	if err != nil {
		return fmt.Errorf("update group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: group %s", apperrors.ErrNotFound, g.ID)
	}
	return nil
}

// ListGroupsByStatus возвращает группы с указанным статусом в порядке создания.
func (t *pgTx) ListGroupsByStatus(ctx context.Context, status model.GroupStatus) ([]model.BuyingGroup, error) {
	rows, err := t.q.Query(ctx,
		`SELECT `+groupColumns+` FROM buying_groups WHERE status = $1 ORDER BY created_at, id`, status)
	if err != nil {
		return nil, fmt.Errorf("select groups: %w", err)
	}
	defer rows.Close()

	var res []model.BuyingGroup
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		res = append(res, *g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// AddMember добавляет покупателя в группу.
func (t *pgTx) AddMember(ctx context.Context, m model.GroupMembership) error {
	_, err := t.q.Exec(ctx,
		`INSERT INTO group_memberships (group_id, buyer_id, is_confirmed, joined_at) VALUES ($1, $2, $3, $4)`,
		m.GroupID, m.BuyerID, m.IsConfirmed, m.JoinedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: buyer %s in group %s", apperrors.ErrDuplicateMembership, m.BuyerID, m.GroupID)
		}
		return fmt.Errorf("insert membership: %w", err)
	}
	return nil
}

// RemoveMember удаляет покупателя из группы и сообщает, был ли он участником.
func (t *pgTx) RemoveMember(ctx context.Context, groupID, buyerID string) (bool, error) {
	tag, err := t.q.Exec(ctx,
		`DELETE FROM group_memberships WHERE group_id = $1 AND buyer_id = $2`, groupID, buyerID)
	if err != nil {
		return false, fmt.Errorf("delete membership: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListMembers возвращает участников группы в порядке вступления.
func (t *pgTx) ListMembers(ctx context.Context, groupID string) ([]model.GroupMembership, error) {
	rows, err := t.q.Query(ctx,
		`SELECT group_id::text, buyer_id::text, is_confirmed, joined_at
		 FROM group_memberships
		 WHERE group_id = $1
		 ORDER BY joined_at, buyer_id`,
		groupID,
	)
	if err != nil {
		return nil, fmt.Errorf("select memberships: %w", err)
	}
	defer rows.Close()

	var res []model.GroupMembership
	for rows.Next() {
		var m model.GroupMembership
		if err := rows.Scan(&m.GroupID, &m.BuyerID, &m.IsConfirmed, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		res = append(res, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// CountMembers возвращает число участников группы.
func (t *pgTx) CountMembers(ctx context.Context, groupID string) (int, error) {
	var n int
	err := t.q.QueryRow(ctx, `SELECT count(*) FROM group_memberships WHERE group_id = $1`, groupID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count memberships: %w", err)
	}
	return n, nil
}

// ListGroupIDsByMember возвращает идентификаторы групп, в которых состоит покупатель.
func (t *pgTx) ListGroupIDsByMember(ctx context.Context, buyerID string) ([]string, error) {
	rows, err := t.q.Query(ctx,
		`SELECT group_id::text FROM group_memberships WHERE buyer_id = $1 ORDER BY group_id`, buyerID)
	if err != nil {
		return nil, fmt.Errorf("select member groups: %w", err)
	}
	defer rows.Close()

	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan group id: %w", err)
		}
		res = append(res, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
